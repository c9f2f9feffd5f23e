// Package oauthflow runs the browser consent flow for adding an account:
// consent URL generation, code exchange and identity lookup.
package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotapanel/quotapanel/internal/credstore"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/transport"
)

const (
	clientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	clientSecret = "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"

	authURL     = "https://accounts.google.com/o/oauth2/auth"
	tokenURL    = "https://oauth2.googleapis.com/token"
	userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	// stateTTL bounds how long a pending consent URL stays redeemable.
	stateTTL = 5 * time.Minute
)

var scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// tokenResponse is the authorization-code grant response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type userInfo struct {
	Email string `json:"email"`
}

// Flow issues consent URLs and redeems callback codes into stored
// credentials. State tokens expire after five minutes and are single-use.
type Flow struct {
	client   transport.Requester
	creds    *credstore.Store
	tokenURL string
	infoURL  string
	now      func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

// Option configures a Flow.
type Option func(*Flow)

// WithEndpoints overrides the provider URLs, used by tests.
func WithEndpoints(token, info string) Option {
	return func(f *Flow) {
		f.tokenURL = token
		f.infoURL = info
	}
}

// WithClock overrides the flow's clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// New creates a consent flow.
func New(client transport.Requester, creds *credstore.Store, opts ...Option) *Flow {
	f := &Flow{
		client:   client,
		creds:    creds,
		tokenURL: tokenURL,
		infoURL:  userInfoURL,
		now:      time.Now,
		states:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AuthURL builds the consent URL for the given callback and registers a
// fresh state token for it.
func (f *Flow) AuthURL(redirectURI string) string {
	state := uuid.NewString()

	f.mu.Lock()
	f.states[state] = f.now().Add(stateTTL)
	f.mu.Unlock()

	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("access_type", "offline")
	params.Set("state", state)
	params.Set("prompt", "consent")

	return authURL + "?" + params.Encode()
}

// ConsumeState redeems a state token. A token works exactly once and only
// within its TTL.
func (f *Flow) ConsumeState(state string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	deadline, ok := f.states[state]
	if !ok {
		return false
	}
	delete(f.states, state)
	return f.now().Before(deadline)
}

// Exchange redeems an authorization code, resolves the account identity
// and stores the resulting credential. Returns the account email.
func (f *Flow) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")

	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	status, body, err := f.client.Request(ctx, http.MethodPost, f.tokenURL, headers, []byte(form.Encode()))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("token exchange failed: %d - %s", status, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("token exchange response: %w", err)
	}

	email, err := f.fetchEmail(ctx, tok.AccessToken)
	if err != nil {
		return "", err
	}

	now := f.now()
	cred := &models.Credential{
		Email:        email,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		Timestamp:    now.UnixMilli(),
		Expired:      now.Add(time.Duration(tok.ExpiresIn) * time.Second).UTC().Format(time.RFC3339),
		Type:         models.CredentialType,
	}

	path := f.creds.PathFor(email)
	if err := f.creds.Save(path, cred); err != nil {
		return "", err
	}
	return email, nil
}

func (f *Flow) fetchEmail(ctx context.Context, accessToken string) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	status, body, err := f.client.Request(ctx, http.MethodGet, f.infoURL, headers, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("failed to get user info: %d - %s", status, string(body))
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("user info response: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("user info response carries no email")
	}
	return info.Email, nil
}
