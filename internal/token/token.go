// Package token decides access-token validity and runs the OAuth
// refresh-token grant against the provider's token endpoint.
package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quotapanel/quotapanel/internal/credstore"
	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/metrics"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/transport"
)

const (
	clientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	clientSecret = "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"

	// TokenEndpoint is the provider's fixed OAuth token URL.
	TokenEndpoint = "https://oauth2.googleapis.com/token"

	// UserAgent must be sent verbatim; the provider rejects refresh
	// requests carrying any other agent string.
	UserAgent = "antigravity/1.11.5 windows/amd64"

	// expiryMargin absorbs clock skew and request latency so a token is
	// never used within a minute of real expiry.
	expiryMargin = 60 * time.Second
)

// IsExpired reports whether the record's access token must be refreshed
// before use. Records carrying no expiry information at all count as
// expired; refreshing a fresh token is cheaper than using a stale one.
func IsExpired(cred *models.Credential, now time.Time) bool {
	expiresAt, ok := cred.ExpiresAt()
	if !ok {
		return true
	}
	return !now.Before(expiresAt.Add(-expiryMargin))
}

// refreshResponse is the provider's token grant response.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Manager refreshes expired tokens and persists the result.
type Manager struct {
	client   transport.Requester
	store    *credstore.Store
	logger   *logging.Logger
	metrics  *metrics.Metrics
	tokenURL string
	now      func() time.Time

	// inflight serializes refreshes per identity so two concurrent
	// callers cannot race a rotated refresh token onto disk.
	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenURL overrides the token endpoint, used by tests.
func WithTokenURL(u string) Option {
	return func(m *Manager) { m.tokenURL = u }
}

// WithClock overrides the manager's clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a token lifecycle manager.
func NewManager(client transport.Requester, store *credstore.Store, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewLogger()
	}
	m := &Manager{
		client:   client,
		store:    store,
		logger:   logger,
		tokenURL: TokenEndpoint,
		now:      time.Now,
		inflight: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh runs the refresh-token grant and returns an updated copy of the
// record. The input record is not mutated.
func (m *Manager) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"User-Agent":   UserAgent,
	}

	status, body, err := m.client.Request(ctx, http.MethodPost, m.tokenURL, headers, []byte(form.Encode()))
	if err != nil {
		m.recordRefresh("error")
		return nil, err
	}
	if status != http.StatusOK {
		m.recordRefresh("failure")
		return nil, &errors.ErrTokenRefresh{Status: status, Body: string(body)}
	}

	var resp refreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		m.recordRefresh("error")
		return nil, &errors.ErrCredentialParse{Path: m.tokenURL, Err: err}
	}

	now := m.now()
	updated := *cred
	updated.AccessToken = resp.AccessToken
	updated.ExpiresIn = resp.ExpiresIn
	updated.Timestamp = now.UnixMilli()
	updated.Expired = now.Add(time.Duration(resp.ExpiresIn) * time.Second).UTC().Format(time.RFC3339)
	// The provider may rotate the refresh token. Losing a rotated token
	// permanently breaks the account, so overwrite whenever one arrives.
	if strings.TrimSpace(resp.RefreshToken) != "" {
		updated.RefreshToken = resp.RefreshToken
	}

	m.recordRefresh("success")
	return &updated, nil
}

// EnsureValid is the single entry point the rest of the system uses: it
// returns the record unchanged while the token is still valid, otherwise
// refreshes it and, when a location is given, persists the result.
func (m *Manager) EnsureValid(ctx context.Context, cred *models.Credential, path string) (*models.Credential, error) {
	if !IsExpired(cred, m.now()) {
		return cred, nil
	}

	identity := cred.Identity(path)
	lock := m.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while this one waited.
	if !IsExpired(cred, m.now()) {
		return cred, nil
	}

	m.logger.Info("token expired, refreshing", "account", identity)
	updated, err := m.Refresh(ctx, cred)
	if err != nil {
		return nil, err
	}

	if path != "" && m.store != nil {
		if err := m.store.Save(path, updated); err != nil {
			return nil, err
		}
		m.logger.Info("token refreshed and saved", "account", identity)
	}

	return updated, nil
}

func (m *Manager) identityLock(identity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.inflight[identity]
	if !ok {
		lock = &sync.Mutex{}
		m.inflight[identity] = lock
	}
	return lock
}

func (m *Manager) recordRefresh(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh(outcome)
	}
}
