package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapanel/quotapanel/internal/aggregator"
	"github.com/quotapanel/quotapanel/internal/config"
	"github.com/quotapanel/quotapanel/internal/credstore"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/metrics"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/oauthflow"
	"github.com/quotapanel/quotapanel/internal/store"
	"github.com/quotapanel/quotapanel/internal/transport"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

type stubTokens struct{}

func (stubTokens) EnsureValid(ctx context.Context, cred *models.Credential, path string) (*models.Credential, error) {
	out := *cred
	out.AccessToken = "token-for-" + cred.Email
	return &out, nil
}

func (stubTokens) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	out := *cred
	out.AccessToken = "forced-" + cred.Email
	return &out, nil
}

type stubFetcher struct {
	err error
}

func (f stubFetcher) Fetch(ctx context.Context, accessToken string) (*models.QuotaSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	fraction := 0.25
	return &models.QuotaSnapshot{
		Timestamp: time.Now().UTC(),
		Models: []models.ModelEntry{{
			ModelID:  "models/gemini-3-pro",
			Name:     "Gemini 3 Pro",
			Category: models.CategoryAgent,
			Quota:    models.NewQuotaDetail(&fraction, ""),
		}},
	}, nil
}

type testEnv struct {
	server *Server
	creds  *credstore.Store
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	creds := credstore.New(dir, credstore.DefaultCacheTTL, quietLogger())
	agg := aggregator.New(creds, stubTokens{}, stubFetcher{}, quietLogger())

	client, err := transport.NewReloadable(nil)
	require.NoError(t, err)
	flow := oauthflow.New(client, creds)
	proxyStore := store.NewProxyStore(filepath.Join(dir, "proxy.json"))
	m := metrics.NewMetrics("quotapanel_test")

	cfg := config.ServerConfig{Host: "127.0.0.1", HTTPPort: 0}
	server := NewServer(cfg, agg, flow, proxyStore, client, nil, m, quietLogger())
	return &testEnv{server: server, creds: creds, dir: dir}
}

func (e *testEnv) seed(t *testing.T, email string) {
	t.Helper()
	cred := models.Credential{
		Email:        email,
		RefreshToken: "1//rt-" + email,
		Type:         models.CredentialType,
	}
	raw, err := json.Marshal(cred)
	require.NoError(t, err)
	name := models.CredentialFileName(email)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), raw, 0644))
	e.creds.Invalidate()
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, body["timestamp"])
}

func TestListAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice@example.com")
	env.seed(t, "bob@example.com")

	w := env.do(t, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Len(t, body["accounts"], 2)
}

func TestQuotaAll(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice@example.com")

	w := env.do(t, http.MethodGet, "/api/quota", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	require.Equal(t, "alice@example.com", first["email"])
	require.Equal(t, true, first["success"])
}

func TestQuotaOneUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/quota/nobody@example.com", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, false, body["success"])
	require.NotEmpty(t, body["error"])
}

func TestQuotaOneAndCache(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice@example.com")

	w := env.do(t, http.MethodGet, "/api/quota/alice@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, "alice@example.com", body["email"])

	w = env.do(t, http.MethodGet, "/api/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	cache := decodeBody(t, w)["cache"].(map[string]any)
	require.Contains(t, cache, "alice@example.com")
}

func TestForceRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice@example.com")

	w := env.do(t, http.MethodPost, "/api/refresh/alice@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeBody(t, w)["success"])
}

func TestUploadAndDelete(t *testing.T) {
	env := newTestEnv(t)

	raw := `{"email":"carol@example.com","refresh_token":"1//rt-carol","type":"antigravity"}`
	w := env.do(t, http.MethodPost, "/api/upload", raw)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Contains(t, body["fileName"], "antigravity-")

	w = env.do(t, http.MethodDelete, "/api/accounts/carol@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/accounts/carol@example.com", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRejectsMissingRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/upload", `{"email":"x@example.com","type":"antigravity"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, false, decodeBody(t, w)["success"])
}

func TestDownloadAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "alice@example.com")

	w := env.do(t, http.MethodGet, "/api/accounts/alice@example.com/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	require.Contains(t, w.Body.String(), "1//rt-alice@example.com")
}

func TestAuthLoginIssuesConsentURL(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/auth/login", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Contains(t, body["url"], "accounts.google.com")
	require.Contains(t, body["url"], "state=")
}

func TestAuthCallbackRejectsBadState(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/auth/callback?code=abc&state=forged", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "Invalid state")

	w = env.do(t, http.MethodGet, "/api/auth/callback?error=access_denied", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/auth/callback", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/proxy", "")
	require.Equal(t, http.StatusOK, w.Code)
	proxy := decodeBody(t, w)["proxy"].(map[string]any)
	require.Equal(t, false, proxy["enabled"])

	cfg := `{"enabled":true,"type":"http","url":"http://127.0.0.1:8080"}`
	w = env.do(t, http.MethodPost, "/api/proxy", cfg)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/proxy", "")
	proxy = decodeBody(t, w)["proxy"].(map[string]any)
	require.Equal(t, true, proxy["enabled"])
	require.Equal(t, "http", proxy["type"])
}

func TestProxySaveRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/proxy", `{"enabled":true,"type":"carrier-pigeon","url":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyTestRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/proxy/test", `{"type":"carrier-pigeon","url":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newTestEnv(t)
	// Drive one request through the middleware first.
	env.do(t, http.MethodGet, "/api/health", "")

	w := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "quotapanel_test_")
}

func TestErrorEnvelopeOnFetchFailure(t *testing.T) {
	dir := t.TempDir()
	creds := credstore.New(dir, credstore.DefaultCacheTTL, quietLogger())
	agg := aggregator.New(creds, stubTokens{}, stubFetcher{err: fmt.Errorf("all quota endpoints failed")}, quietLogger())

	client, err := transport.NewReloadable(nil)
	require.NoError(t, err)
	server := NewServer(config.ServerConfig{}, agg, oauthflow.New(client, creds),
		store.NewProxyStore(filepath.Join(dir, "proxy.json")), client, nil,
		metrics.NewMetrics("quotapanel_envelope_test"), quietLogger())

	cred := models.Credential{Email: "alice@example.com", RefreshToken: "1//rt", Type: models.CredentialType}
	raw, _ := json.Marshal(cred)
	require.NoError(t, os.WriteFile(filepath.Join(dir, models.CredentialFileName("alice@example.com")), raw, 0644))

	req := httptest.NewRequest(http.MethodGet, "/api/quota/alice@example.com", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, false, body["success"])
	require.Contains(t, body["error"], "all quota endpoints failed")
}
