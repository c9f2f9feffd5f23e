package quota

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/quotapanel/quotapanel/internal/token"
	"github.com/quotapanel/quotapanel/internal/transport"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

func directClient(t *testing.T) *transport.Client {
	t.Helper()
	client, err := transport.NewClient(nil)
	require.NoError(t, err)
	return client
}

const sampleResponse = `{
	"models": {
		"models/gemini-3-pro": {
			"displayName": "Gemini 3 Pro",
			"category": "agent",
			"quotaInfo": {"remainingFraction": 0.37, "resetTime": "2026-03-14T18:00:00Z"}
		},
		"models/gemini-3-flash": {
			"category": "agent",
			"quotaInfo": {"resetTime": "2026-03-14T18:00:00Z"}
		},
		"models/rev19-uic3-1p": {
			"category": "agent",
			"quotaInfo": {"remainingFraction": 0}
		},
		"models/chat-20706": {
			"displayName": "Internal Chat",
			"category": "agent"
		}
	},
	"agentModelSorts": ["models/gemini-3-pro", "agent-extra-model", "chat_23310"],
	"commandModelIds": ["command-model-1"],
	"tabModelIds": ["tab_complete_v2"]
}`

func TestFetchFirstEndpointWins(t *testing.T) {
	var gotAuth, gotAgent, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		require.Equal(t, modelsPath, r.URL.Path)
		io.WriteString(w, sampleResponse)
	}))
	defer srv.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("fallback mirror must not be contacted when the first succeeds")
	}))
	defer fallback.Close()

	f := NewFetcher(directClient(t), quietLogger(), WithEndpoints([]string{srv.URL, fallback.URL}))
	snapshot, err := f.Fetch(context.Background(), "ya29.token")
	require.NoError(t, err)
	require.NotEmpty(t, snapshot.Timestamp)

	require.Equal(t, "Bearer ya29.token", gotAuth)
	require.Equal(t, token.UserAgent, gotAgent)
	require.Equal(t, "{}", gotBody)
}

func TestFetchFallsBackToNextMirror(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	var served atomic.Bool
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Store(true)
		io.WriteString(w, sampleResponse)
	}))
	defer good.Close()

	f := NewFetcher(directClient(t), quietLogger(), WithEndpoints([]string{broken.URL, good.URL}))
	_, err := f.Fetch(context.Background(), "ya29.token")
	require.NoError(t, err)
	require.True(t, served.Load())
}

func TestFetchAllEndpointsFailed(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "denied")
	}))
	defer broken.Close()

	f := NewFetcher(directClient(t), quietLogger(),
		WithEndpoints([]string{"http://127.0.0.1:1", broken.URL}))
	_, err := f.Fetch(context.Background(), "ya29.token")

	var allFailed *errors.ErrAllEndpointsFailed
	require.ErrorAs(t, err, &allFailed)
	// The last mirror's rejection, not the first mirror's dial error.
	require.Contains(t, allFailed.Last.Error(), "HTTP 403")
	require.Contains(t, allFailed.Last.Error(), "denied")
}

func TestFetchMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not-json")
	}))
	defer srv.Close()

	f := NewFetcher(directClient(t), quietLogger(), WithEndpoints([]string{srv.URL}))
	_, err := f.Fetch(context.Background(), "ya29.token")

	var parseErr *errors.ErrQuotaParse
	require.ErrorAs(t, err, &parseErr)
}

func decodeSample(t *testing.T) *rawModelsResponse {
	t.Helper()
	var raw rawModelsResponse
	require.NoError(t, json.Unmarshal([]byte(sampleResponse), &raw))
	return &raw
}

func findModel(t *testing.T, snapshot *models.QuotaSnapshot, id string) models.ModelEntry {
	t.Helper()
	for _, m := range snapshot.Models {
		if m.ModelID == id {
			return m
		}
	}
	t.Fatalf("model %s not in snapshot", id)
	return models.ModelEntry{}
}

func TestNormalizeMergesSections(t *testing.T) {
	snapshot := Normalize(decodeSample(t))

	var ids []string
	for _, m := range snapshot.Models {
		ids = append(ids, m.ModelID)
	}
	require.ElementsMatch(t, []string{
		"models/gemini-3-pro",
		"models/gemini-3-flash",
		"models/rev19-uic3-1p",
		"agent-extra-model",
		"command-model-1",
		"tab_complete_v2",
	}, ids)

	pro := findModel(t, snapshot, "models/gemini-3-pro")
	require.Equal(t, "Gemini 3 Pro", pro.Name)
	require.Equal(t, models.CategoryAgent, pro.Category)
	require.NotNil(t, pro.Quota)
	require.InDelta(t, 37.0, *pro.Quota.RemainingPercentage, 1e-9)
	require.False(t, pro.Quota.IsExhausted)
	require.Equal(t, "2026-03-14T18:00:00Z", pro.Quota.ResetTime)

	// quotaInfo present but no remainingFraction: exhausted, no percentage.
	flash := findModel(t, snapshot, "models/gemini-3-flash")
	require.NotNil(t, flash.Quota)
	require.Nil(t, flash.Quota.RemainingPercentage)
	require.True(t, flash.Quota.IsExhausted)

	// Fraction of exactly zero is exhausted too.
	rev := findModel(t, snapshot, "models/rev19-uic3-1p")
	require.True(t, rev.Quota.IsExhausted)

	// List-only entries carry their surface category and no quota info.
	extra := findModel(t, snapshot, "agent-extra-model")
	require.Equal(t, models.CategoryAgent, extra.Category)
	require.Nil(t, extra.Quota)
	require.Equal(t, "Agent Extra Model", extra.Name)

	cmd := findModel(t, snapshot, "command-model-1")
	require.Equal(t, models.CategoryCommand, cmd.Category)

	tab := findModel(t, snapshot, "tab_complete_v2")
	require.Equal(t, models.CategoryTab, tab.Category)
	require.Equal(t, "Tab Complete V2", tab.Name)
}

func TestNormalizeDropsIgnoredModels(t *testing.T) {
	snapshot := Normalize(decodeSample(t))
	for _, m := range snapshot.Models {
		require.NotContains(t, foldID(m.ModelID), "chat20706")
		require.NotContains(t, foldID(m.ModelID), "chat23310")
	}
}

func TestNormalizeDoesNotDuplicateListedModels(t *testing.T) {
	// models/gemini-3-pro appears in both the detail map and the agent
	// sort list; the detail entry with quota info must win and appear once.
	snapshot := Normalize(decodeSample(t))
	count := 0
	for _, m := range snapshot.Models {
		if m.ModelID == "models/gemini-3-pro" {
			count++
			require.NotNil(t, m.Quota)
		}
	}
	require.Equal(t, 1, count)
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := decodeSample(t)
	first := Normalize(raw)
	second := Normalize(raw)
	require.Equal(t, first.Models, second.Models)
}

func TestDisplayNameResolution(t *testing.T) {
	require.Equal(t, "Gemini 2.5 Computer Use", displayName("models/rev19-uic3-1p", "Rev19"))
	require.Equal(t, "Gemini 2.5 Computer Use", displayName("rev19-uic3-1p", ""))
	require.Equal(t, "Provider Label", displayName("models/some-model", "Provider Label"))
	require.Equal(t, "Some Model", displayName("models/some-model", ""))
	require.Equal(t, "Gemini 3 Flash", humanizeID("models/gemini-3-flash"))
	require.Equal(t, "Unknown", humanizeID(""))
}

func TestIgnoredComparisonFolding(t *testing.T) {
	require.True(t, isIgnored("chat-20706"))
	require.True(t, isIgnored("chat_20706"))
	require.True(t, isIgnored("CHAT-23310"))
	require.True(t, isIgnored("models/chat-20706"))
	require.False(t, isIgnored("models/gemini-3-pro"))
	require.True(t, isIgnored(""))
}
