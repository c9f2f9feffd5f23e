package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/models"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard))
}

func testSnapshot(pct float64) *models.QuotaSnapshot {
	fraction := pct / 100
	return &models.QuotaSnapshot{
		Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Models: []models.ModelEntry{
			{
				ModelID:  "models/gemini-3-pro",
				Name:     "Gemini 3 Pro",
				Category: models.CategoryAgent,
				Quota:    models.NewQuotaDetail(&fraction, "2026-03-14T18:00:00Z"),
			},
		},
	}
}

func openStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotPutGet(t *testing.T) {
	s := openStore(t)

	_, ok := s.Get("alice@example.com")
	require.False(t, ok)

	want := testSnapshot(42)
	require.NoError(t, s.Put("alice@example.com", want))

	got, ok := s.Get("alice@example.com")
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestSnapshotUpsertKeepsLatest(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Put("alice@example.com", testSnapshot(80)))
	require.NoError(t, s.Put("alice@example.com", testSnapshot(15)))

	got, ok := s.Get("alice@example.com")
	require.True(t, ok)
	require.InDelta(t, 15.0, *got.Models[0].Quota.RemainingPercentage, 1e-9)
}

func TestSnapshotAllAndDelete(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Put("alice@example.com", testSnapshot(50)))
	require.NoError(t, s.Put("bob@example.com", testSnapshot(10)))

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Contains(t, all, "alice@example.com")
	require.Contains(t, all, "bob@example.com")

	require.NoError(t, s.Delete("alice@example.com"))
	require.NoError(t, s.Delete("never-existed@example.com"))

	all, err = s.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSnapshotStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "snapshots.db")
	s, err := NewSnapshotStore(path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}

func TestProxyStoreRoundTrip(t *testing.T) {
	p := NewProxyStore(filepath.Join(t.TempDir(), "proxy.json"))

	// Missing file reads as disabled, not as an error.
	cfg, err := p.Load()
	require.NoError(t, err)
	require.False(t, cfg.Active())

	want := &models.ProxyConfig{Enabled: true, Type: models.ProxySOCKS5, URL: "socks5://127.0.0.1:1080"}
	require.NoError(t, p.Save(want))

	got, err := p.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, got.Active())
}

func TestProxyStoreRejectsUnknownType(t *testing.T) {
	p := NewProxyStore(filepath.Join(t.TempDir(), "proxy.json"))
	err := p.Save(&models.ProxyConfig{Enabled: true, Type: "carrier-pigeon", URL: "pigeon://loft"})
	require.Error(t, err)
}

func TestProxyStoreDisabledSkipsTypeCheck(t *testing.T) {
	p := NewProxyStore(filepath.Join(t.TempDir(), "proxy.json"))
	require.NoError(t, p.Save(&models.ProxyConfig{Enabled: false, Type: "", URL: ""}))
}

func TestProxyStoreRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	p := NewProxyStore(path)
	_, err := p.Load()
	require.Error(t, err)
}
