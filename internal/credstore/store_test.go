package credstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/models"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.WithOutput(io.Discard), logging.WithLevel(logging.LevelError))
}

func writeCred(t *testing.T, dir, name string, cred any) string {
	t.Helper()
	data, err := json.Marshal(cred)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func validCred(email string) *models.Credential {
	return &models.Credential{
		Email:        email,
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresIn:    3599,
		Timestamp:    time.Now().UnixMilli(),
		Type:         models.CredentialType,
	}
}

func TestListCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet-there")
	s := New(dir, 0, quietLogger())

	entries, err := s.List()
	require.NoError(t, err)
	require.Empty(t, entries)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestListSkipsInvalidRecords(t *testing.T) {
	dir := t.TempDir()
	writeCred(t, dir, "antigravity-good.json", validCred("good@example.com"))
	writeCred(t, dir, "antigravity-no-refresh.json", &models.Credential{Email: "bad@example.com", Type: models.CredentialType})
	writeCred(t, dir, "antigravity-wrong-type.json", &models.Credential{Email: "alien@example.com", RefreshToken: "rt", Type: "gemini"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "antigravity-garbage.json"), []byte("{not json"), 0o644))
	writeCred(t, dir, "unrelated.json", validCred("ignored@example.com"))

	s := New(dir, 0, quietLogger())
	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "good@example.com", entries[0].Credential.Email)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0, quietLogger())

	want := validCred("roundtrip@example.com")
	want.Expired = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	path := filepath.Join(dir, models.CredentialFileName(want.Email))
	require.NoError(t, s.Save(path, want))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, want, entries[0].Credential)
	require.Equal(t, path, entries[0].Path)
}

func TestListServesCacheWithinTTL(t *testing.T) {
	dir := t.TempDir()
	writeCred(t, dir, "antigravity-a.json", validCred("a@example.com"))

	s := New(dir, 5*time.Second, quietLogger())
	base := time.Now()
	s.now = func() time.Time { return base }

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A file landing outside Save is invisible until the TTL lapses.
	writeCred(t, dir, "antigravity-b.json", validCred("b@example.com"))

	s.now = func() time.Time { return base.Add(3 * time.Second) }
	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	s.now = func() time.Time { return base.Add(6 * time.Second) }
	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestScanBypassesCache(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Hour, quietLogger())

	_, err := s.List()
	require.NoError(t, err)

	writeCred(t, dir, "antigravity-late.json", validCred("late@example.com"))

	entries, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDeleteInvalidatesCacheImmediately(t *testing.T) {
	dir := t.TempDir()
	path := writeCred(t, dir, "antigravity-gone.json", validCred("gone@example.com"))

	s := New(dir, time.Hour, quietLogger())
	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, s.Delete(path))

	entries, err = s.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSaveInvalidatesCacheImmediately(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Hour, quietLogger())

	_, err := s.List()
	require.NoError(t, err)

	cred := validCred("fresh@example.com")
	require.NoError(t, s.Save(filepath.Join(dir, models.CredentialFileName(cred.Email)), cred))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFindByIdentity(t *testing.T) {
	entries := []models.StoredCredential{
		{Path: "/data/antigravity-first.json", Credential: validCred("first@example.com")},
		{Path: "/data/antigravity-anon.json", Credential: &models.Credential{RefreshToken: "rt", Type: models.CredentialType}},
	}

	found, err := FindByIdentity(entries, "first@example.com")
	require.NoError(t, err)
	require.Equal(t, "first@example.com", found.Credential.Email)

	found, err = FindByIdentity(entries, "antigravity-anon")
	require.NoError(t, err)
	require.Equal(t, "/data/antigravity-anon.json", found.Path)

	_, err = FindByIdentity(entries, "nobody@example.com")
	require.IsType(t, &errors.ErrAccountNotFound{}, err)
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 0, quietLogger())

	raw, err := json.Marshal(validCred("import@example.com"))
	require.NoError(t, err)

	stored, err := s.Import(raw)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "antigravity-import@example.com.json"), stored.Path)

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestImportRejectsMissingRefreshToken(t *testing.T) {
	s := New(t.TempDir(), 0, quietLogger())

	_, err := s.Import([]byte(`{"email":"x@example.com","type":"antigravity"}`))
	require.Error(t, err)
	require.IsType(t, &errors.ErrCredentialParse{}, err)

	_, err = s.Import([]byte("{not json"))
	require.Error(t, err)
}

func TestWatchInvalidatesOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Hour, quietLogger())

	_, err := s.List()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	writeCred(t, dir, "antigravity-external.json", validCred("ext@example.com"))

	require.Eventually(t, func() bool {
		entries, err := s.List()
		return err == nil && len(entries) == 1
	}, 2*time.Second, 20*time.Millisecond)
}
