// Package credstore manages the on-disk registry of account credential
// records, with a short-TTL read cache invalidated on every write.
package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/models"
)

// DefaultCacheTTL bounds how stale a cached directory scan may be served.
const DefaultCacheTTL = 5 * time.Second

// Store is a directory-backed credential registry.
type Store struct {
	dir    string
	ttl    time.Duration
	logger *logging.Logger

	mu       sync.Mutex
	cached   []models.StoredCredential
	cachedAt time.Time

	now func() time.Time
}

// New creates a store over dir. A zero ttl selects DefaultCacheTTL.
func New(dir string, ttl time.Duration, logger *logging.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Store{
		dir:    dir,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the canonical file location for an identity.
func (s *Store) PathFor(identity string) string {
	return filepath.Join(s.dir, models.CredentialFileName(identity))
}

// List enumerates usable credential records, serving a cached scan while it
// is younger than the TTL.
func (s *Store) List() ([]models.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cachedAt.IsZero() && s.now().Sub(s.cachedAt) <= s.ttl {
		return s.cached, nil
	}

	entries, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.cached = entries
	s.cachedAt = s.now()
	return entries, nil
}

// Scan enumerates usable credential records, always rescanning the
// directory. It does not refresh the cache.
func (s *Store) Scan() ([]models.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan()
}

// scan walks the directory. Caller must hold s.mu.
func (s *Store) scan() ([]models.StoredCredential, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, &errors.ErrDirectoryCreate{Path: s.dir, Err: err}
	}

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &errors.ErrFileRead{Path: s.dir, Err: err}
	}

	var out []models.StoredCredential
	for _, entry := range dirEntries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, models.CredentialFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read credential file", "file", name, "error", err.Error())
			continue
		}

		var cred models.Credential
		if err := json.Unmarshal(data, &cred); err != nil {
			s.logger.Warn("failed to parse credential file", "file", name, "error", err.Error())
			continue
		}

		if !cred.Usable() {
			s.logger.Debug("skipping unusable credential", "file", name, "type", cred.Type)
			continue
		}

		out = append(out, models.StoredCredential{Path: path, Credential: &cred})
	}

	return out, nil
}

// FindByIdentity locates a stored credential by email, falling back to the
// backing file's base name. First match wins.
func FindByIdentity(entries []models.StoredCredential, email string) (*models.StoredCredential, error) {
	for i := range entries {
		if entries[i].Credential.Email == email {
			return &entries[i], nil
		}
	}
	for i := range entries {
		base := filepath.Base(entries[i].Path)
		if strings.TrimSuffix(base, filepath.Ext(base)) == email {
			return &entries[i], nil
		}
	}
	return nil, &errors.ErrAccountNotFound{Email: email}
}

// Find lists the store and matches by identity.
func (s *Store) Find(email string) (*models.StoredCredential, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	return FindByIdentity(entries, email)
}

// Save writes a credential as pretty JSON via a temp file and rename, so a
// crash never leaves a half-written record, then invalidates the cache.
func (s *Store) Save(path string, cred *models.Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errors.ErrDirectoryCreate{Path: filepath.Dir(path), Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cred-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	s.Invalidate()
	return nil
}

// Delete removes the backing file and invalidates the cache.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Import validates a raw credential JSON and saves it under the canonical
// file name for its identity.
func (s *Store) Import(raw []byte) (*models.StoredCredential, error) {
	var cred models.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, &errors.ErrCredentialParse{Path: "upload", Err: err}
	}

	if strings.TrimSpace(cred.RefreshToken) == "" {
		return nil, &errors.ErrCredentialParse{Path: "upload", Err: errMissingRefreshToken}
	}
	if cred.Type == "" {
		cred.Type = models.CredentialType
	}

	identity := cred.Email
	if identity == "" {
		identity = "unknown"
	}
	path := filepath.Join(s.dir, models.CredentialFileName(identity))
	if err := s.Save(path, &cred); err != nil {
		return nil, err
	}
	return &models.StoredCredential{Path: path, Credential: &cred}, nil
}

var errMissingRefreshToken = &missingFieldError{field: "refresh_token"}

type missingFieldError struct {
	field string
}

func (e *missingFieldError) Error() string {
	return "missing required field: " + e.field
}

// Invalidate clears the read cache. Called on every write, before any other
// goroutine can observe the store again.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}
