package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/models"
)

// ProxyStore persists the proxy configuration as one JSON file. Reads fall
// back to a disabled config when the file does not exist yet.
type ProxyStore struct {
	mu   sync.Mutex
	path string
}

// NewProxyStore creates a proxy config store backed by the given file.
func NewProxyStore(path string) *ProxyStore {
	return &ProxyStore{path: path}
}

// Load reads the current proxy configuration.
func (p *ProxyStore) Load() (*models.ProxyConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return &models.ProxyConfig{}, nil
	}
	if err != nil {
		return nil, &errors.ErrFileRead{Path: p.path, Err: err}
	}

	var cfg models.ProxyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}
	return &cfg, nil
}

// Save validates and writes the proxy configuration via a temp file plus
// rename, so a crash never leaves a half-written config behind.
func (p *ProxyStore) Save(cfg *models.ProxyConfig) error {
	if cfg.Enabled && !models.ValidProxyType(cfg.Type) {
		return &errors.ErrConfigValidation{Err: fmt.Errorf("unknown proxy type %q", cfg.Type)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
