package transport

import (
	"context"
	"sync"

	"github.com/quotapanel/quotapanel/internal/models"
)

// Requester is the request surface shared by Client and Reloadable.
type Requester interface {
	Request(ctx context.Context, method, targetURL string, headers map[string]string, body []byte) (int, []byte, error)
}

// Reloadable wraps a Client and swaps it when the proxy configuration
// changes, so long-lived consumers pick up a new proxy without rebuilding.
type Reloadable struct {
	mu      sync.RWMutex
	current *Client
}

// NewReloadable builds a reloadable client for the given proxy config.
func NewReloadable(cfg *models.ProxyConfig) (*Reloadable, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Reloadable{current: client}, nil
}

// Reload replaces the underlying client. In-flight requests finish on the
// old client; only subsequent calls see the new proxy.
func (r *Reloadable) Reload(cfg *models.ProxyConfig) error {
	client, err := NewClient(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.current = client
	r.mu.Unlock()
	return nil
}

// Request proxies to the current underlying client.
func (r *Reloadable) Request(ctx context.Context, method, targetURL string, headers map[string]string, body []byte) (int, []byte, error) {
	r.mu.RLock()
	client := r.current
	r.mu.RUnlock()
	return client.Request(ctx, method, targetURL, headers, body)
}
