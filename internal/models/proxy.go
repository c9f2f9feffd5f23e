package models

import "strings"

// ProxyType identifies the tunnel protocol for outbound provider calls.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "http"
	ProxySOCKS4 ProxyType = "socks4"
	ProxySOCKS5 ProxyType = "socks5"
)

// ProxyConfig is the process-wide proxy configuration, persisted as JSON.
type ProxyConfig struct {
	Enabled bool      `json:"enabled"`
	Type    ProxyType `json:"type"`
	URL     string    `json:"url"`
}

// Active reports whether transport calls should tunnel through the proxy.
// Disabled config or an empty URL means every call goes direct.
func (p *ProxyConfig) Active() bool {
	return p != nil && p.Enabled && strings.TrimSpace(p.URL) != ""
}

// NormalizedURL returns the proxy URL with a scheme matching the configured
// type when the stored value has none.
func (p *ProxyConfig) NormalizedURL() string {
	if p == nil {
		return ""
	}
	raw := strings.TrimSpace(p.URL)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	scheme := string(p.Type)
	if scheme == "" {
		scheme = string(ProxyHTTP)
	}
	return scheme + "://" + raw
}

// ValidProxyType reports whether t names a supported tunnel protocol.
func ValidProxyType(t ProxyType) bool {
	switch t {
	case ProxyHTTP, ProxySOCKS4, ProxySOCKS5:
		return true
	}
	return false
}
