package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/models"
	xproxy "golang.org/x/net/proxy"
)

// RequestTimeout bounds every outbound provider call. A stuck request fails
// after this long; there is no in-flight cancellation beyond it.
const RequestTimeout = 15 * time.Second

const dialTimeout = 10 * time.Second

// Client issues HTTPS requests to the provider, tunneling through the
// configured proxy when one is active.
type Client struct {
	httpClient *http.Client
}

type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewClient builds a client for the given proxy configuration. A nil or
// inactive configuration yields a direct client.
func NewClient(cfg *models.ProxyConfig) (*Client, error) {
	dialer, err := tunnelDialer(cfg)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: dialTimeout,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	if useUTLS() {
		transport.DialTLSContext = utlsDialer(dialer)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   RequestTimeout,
			Transport: transport,
		},
	}, nil
}

// tunnelDialer selects the raw connection strategy for the proxy type.
func tunnelDialer(cfg *models.ProxyConfig) (contextDialer, error) {
	base := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	if !cfg.Active() {
		return base, nil
	}

	proxyURL, err := url.Parse(cfg.NormalizedURL())
	if err != nil || proxyURL.Host == "" {
		return nil, &errors.ErrProxyURL{URL: cfg.URL, Err: err}
	}

	switch cfg.Type {
	case models.ProxySOCKS5:
		var auth *xproxy.Auth
		if user := proxyURL.User; user != nil {
			password, _ := user.Password()
			auth = &xproxy.Auth{User: user.Username(), Password: password}
		}
		socks, err := xproxy.SOCKS5("tcp", proxyURL.Host, auth, base)
		if err != nil {
			return nil, &errors.ErrProxyHandshake{Kind: "socks5", Err: err}
		}
		return &socks5Dialer{dialer: socks}, nil
	case models.ProxySOCKS4:
		return &socks4Dialer{proxyAddr: proxyURL.Host, base: base}, nil
	default:
		return &connectDialer{proxyAddr: proxyURL.Host, base: base}, nil
	}
}

type socks5Dialer struct {
	dialer xproxy.Dialer
}

func (d *socks5Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var conn net.Conn
	var err error
	if cd, ok := d.dialer.(xproxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, addr)
	} else {
		conn, err = d.dialer.Dial(network, addr)
	}
	if err != nil {
		return nil, &errors.ErrProxyHandshake{Kind: "socks5", Err: err}
	}
	return conn, nil
}

// connectDialer tunnels through an HTTP proxy with a CONNECT request.
type connectDialer struct {
	proxyAddr string
	base      *net.Dialer
}

func (d *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.base.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: http.Header{},
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, &errors.ErrProxyConnect{Status: resp.StatusCode}
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func useUTLS() bool {
	return strings.TrimSpace(os.Getenv("QUOTAPANEL_UTLS")) == "1"
}

// utlsDialer layers a Chrome-fingerprint TLS handshake over the tunnel.
func utlsDialer(dialer contextDialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host := addr
		if strings.Contains(addr, ":") {
			host, _, _ = net.SplitHostPort(addr)
		}
		config := &utls.Config{
			ServerName: host,
			NextProtos: []string{"h2", "http/1.1"},
		}
		uconn := utls.UClient(rawConn, config, utls.HelloChrome_120)
		if err := uconn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return uconn, nil
	}
}

// Request performs one HTTP call and returns the response status and body.
// The status is never inspected for success; only network-level failures,
// proxy failures and timeouts produce an error.
func (c *Client) Request(ctx context.Context, method, targetURL string, headers map[string]string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// Test probes a proxy configuration by issuing a request to the provider's
// OAuth host through it. Any HTTP status counts as a working tunnel.
func Test(ctx context.Context, proxyType models.ProxyType, proxyURL string) error {
	client, err := NewClient(&models.ProxyConfig{Enabled: true, Type: proxyType, URL: proxyURL})
	if err != nil {
		return err
	}
	_, _, err = client.Request(ctx, http.MethodGet, "https://oauth2.googleapis.com/", nil, nil)
	return err
}
