package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/quotapanel/quotapanel/internal/errors"
)

// socks4Dialer performs a SOCKS4 CONNECT handshake. SOCKS4 predates domain
// addressing, so the target host is resolved to an IPv4 address first.
// golang.org/x/net/proxy only covers SOCKS5, hence the manual handshake.
type socks4Dialer struct {
	proxyAddr string
	base      *net.Dialer
}

const (
	socks4Version      = 0x04
	socks4CmdConnect   = 0x01
	socks4ReplyGranted = 0x5a
)

func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &errors.ErrProxyHandshake{Kind: "socks4", Err: err}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, &errors.ErrProxyHandshake{Kind: "socks4", Err: err}
	}

	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, &errors.ErrProxyHandshake{Kind: "socks4", Err: err}
	}

	conn, err := d.base.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(dialTimeout))
	}

	// VER CMD PORT(2) IP(4) USERID NUL
	req := make([]byte, 0, 9)
	req = append(req, socks4Version, socks4CmdConnect)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ip...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, &errors.ErrProxyHandshake{Kind: "socks4", Err: err}
	}

	// VN REP PORT(2) IP(4)
	reply := make([]byte, 8)
	if _, err := io.ReadFull(conn, reply); err != nil {
		conn.Close()
		return nil, &errors.ErrProxyHandshake{Kind: "socks4", Err: err}
	}
	if reply[1] != socks4ReplyGranted {
		conn.Close()
		return nil, &errors.ErrProxyHandshake{
			Kind: "socks4",
			Err:  fmt.Errorf("request rejected: code %#02x", reply[1]),
		}
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

func resolveIPv4(ctx context.Context, host string) ([]byte, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%s is not an IPv4 address", host)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %s", host)
}
