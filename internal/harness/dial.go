package harness

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// newClient builds an *http.Client that routes every request through ep,
// per spec.md §4.2 step 2. HTTP proxies reuse the teacher's
// http.Transport{Proxy: http.ProxyURL(...)} shape (pkg/wlpb/wlpb.go's
// makeRequest); SOCKS5 uses golang.org/x/net/proxy (grounded on the
// pack's WhatsApp proxy health-checker, which dials SOCKS5 via
// proxy.FromURL + ContextDialer); SOCKS4 has no maintained Go client in
// the retrieval pack, so socks4Connect below speaks the minimal SOCKS4
// CONNECT handshake directly (see DESIGN.md).
func newClient(ep proxyurl.Endpoint, timeout time.Duration) (*http.Client, error) {
	switch ep.Protocol {
	case proxyurl.HTTP:
		u := ep.URL()
		return &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(u)},
		}, nil

	case proxyurl.SOCKS5:
		auth := (*proxy.Auth)(nil)
		if ep.User != "" {
			auth = &proxy.Auth{User: ep.User, Password: ep.Pass}
		}
		dialer, err := proxy.SOCKS5("tcp", ep.Addr(), auth, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("harness: socks5 dialer: %w", err)
		}
		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("harness: socks5 dialer does not support contexts")
		}
		return &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: ctxDialer.DialContext,
			},
		}, nil

	case proxyurl.SOCKS4:
		return &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return socks4Connect(ctx, ep.Addr(), addr, timeout)
				},
			},
		}, nil

	default:
		return nil, fmt.Errorf("harness: unsupported protocol %v", ep.Protocol)
	}
}

// socks4Connect performs the minimal SOCKS4 CONNECT handshake (no
// identd negotiation, null user-id) against proxyAddr, tunneling to
// targetAddr, which must already be a host:port pair with a resolvable
// IPv4 host.
func socks4Connect(ctx context.Context, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, fmt.Errorf("socks4: bad target %q: %w", targetAddr, err)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("socks4: resolve %q: %w", host, err)
	}
	ip4 := ips[0].To4()

	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return nil, fmt.Errorf("socks4: bad port %q", portStr)
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks4: dial proxy: %w", err)
	}

	req := make([]byte, 0, 9)
	req = append(req, 0x04, 0x01)                // version 4, CONNECT
	req = append(req, byte(port>>8), byte(port)) // destination port
	req = append(req, ip4...)                    // destination IP
	req = append(req, 0x00)                      // null-terminated empty user-id

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: send request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4: read response: %w", err)
	}
	if resp[1] != 0x5a {
		conn.Close()
		return nil, fmt.Errorf("socks4: request rejected, code %d", resp[1])
	}
	conn.SetDeadline(time.Time{})
	return conn, nil
}
