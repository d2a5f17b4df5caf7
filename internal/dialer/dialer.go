// Package dialer opens outbound TCP connections to mail servers, either
// directly or through a SOCKS5 proxy. Callers get a plain net.Conn in both
// cases and a *ConnectError on failure.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
)

// ErrInvalidProxy is returned by New when the proxy configuration is unusable.
var ErrInvalidProxy = errors.New("emailprobe: invalid proxy configuration")

// Socks5Config configures a SOCKS5 tunnel.
type Socks5Config struct {
	Address  string // host:port of the proxy
	Username string // optional; enables username/password auth
	Password string
}

// Forward dials the first hop: the target itself, or the proxy.
// *net.Dialer implements it.
type Forward interface {
	Dial(network, address string) (net.Conn, error)
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a Connector.
type Config struct {
	Proxy *Socks5Config // nil for direct connections
	// Forward is injectable for testing. Defaults to a net.Dialer.
	Forward Forward
}

// Connector opens connections for SMTP attempts. It is safe for concurrent use.
type Connector struct {
	cfg Config
}

// New creates a Connector, validating the proxy address if one is configured.
func New(cfg Config) (*Connector, error) {
	if cfg.Proxy != nil {
		if _, _, err := net.SplitHostPort(cfg.Proxy.Address); err != nil {
			return nil, fmt.Errorf("%w: address %q: %v", ErrInvalidProxy, cfg.Proxy.Address, err)
		}
		if len(cfg.Proxy.Username) > 255 || len(cfg.Proxy.Password) > 255 {
			return nil, fmt.Errorf("%w: credentials longer than 255 bytes", ErrInvalidProxy)
		}
	}
	if cfg.Forward == nil {
		cfg.Forward = &net.Dialer{}
	}
	return &Connector{cfg: cfg}, nil
}

// Proxied reports whether connections go through a proxy.
func (c *Connector) Proxied() bool {
	return c.cfg.Proxy != nil
}

// Connect opens a TCP connection to host:port within timeout (zero means
// only ctx bounds it). The returned connection belongs to the caller.
func (c *Connector) Connect(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if c.cfg.Proxy == nil {
		conn, err := c.cfg.Forward.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, classifyDirect(addr, err)
		}
		return conn, nil
	}

	var auth *proxy.Auth
	if c.cfg.Proxy.Username != "" {
		auth = &proxy.Auth{User: c.cfg.Proxy.Username, Password: c.cfg.Proxy.Password}
	}
	hop := &trackingForward{Forward: c.cfg.Forward}
	d, err := proxy.SOCKS5("tcp", c.cfg.Proxy.Address, auth, hop)
	if err != nil {
		return nil, &ConnectError{Kind: KindProxyFailed, Addr: addr, Proxied: true, Err: err}
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, &ConnectError{Kind: KindProxyFailed, Addr: addr, Proxied: true, Err: errors.New("socks dialer is not a context dialer")}
	}
	conn, err := cd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyProxied(addr, hop.reached.Load(), err)
	}
	return conn, nil
}

// trackingForward records whether the proxy itself was reached, so that an
// unreachable proxy is told apart from a failed handshake.
type trackingForward struct {
	Forward
	reached atomic.Bool
}

func (t *trackingForward) Dial(network, address string) (net.Conn, error) {
	return t.DialContext(context.Background(), network, address)
}

func (t *trackingForward) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := t.Forward.DialContext(ctx, network, address)
	if err == nil {
		t.reached.Store(true)
	}
	return conn, err
}
