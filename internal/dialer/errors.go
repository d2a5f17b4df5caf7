package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/optimode/emailprobe/types"
)

// Kind classifies connector failures.
type Kind string

const (
	KindConnectFailed   Kind = "connect_failed"
	KindTimeout         Kind = "timeout"
	KindAuthRejected    Kind = "auth_rejected"
	KindConnectRejected Kind = "connect_rejected" // SOCKS reply code in Code
	KindProxyFailed     Kind = "proxy_failed"
)

// ConnectError describes a failed Connect.
type ConnectError struct {
	Kind    Kind
	Code    int // SOCKS5 reply code for KindConnectRejected
	Addr    string
	Proxied bool
	Err     error
}

func (e *ConnectError) Error() string {
	via := "direct"
	if e.Proxied {
		via = "socks5"
	}
	if e.Kind == KindConnectRejected {
		return fmt.Sprintf("connect %s (%s): %s, reply code %d: %v", e.Addr, via, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("connect %s (%s): %s: %v", e.Addr, via, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Timeout reports whether the connect timed out.
func (e *ConnectError) Timeout() bool { return e.Kind == KindTimeout }

// Outcome maps the error to the attempt outcome recorded in the attempt log.
// Proxy-specific kinds collapse into OutcomeProxyFailed.
func (e *ConnectError) Outcome() types.AttemptOutcome {
	switch e.Kind {
	case KindTimeout:
		return types.OutcomeTimeout
	case KindConnectFailed:
		return types.OutcomeConnectFailed
	default:
		return types.OutcomeProxyFailed
	}
}

// socksReplies maps the reply strings produced by golang.org/x/net/proxy
// back to their RFC 1928 codes.
var socksReplies = map[string]int{
	"general SOCKS server failure":      1,
	"connection not allowed by ruleset": 2,
	"network unreachable":               3,
	"host unreachable":                  4,
	"connection refused":                5,
	"TTL expired":                       6,
	"command not supported":             7,
	"address type not supported":        8,
}

func classifyDirect(addr string, err error) *ConnectError {
	kind := KindConnectFailed
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &ConnectError{Kind: kind, Addr: addr, Err: err}
}

func classifyProxied(addr string, reached bool, err error) *ConnectError {
	ce := &ConnectError{Kind: KindProxyFailed, Addr: addr, Proxied: true, Err: err}
	if isTimeout(err) {
		ce.Kind = KindTimeout
		return ce
	}
	if !reached {
		return ce
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "username/password"):
		ce.Kind = KindAuthRejected
	case strings.Contains(msg, "unknown error "):
		ce.Kind = KindConnectRejected
		reply := msg[strings.LastIndex(msg, "unknown error ")+len("unknown error "):]
		if code, ok := socksReplies[reply]; ok {
			ce.Code = code
		} else if n, scanErr := fmt.Sscanf(reply, "unknown code: %d", &ce.Code); scanErr != nil || n != 1 {
			ce.Code = 0
		}
	}
	return ce
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
