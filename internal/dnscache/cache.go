// Package dnscache provides a thread-safe, TTL-based cache for the DNS answers
// the verifier needs (MX and address records), with singleflight
// deduplication for concurrent requests and an optional shared second tier.
package dnscache

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/mjl-/adns"

	"github.com/optimode/emailprobe/internal/logger"
	"github.com/optimode/emailprobe/internal/metrics"
)

// Resolver performs the actual DNS queries. *adns.Resolver implements it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, adns.Result, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, adns.Result, error)
}

// Store is a shared cache tier consulted before the resolver, typically
// shared between processes. Implementations must be safe for concurrent use.
// A Store failure is never fatal: the lookup falls through to the resolver.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

const (
	typeMX   = "mx"
	typeAddr = "addr"
)

// MaxCacheTTL caps the cache TTL. Answers are kept for the configured TTL
// rather than the record TTL, which adns does not report for MX and
// address lookups, so the cap bounds how stale an answer can get.
const MaxCacheTTL = time.Hour

// Cache is a thread-safe DNS answer cache keyed by record type and domain.
// Concurrent lookups for the same key are deduplicated:
// only one actual DNS query is performed, and all waiters receive the result.
// Positive and not-found answers are cached; timeouts and server failures are not.
type Cache struct {
	mu            sync.Mutex
	entries       map[string]*entry
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	resolver      Resolver
	store         Store
}

type entry struct {
	ans     answer
	err     error
	expires time.Time
	done    chan struct{} // closed when lookup is complete
}

// answer is also the wire format of the shared store.
type answer struct {
	MX       []*net.MX `json:"mx,omitempty"`
	Addrs    []string  `json:"addrs,omitempty"`
	NotFound bool      `json:"notFound,omitempty"`
}

// New creates a DNS cache with the given lookup timeout and cache TTL,
// resolving through adns with strict error reporting. The TTL is capped at
// MaxCacheTTL.
func New(lookupTimeout, cacheTTL time.Duration) *Cache {
	cacheTTL = min(cacheTTL, MaxCacheTTL)
	return &Cache{
		entries:       make(map[string]*entry),
		cacheTTL:      cacheTTL,
		lookupTimeout: lookupTimeout,
		resolver:      &adns.Resolver{StrictErrors: true},
	}
}

// NewWithResolver creates a DNS cache with a custom resolver.
func NewWithResolver(lookupTimeout, cacheTTL time.Duration, r Resolver) *Cache {
	c := New(lookupTimeout, cacheTTL)
	c.resolver = r
	return c
}

// SetStore installs a shared cache tier. Must be called before the first lookup.
func (c *Cache) SetStore(s Store) {
	c.store = s
}

// LookupMX returns MX records for the domain, using the cache when possible.
// A domain without MX records yields a not-found *adns.DNSError.
func (c *Cache) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	ans, err := c.lookup(ctx, typeMX, domain, func(ctx context.Context) (answer, error) {
		recs, _, err := c.resolver.LookupMX(ctx, absolute(domain))
		return answer{MX: recs}, err
	})
	return copyMX(ans.MX), err
}

// LookupAddrs returns the IPv4 and IPv6 addresses of the domain, using the
// cache when possible.
func (c *Cache) LookupAddrs(ctx context.Context, domain string) ([]string, error) {
	ans, err := c.lookup(ctx, typeAddr, domain, func(ctx context.Context) (answer, error) {
		ips, _, err := c.resolver.LookupIPAddr(ctx, absolute(domain))
		var addrs []string
		for _, ip := range ips {
			addrs = append(addrs, ip.String())
		}
		return answer{Addrs: addrs}, err
	})
	return append([]string(nil), ans.Addrs...), err
}

// Len returns the number of entries in the cache (for diagnostics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(ctx context.Context, typ, domain string, query func(context.Context) (answer, error)) (answer, error) {
	key := typ + ":" + domain

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		select {
		case <-e.done:
			if time.Now().Before(e.expires) {
				c.mu.Unlock()
				metrics.DNSLookupsTotal.WithLabelValues(typ, "cached").Inc()
				return e.result(domain)
			}
			// Expired, start a new lookup.
			ok = false
		default:
			// Lookup in progress, wait for it below.
		}
	}
	if !ok {
		e = &entry{done: make(chan struct{})}
		c.entries[key] = e
		go c.fill(context.WithoutCancel(ctx), key, typ, e, query)
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.result(domain)
	case <-ctx.Done():
		return answer{}, ctx.Err()
	}
}

// fill resolves one entry. It runs detached from the requesting caller so
// that a cancelled caller does not poison the answer for other waiters.
func (c *Cache) fill(ctx context.Context, key, typ string, e *entry, query func(context.Context) (answer, error)) {
	log := logger.FromContext(ctx)

	if ans, ok := c.fromStore(ctx, key); ok {
		metrics.DNSLookupsTotal.WithLabelValues(typ, "shared").Inc()
		c.finish(key, e, ans, nil)
		return
	}

	qctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	start := time.Now()
	ans, err := query(qctx)
	result := resultLabel(err)
	metrics.DNSLookupsTotal.WithLabelValues(typ, result).Inc()
	log.Debug().
		Str("type", typ).
		Str("key", key).
		Str("result", result).
		Dur("duration", time.Since(start)).
		Msg("dns lookup")

	if err != nil && IsNotFound(err) {
		ans = answer{NotFound: true}
		err = nil
	}
	if err == nil && c.store != nil {
		if b, merr := json.Marshal(ans); merr == nil {
			if serr := c.store.Set(ctx, key, b, c.cacheTTL); serr != nil {
				log.Warn().Err(serr).Str("key", key).Msg("dns cache store write failed")
			}
		}
	}
	c.finish(key, e, ans, err)
}

func (c *Cache) fromStore(ctx context.Context, key string) (answer, bool) {
	if c.store == nil {
		return answer{}, false
	}
	b, found, err := c.store.Get(ctx, key)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("key", key).Msg("dns cache store read failed")
		return answer{}, false
	}
	if !found {
		return answer{}, false
	}
	var ans answer
	if err := json.Unmarshal(b, &ans); err != nil {
		return answer{}, false
	}
	return ans, true
}

func (c *Cache) finish(key string, e *entry, ans answer, err error) {
	c.mu.Lock()
	e.ans, e.err = ans, err
	if err == nil {
		e.expires = time.Now().Add(c.cacheTTL)
	} else if c.entries[key] == e {
		// Transient failures are not cached.
		delete(c.entries, key)
	}
	c.mu.Unlock()
	close(e.done)
}

func (e *entry) result(domain string) (answer, error) {
	if e.err != nil {
		return answer{}, e.err
	}
	if e.ans.NotFound {
		return answer{}, &adns.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}
	return e.ans, nil
}

// IsNotFound reports whether err means the name has no records of the
// requested type (or does not exist at all).
func IsNotFound(err error) bool {
	var dnsErr *adns.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	var netErr *net.DNSError
	if errors.As(err, &netErr) {
		return netErr.IsNotFound
	}
	return false
}

// IsTimeout reports whether err is a DNS or context timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var dnsErr *adns.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout
	}
	var netErr *net.DNSError
	if errors.As(err, &netErr) {
		return netErr.IsTimeout
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "notfound"
	case IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func absolute(domain string) string {
	if domain == "" || domain[len(domain)-1] == '.' {
		return domain
	}
	return domain + "."
}

// copyMX returns a deep copy of MX records to prevent callers from
// mutating cached data (e.g., via sort.Slice).
func copyMX(records []*net.MX) []*net.MX {
	if records == nil {
		return nil
	}
	out := make([]*net.MX, len(records))
	for i, r := range records {
		cp := *r
		out[i] = &cp
	}
	return out
}
