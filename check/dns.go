package check

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/optimode/emailprobe/internal/dnscache"
	"github.com/optimode/emailprobe/internal/parse"
	"github.com/optimode/emailprobe/types"
)

// DNSErrorKind classifies DNS failures.
type DNSErrorKind string

const (
	DNSNoRecords     DNSErrorKind = "no_records"
	DNSTimeout       DNSErrorKind = "timeout"
	DNSServerFailure DNSErrorKind = "server_failure"
)

// DNSError is returned by ResolveMX.
type DNSError struct {
	Kind   DNSErrorKind
	Domain string
	Err    error
}

func (e *DNSError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dns %s: %s", e.Domain, e.Kind)
	}
	return fmt.Sprintf("dns %s: %s: %v", e.Domain, e.Kind, e.Err)
}

func (e *DNSError) Unwrap() error { return e.Err }

// MXResolver looks up mail routing records. *dnscache.Cache implements it.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupAddrs(ctx context.Context, domain string) ([]string, error)
}

// DNSChecker resolves the mail hosts of a domain.
type DNSChecker struct {
	resolver MXResolver
}

func NewDNSChecker(resolver MXResolver) *DNSChecker {
	return &DNSChecker{resolver: resolver}
}

// ResolveMX returns the domain's mail hosts in attempt order: ascending
// priority, ties in resolution order. A domain without MX records but with
// an address record gets a single implicit host {domain, 0}.
func (c *DNSChecker) ResolveMX(ctx context.Context, domain string) ([]types.MXHost, error) {
	if isDomainLiteral(domain) {
		ip := strings.TrimPrefix(strings.Trim(domain, "[]"), "IPv6:")
		if net.ParseIP(ip) == nil {
			return nil, &DNSError{Kind: DNSNoRecords, Domain: domain, Err: errors.New("malformed address literal")}
		}
		return []types.MXHost{{Host: ip}}, nil
	}

	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil && !dnscache.IsNotFound(err) {
		return nil, dnsFailure(ctx, domain, err)
	}

	hosts := make([]types.MXHost, 0, len(records))
	nullMX := false
	for _, r := range records {
		host := strings.TrimSuffix(r.Host, ".")
		if host == "" {
			// RFC 7505 null MX: the domain accepts no mail.
			nullMX = true
			continue
		}
		hosts = append(hosts, types.MXHost{Host: host, Priority: r.Pref})
	}
	if len(hosts) > 0 {
		slices.SortStableFunc(hosts, func(a, b types.MXHost) int {
			return cmp.Compare(a.Priority, b.Priority)
		})
		return hosts, nil
	}
	if nullMX {
		return nil, &DNSError{Kind: DNSNoRecords, Domain: domain, Err: errors.New("null MX, domain accepts no mail")}
	}

	// Implicit MX (RFC 5321 section 5.1).
	addrs, err := c.resolver.LookupAddrs(ctx, domain)
	if err != nil && !dnscache.IsNotFound(err) {
		return nil, dnsFailure(ctx, domain, err)
	}
	if len(addrs) == 0 {
		return nil, &DNSError{Kind: DNSNoRecords, Domain: domain}
	}
	return []types.MXHost{{Host: domain, Priority: 0}}, nil
}

func dnsFailure(ctx context.Context, domain string, err error) *DNSError {
	if ctx.Err() != nil || dnscache.IsTimeout(err) {
		return &DNSError{Kind: DNSTimeout, Domain: domain, Err: err}
	}
	return &DNSError{Kind: DNSServerFailure, Domain: domain, Err: err}
}

func (c *DNSChecker) Check(ctx context.Context, email parse.Email) types.CheckResult {
	if !email.Valid {
		return types.CheckResult{Level: types.LevelDNS, Passed: false, Details: "skipped: invalid email"}
	}
	hosts, err := c.ResolveMX(ctx, email.Domain)
	return DNSCheckResult(hosts, err)
}

// DNSCheckResult summarizes a ResolveMX outcome as a check result.
func DNSCheckResult(hosts []types.MXHost, err error) types.CheckResult {
	level := types.LevelDNS
	if err != nil {
		return types.CheckResult{Level: level, Passed: false, Details: fmt.Sprintf("MX lookup failed: %v", err)}
	}
	if len(hosts) == 0 {
		return types.CheckResult{Level: level, Passed: false, Details: "no MX records found"}
	}
	return types.CheckResult{
		Level:   level,
		Passed:  true,
		Details: fmt.Sprintf("%d mail host(s) found", len(hosts)),
		MXHost:  hosts[0].Host,
	}
}
