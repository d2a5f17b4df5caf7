package emailprobe

import (
	"time"

	"github.com/optimode/emailprobe/internal/dnscache"
)

// DNSResolver performs the DNS queries behind MX resolution. The default is
// github.com/mjl-/adns with strict error reporting.
type DNSResolver = dnscache.Resolver

// DNSOptions configures the DNS validation level.
type DNSOptions struct {
	// Timeout is the maximum time for one DNS query. Default: 5s
	Timeout time.Duration
	// CacheTTL is how long answers are cached. It applies to every answer
	// regardless of the TTL published on the records, and is capped at one
	// hour. Default: 5m
	CacheTTL time.Duration
	// RedisURL enables a shared answer cache in Redis, e.g.
	// "redis://localhost:6379/0". Default: none (in-process only)
	RedisURL string
	// Resolver overrides the DNS resolver. Default: adns
	Resolver DNSResolver
}

func defaultDNSOptions() DNSOptions {
	return DNSOptions{
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
	}
}

// DomainOptions configures the domain-level validation.
type DomainOptions struct {
	// CheckDisposable when true fails on known disposable domains. Default: true
	CheckDisposable bool
	// CheckTypos when true suggests corrections for close-match domains. Default: true
	// This never fails an email, only provides a suggestion (Suggestion field).
	CheckTypos bool
	// TypoThreshold is the Levenshtein distance threshold for typo detection. Default: 2
	TypoThreshold int
}

func defaultDomainOptions() DomainOptions {
	return DomainOptions{
		CheckDisposable: true,
		CheckTypos:      true,
		TypoThreshold:   2,
	}
}

// ProxyOptions routes SMTP connections through a SOCKS5 proxy.
type ProxyOptions struct {
	Address  string // host:port
	Username string
	Password string
}

// SMTPOptions configures the SMTP probe level.
type SMTPOptions struct {
	// HeloDomain is the host name sent in EHLO/HELO. Required, e.g. "probe.myapp.com"
	HeloDomain string
	// MailFrom is a fixed MAIL FROM address. Default: a random local part at
	// ProbeSenderDomain, regenerated for every attempt
	MailFrom string
	// ProbeSenderDomain is the domain of the random probe sender. Default: HeloDomain
	ProbeSenderDomain string
	// ConnectTimeout is the maximum time to establish a connection. Default: 10s
	ConnectTimeout time.Duration
	// CommandTimeout is the maximum response time for one SMTP command. Default: 10s
	CommandTimeout time.Duration
	// MaxMXHosts is how many MX hosts to try sequentially. Default: 0 (all)
	MaxMXHosts int
	// Port is the SMTP port. Default: 25
	Port int
	// MaxRetriesOnGreylist is how often one host is retried after a transient
	// RCPT TO reply. Default: 2. Negative disables retries.
	MaxRetriesOnGreylist int
	// GreylistBackoff is the first retry delay, doubled on each retry. Default: 2s
	GreylistBackoff time.Duration
	// SkipCatchAllProbe disables the random-recipient probe after an accepted RCPT TO.
	SkipCatchAllProbe bool
	// TLSMode selects STARTTLS usage. Default: TLSOpportunistic
	TLSMode TLSMode
	// TLSSkipVerify disables certificate verification after STARTTLS.
	TLSSkipVerify bool
	// Proxy tunnels every connection through SOCKS5. Default: direct
	Proxy *ProxyOptions
	// Patterns overrides the reply-text classification table. Default: DefaultPatterns()
	Patterns *Patterns
}

func defaultSMTPOptions() SMTPOptions {
	return SMTPOptions{
		ConnectTimeout:       10 * time.Second,
		CommandTimeout:       10 * time.Second,
		Port:                 25,
		MaxRetriesOnGreylist: 2,
		GreylistBackoff:      2 * time.Second,
		TLSMode:              TLSOpportunistic,
	}
}

// GravatarOptions configures the Gravatar lookup.
type GravatarOptions struct {
	// Timeout bounds the HTTP request. Default: 5s
	Timeout time.Duration
	// BaseURL of the Gravatar service. Default: https://www.gravatar.com
	BaseURL string
}

// ConcurrencyOptions configures concurrent processing for ValidateMany.
type ConcurrencyOptions struct {
	// Workers is the number of concurrent goroutines. Default: 5
	Workers int
}
