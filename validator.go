package emailprobe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/optimode/emailprobe/check"
	"github.com/optimode/emailprobe/internal/dialer"
	"github.com/optimode/emailprobe/internal/dnscache"
	"github.com/optimode/emailprobe/internal/gravatar"
	"github.com/optimode/emailprobe/internal/logger"
	"github.com/optimode/emailprobe/internal/metrics"
	"github.com/optimode/emailprobe/internal/parse"
	"github.com/optimode/emailprobe/internal/smtpprobe"
	"github.com/optimode/emailprobe/types"
)

// redisKeyPrefix namespaces the shared DNS cache entries.
const redisKeyPrefix = "emailprobe:dns:"

// Validator is the main fluent builder struct.
// Instantiate with the New() function.
// When a Redis DNS cache is configured, call Close() when done.
type Validator struct {
	err error // configuration error, returned on Validate()
	log zerolog.Logger

	syntax      *check.SyntaxChecker
	domain      *check.DomainChecker
	domainCheck bool // report the domain level in Result.Checks
	dns         *check.DNSChecker
	dnsCache    *dnscache.Cache
	smtp        *check.SMTPChecker
	gravatar    *gravatar.Client

	overallTimeout time.Duration
	redis          *redis.Client
}

// New creates a new Validator. By default it only performs syntax checking
// and the local domain classification.
// Syntax checking always runs and cannot be disabled, because a valid email
// address is a prerequisite for the other levels.
func New() *Validator {
	return &Validator{
		log:    zerolog.Nop(),
		syntax: check.NewSyntaxChecker(),
		domain: newDomainChecker(defaultDomainOptions()),
	}
}

// WithLogger sets the logger of the verification runs. Every line carries
// the run ID. Default: no logging.
func (v *Validator) WithLogger(l zerolog.Logger) *Validator {
	v.log = l
	return v
}

// WithOverallTimeout bounds a whole verification run. When the deadline is
// reached mid-conversation the connection is dropped and the run ends with
// Unknown. Default: none (the caller's context only).
func (v *Validator) WithOverallTimeout(d time.Duration) *Validator {
	v.overallTimeout = d
	return v
}

// WithDNS adds MX resolution to the pipeline.
// Optionally overrides the default DNSOptions.
// Answers are cached and shared with the SMTP level.
func (v *Validator) WithDNS(opts ...DNSOptions) *Validator {
	o := defaultDNSOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	def := defaultDNSOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = def.CacheTTL
	}

	if o.Resolver != nil {
		v.dnsCache = dnscache.NewWithResolver(o.Timeout, o.CacheTTL, o.Resolver)
	} else {
		v.dnsCache = dnscache.New(o.Timeout, o.CacheTTL)
	}
	if o.RedisURL != "" {
		ropts, err := redis.ParseURL(o.RedisURL)
		if err != nil {
			v.err = fmt.Errorf("emailprobe: redis url: %w", err)
			return v
		}
		if v.redis != nil {
			_ = v.redis.Close()
		}
		v.redis = redis.NewClient(ropts)
		v.dnsCache.SetStore(dnscache.NewRedisStore(v.redis, redisKeyPrefix))
	}
	v.dns = check.NewDNSChecker(v.dnsCache)
	return v
}

// WithDomain adds the domain level (disposable + typo) to Result.Checks.
// The classification itself always runs; the options tune it.
func (v *Validator) WithDomain(opts ...DomainOptions) *Validator {
	o := defaultDomainOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	v.domain = newDomainChecker(o)
	v.domainCheck = true
	return v
}

func newDomainChecker(o DomainOptions) *check.DomainChecker {
	return check.NewDomainChecker(check.DomainConfig{
		CheckDisposable: o.CheckDisposable,
		CheckTypos:      o.CheckTypos,
		TypoThreshold:   o.TypoThreshold,
	})
}

// WithSMTP adds the SMTP probe to the pipeline. It implies WithDNS with
// default options unless WithDNS was called.
// SMTPOptions.HeloDomain is required.
func (v *Validator) WithSMTP(opts SMTPOptions) *Validator {
	if opts.HeloDomain == "" {
		v.err = ErrInvalidSMTPOptions
		return v
	}
	// Apply defaults for unset values
	def := defaultSMTPOptions()
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.MaxRetriesOnGreylist == 0 {
		opts.MaxRetriesOnGreylist = def.MaxRetriesOnGreylist
	}
	if opts.GreylistBackoff == 0 {
		opts.GreylistBackoff = def.GreylistBackoff
	}
	if opts.TLSMode == "" {
		opts.TLSMode = def.TLSMode
	}

	dcfg := dialer.Config{}
	if opts.Proxy != nil {
		dcfg.Proxy = &dialer.Socks5Config{
			Address:  opts.Proxy.Address,
			Username: opts.Proxy.Username,
			Password: opts.Proxy.Password,
		}
	}
	connector, err := dialer.New(dcfg)
	if err != nil {
		v.err = err
		return v
	}

	if v.dns == nil {
		v.WithDNS()
	}

	prober := smtpprobe.New(smtpprobe.Config{
		HeloDomain:        opts.HeloDomain,
		MailFrom:          opts.MailFrom,
		ProbeSenderDomain: opts.ProbeSenderDomain,
		Port:              opts.Port,
		ConnectTimeout:    opts.ConnectTimeout,
		CommandTimeout:    opts.CommandTimeout,
		TLSMode:           opts.TLSMode,
		TLSSkipVerify:     opts.TLSSkipVerify,
		SkipCatchAllProbe: opts.SkipCatchAllProbe,
		Patterns:          opts.Patterns,
		Connector:         connector,
	})

	v.smtp = check.NewSMTPChecker(
		check.SMTPConfig{
			MaxMXHosts:           opts.MaxMXHosts,
			MaxRetriesOnGreylist: max(opts.MaxRetriesOnGreylist, 0),
			GreylistBackoff:      opts.GreylistBackoff,
		},
		v.dns,
		prober,
	)
	return v
}

// WithGravatar adds the best-effort Gravatar lookup. Its outcome is reported
// in Result.Misc and never affects the verdict.
func (v *Validator) WithGravatar(opts ...GravatarOptions) *Validator {
	var o GravatarOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	v.gravatar = gravatar.New(o.BaseURL, o.Timeout)
	return v
}

// Close releases resources held by the Validator.
// Safe to call multiple times. No-op if no external resources exist.
func (v *Validator) Close() error {
	if v.redis == nil {
		return nil
	}
	err := v.redis.Close()
	v.redis = nil
	return err
}

// Validate runs the configured pipeline on the given email. Invalid syntax
// ends the run before any network work. Only blank input and configuration
// errors are returned as errors; everything a remote server does ends up in
// the Result.
// Context can be used for timeout or cancellation.
func (v *Validator) Validate(ctx context.Context, email string) (Result, error) {
	if v.err != nil {
		return Result{}, v.err
	}

	parsed, err := v.syntax.Validate(email)
	if errors.Is(err, ErrEmptyInput) {
		return Result{}, ErrEmptyInput
	}
	return v.run(ctx, parsed, err), nil
}

// run is one verification. All intermediate state is local to it.
func (v *Validator) run(ctx context.Context, email parse.Email, syntaxErr error) Result {
	started := time.Now()
	runID := logger.NewRunID()
	ctx = logger.WithRunID(logger.WithLogger(ctx, v.log), runID)
	log := logger.FromContext(ctx)

	if v.overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.overallTimeout)
		defer cancel()
	}

	res := Result{
		Email:  email.Raw,
		Checks: []CheckResult{v.syntax.Check(ctx, email)},
		Syntax: Syntax{IsValid: syntaxErr == nil},
	}
	sig := check.Signals{SyntaxValid: syntaxErr == nil}

	if syntaxErr != nil {
		var se *check.SyntaxError
		if errors.As(syntaxErr, &se) {
			res.Syntax.Reason = se.Reason
		}
	} else {
		res.Syntax.Address = email.String()
		res.Syntax.Username = email.Local
		res.Syntax.Domain = email.Domain

		var (
			g      errgroup.Group
			class  check.DomainClass
			hosts  []types.MXHost
			dnsErr error
			avatar *bool
		)
		g.Go(func() error {
			class = v.domain.Classify(email)
			return nil
		})
		if v.dns != nil {
			g.Go(func() error {
				hosts, dnsErr = v.dns.ResolveMX(ctx, email.Domain)
				return nil
			})
		}
		if v.gravatar != nil {
			g.Go(func() error {
				avatar = v.gravatar.Check(ctx, email.Address())
				return nil
			})
		}
		_ = g.Wait()

		res.Misc = types.Misc{
			IsDisposable:   class.Disposable,
			IsFreeProvider: class.FreeProvider,
			Gravatar:       avatar,
			Suggestion:     class.Suggestion,
		}
		sig.Disposable = class.Disposable

		if v.dns != nil {
			res.MXHosts = hosts
			res.Checks = append(res.Checks, check.DNSCheckResult(hosts, dnsErr))
			if dnsErr != nil {
				res.DNSError = dnsErr.Error()
				var de *check.DNSError
				if errors.As(dnsErr, &de) {
					sig.DNSErr = de
				} else {
					sig.DNSErr = &check.DNSError{Kind: check.DNSServerFailure, Domain: email.Domain, Err: dnsErr}
				}
			}
		}
		if v.domainCheck {
			res.Checks = append(res.Checks, v.domain.Check(ctx, email))
		}

		if v.smtp != nil && len(hosts) > 0 {
			smtpRes, attempts := v.smtp.Verify(ctx, hosts, email)
			res.SMTP = &smtpRes
			res.Debug.Attempts = attempts
			res.Checks = append(res.Checks, check.SMTPCheckResult(smtpRes))
			sig.SMTP = res.SMTP
		}
		if v.gravatar != nil {
			res.Checks = append(res.Checks, gravatarCheckResult(avatar))
		}
	}

	sig.TimedOut = ctx.Err() != nil
	res.Reachability, res.Reason = check.Aggregate(sig)

	elapsed := time.Since(started)
	res.Debug.RunID = runID
	res.Debug.StartedAt = started
	res.Debug.Elapsed = elapsed
	res.Debug.TimedOut = sig.TimedOut

	metrics.VerificationsTotal.WithLabelValues(string(res.Reachability)).Inc()
	metrics.VerificationDuration.Observe(elapsed.Seconds())
	log.Info().
		Str("domain", email.Domain).
		Str("reachability", string(res.Reachability)).
		Str("reason", res.Reason).
		Int("attempts", len(res.Debug.Attempts)).
		Bool("timed_out", sig.TimedOut).
		Dur("elapsed", elapsed).
		Msg("verification finished")

	return res
}

func gravatarCheckResult(found *bool) CheckResult {
	r := CheckResult{Level: types.LevelGravatar, Passed: true}
	switch {
	case found == nil:
		r.Details = "gravatar lookup inconclusive"
	case *found:
		r.Details = "gravatar found"
	default:
		r.Details = "no gravatar"
	}
	return r
}

// ValidateMany validates multiple emails concurrently.
// The result order matches the input slice order. An input that fails
// with an error leaves a zero Result in its slot; the first such error is
// returned after all emails were processed.
// Emails are sorted by domain internally for optimal DNS cache utilization.
func (v *Validator) ValidateMany(ctx context.Context, emails []string, opts ...ConcurrencyOptions) ([]Result, error) {
	if v.err != nil {
		return nil, v.err
	}

	workers := 5
	if len(opts) > 0 && opts[0].Workers > 0 {
		workers = opts[0].Workers
	}

	type job struct {
		idx    int
		email  string
		domain string
	}

	// Build and sort jobs by domain for cache locality
	jobs := make([]job, len(emails))
	for i, e := range emails {
		domain := ""
		if atIdx := strings.LastIndex(e, "@"); atIdx >= 0 {
			domain = strings.ToLower(e[atIdx+1:])
		}
		jobs[i] = job{idx: i, email: e, domain: domain}
	}
	slices.SortStableFunc(jobs, func(a, b job) int {
		return strings.Compare(a.domain, b.domain)
	})

	results := make([]Result, len(emails))
	var g errgroup.Group
	g.SetLimit(workers)
	for _, j := range jobs {
		g.Go(func() error {
			res, err := v.Validate(ctx, j.email)
			if err != nil {
				return fmt.Errorf("validating %q: %w", j.email, err)
			}
			results[j.idx] = res
			return nil
		})
	}
	return results, g.Wait()
}
