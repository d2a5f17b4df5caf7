package check

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/optimode/emailprobe/internal/logger"
	"github.com/optimode/emailprobe/internal/metrics"
	"github.com/optimode/emailprobe/internal/parse"
	"github.com/optimode/emailprobe/internal/smtpprobe"
	"github.com/optimode/emailprobe/types"
)

// SMTPConfig is the SMTP checker configuration.
type SMTPConfig struct {
	MaxMXHosts           int // 0 means all
	MaxRetriesOnGreylist int
	GreylistBackoff      time.Duration
}

// Prober runs one SMTP conversation. *smtpprobe.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, host, local, domain string) smtpprobe.Result
}

// SMTPChecker walks the mail hosts of a domain in priority order until one of
// them gives a definitive answer about the mailbox. Transient RCPT replies
// (greylisting) are retried on the same host with exponential backoff; every
// other inconclusive attempt moves on to the next host immediately.
type SMTPChecker struct {
	cfg    SMTPConfig
	dns    *DNSChecker
	prober Prober
}

// NewSMTPChecker creates an SMTP checker. dns is only used by Check.
func NewSMTPChecker(cfg SMTPConfig, dns *DNSChecker, prober Prober) *SMTPChecker {
	if cfg.GreylistBackoff <= 0 {
		cfg.GreylistBackoff = 2 * time.Second
	}
	if cfg.MaxRetriesOnGreylist < 0 {
		cfg.MaxRetriesOnGreylist = 0
	}
	return &SMTPChecker{cfg: cfg, dns: dns, prober: prober}
}

// Verify probes email against hosts and returns what was learned together
// with the attempt log. It never fails: when the context ends the partial
// result is returned.
func (c *SMTPChecker) Verify(ctx context.Context, hosts []types.MXHost, email parse.Email) (types.SMTPResult, []types.Attempt) {
	log := logger.FromContext(ctx)

	if c.cfg.MaxMXHosts > 0 && len(hosts) > c.cfg.MaxMXHosts {
		hosts = hosts[:c.cfg.MaxMXHosts]
	}

	var (
		attempts []types.Attempt
		last     *smtpprobe.Result
		lastHost string
		connects bool
	)

hosts:
	for _, mx := range hosts {
		retry := c.greylistBackoff(ctx)

		for try := 1; ; try++ {
			if ctx.Err() != nil {
				break hosts
			}

			start := time.Now()
			res := c.prober.Probe(ctx, mx.Host, email.Local, email.Domain)
			attempts = append(attempts, attemptEntry(mx.Host, try, res, time.Since(start)))
			metrics.SMTPAttemptsTotal.WithLabelValues(string(res.Outcome), string(res.Verdict)).Inc()
			if res.Outcome == types.OutcomeConnected {
				connects = true
			}
			last, lastHost = &res, mx.Host

			if res.State == smtpprobe.StateDone && res.Verdict.Definitive() {
				return buildSMTPResult(res, mx.Host, connects), attempts
			}
			if res.State != smtpprobe.StateRetryable {
				continue hosts
			}

			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				log.Info().Str("mx", mx.Host).Int("tries", try).Msg("greylisting persisted, moving to next host")
				continue hosts
			}
			metrics.GreylistRetriesTotal.Inc()
			log.Info().
				Str("mx", mx.Host).
				Int("try", try).
				Dur("backoff", wait).
				Str("reply", res.Reply.String()).
				Msg("transient reply, retrying host")
			if !sleep(ctx, wait) {
				break hosts
			}
		}
	}

	out := types.SMTPResult{CanConnect: connects}
	switch {
	case ctx.Err() != nil:
		out.Reason = "overall timeout reached"
	case last == nil:
		out.Reason = "no mail hosts to probe"
	default:
		out.MXHost = lastHost
		out.SMTPCode = last.Reply.Code
		out.Reason = last.Reason()
		if out.Reason == "" {
			out.Reason = "no definitive answer from any mail host"
		}
	}
	if len(hosts) > 0 {
		out.ProviderGuess = smtpprobe.GuessProvider(hosts[0].Host)
	}
	return out, attempts
}

// greylistBackoff returns the retry schedule for one host.
func (c *SMTPChecker) greylistBackoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.GreylistBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Minute
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetriesOnGreylist)), ctx)
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func attemptEntry(host string, try int, res smtpprobe.Result, d time.Duration) types.Attempt {
	return types.Attempt{
		Host:     host,
		Try:      try,
		Outcome:  res.Outcome,
		Banner:   res.Banner,
		State:    res.State.String(),
		Verdict:  string(res.Verdict),
		Reason:   res.Reason(),
		SMTPCode: res.Reply.Code,
		TLS:      res.TLS,
		Duration: d,
	}
}

func buildSMTPResult(res smtpprobe.Result, host string, connects bool) types.SMTPResult {
	out := types.SMTPResult{
		CanConnect:    connects,
		ProviderGuess: smtpprobe.GuessProvider(host),
		MXHost:        host,
		SMTPCode:      res.Reply.Code,
		Reason:        res.Reason(),
	}
	deliverable := false
	switch res.Verdict {
	case smtpprobe.VerdictAccepted:
		deliverable = true
		out.IsCatchAll = res.CatchAll
	case smtpprobe.VerdictFullInbox:
		out.HasFullInbox = true
	case smtpprobe.VerdictDisabled:
		out.IsDisabled = true
	case smtpprobe.VerdictSenderRejected:
		out.SenderRejected = true
	}
	out.IsDeliverable = &deliverable
	return out
}

func (c *SMTPChecker) Check(ctx context.Context, email parse.Email) types.CheckResult {
	level := types.LevelSMTP

	if !email.Valid {
		return types.CheckResult{Level: level, Passed: false, Details: "skipped: invalid email"}
	}

	hosts, err := c.dns.ResolveMX(ctx, email.Domain)
	if err != nil {
		return types.CheckResult{Level: level, Passed: false, Details: fmt.Sprintf("MX lookup failed: %v", err)}
	}

	res, _ := c.Verify(ctx, hosts, email)
	return SMTPCheckResult(res)
}

// SMTPCheckResult summarizes an SMTP result as a check result.
func SMTPCheckResult(res types.SMTPResult) types.CheckResult {
	r := types.CheckResult{
		Level:    types.LevelSMTP,
		MXHost:   res.MXHost,
		SMTPCode: res.SMTPCode,
	}
	switch {
	case res.IsDeliverable == nil:
		r.Details = "inconclusive: " + res.Reason
	case *res.IsDeliverable && res.IsCatchAll:
		r.Passed = true
		r.Details = "RCPT TO accepted (catch-all domain)"
	case *res.IsDeliverable:
		r.Passed = true
		r.Details = "RCPT TO accepted"
	case res.HasFullInbox:
		r.Details = "mailbox full: " + res.Reason
	case res.IsDisabled:
		r.Details = "mailbox disabled: " + res.Reason
	default:
		r.Details = "RCPT rejected: " + res.Reason
	}
	return r
}
