// Package smtpprobe runs one SMTP conversation against one mail host to learn
// whether it would accept mail for an address, without ever sending DATA.
//
// Each call to Probe owns its connection for its whole lifetime: the socket
// is closed on every exit path, after RSET and QUIT when the conversation is
// still healthy, or immediately when the caller's context ends.
package smtpprobe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/optimode/emailprobe/internal/logger"
	"github.com/optimode/emailprobe/types"
)

// TLSMode selects how STARTTLS is used.
type TLSMode string

const (
	TLSNone          TLSMode = "none"
	TLSOpportunistic TLSMode = "opportunistic" // upgrade when offered
	TLSRequired      TLSMode = "required"      // fail the attempt when not offered
)

// State is a step of the SMTP conversation.
type State int

const (
	StateInit State = iota
	StateConnected
	StateGreeted
	StateTLSNegotiated
	StateHeloSent
	StateMailFromSent
	StateRcptToSent
	StateDone
	StateRetryable
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnected:
		return "connected"
	case StateGreeted:
		return "greeted"
	case StateTLSNegotiated:
		return "tls_negotiated"
	case StateHeloSent:
		return "helo_sent"
	case StateMailFromSent:
		return "mail_from_sent"
	case StateRcptToSent:
		return "rcpt_to_sent"
	case StateDone:
		return "done"
	case StateRetryable:
		return "retryable"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Connector opens the transport to a mail host.
type Connector interface {
	Connect(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error)
}

// Config configures a Prober.
type Config struct {
	HeloDomain string
	// MailFrom is a fixed probe sender. When empty, a random local part at
	// ProbeSenderDomain is generated for every attempt.
	MailFrom          string
	ProbeSenderDomain string
	Port              int
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	TLSMode           TLSMode
	TLSSkipVerify     bool
	SkipCatchAllProbe bool
	Patterns          *Patterns
	Connector         Connector
}

// Prober runs SMTP conversations. It is safe for concurrent use.
type Prober struct {
	cfg Config
}

// New creates a Prober, filling in defaults.
func New(cfg Config) *Prober {
	if cfg.HeloDomain == "" {
		cfg.HeloDomain = "localhost"
	}
	if cfg.ProbeSenderDomain == "" {
		cfg.ProbeSenderDomain = cfg.HeloDomain
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSOpportunistic
	}
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns()
	}
	return &Prober{cfg: cfg}
}

// Result is the outcome of one attempt against one host.
type Result struct {
	Outcome  types.AttemptOutcome
	Banner   string
	State    State // terminal state: StateDone, StateRetryable or StateFailed
	Verdict  Verdict
	Reply    Reply // the reply that decided the verdict, if any
	CatchAll bool
	TLS      bool
	Sender   string
	Err      error
}

// Reason is a one-line explanation of the verdict.
func (r Result) Reason() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Reply.Code != 0:
		return r.Reply.String()
	}
	return ""
}

type outcomer interface {
	Outcome() types.AttemptOutcome
}

// Probe checks local@domain against host. It never returns an error: every
// failure is described by the Result.
func (p *Prober) Probe(ctx context.Context, host, local, domain string) (res Result) {
	log := logger.FromContext(ctx).With().Str("mx", host).Logger()
	reached := StateInit

	fail := func(err error) Result {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w", reached, ctxErr)
		}
		res.State, res.Verdict, res.Err = StateFailed, VerdictHostFailure, err
		log.Debug().Err(err).Stringer("state", reached).Msg("smtp attempt failed")
		return res
	}

	conn, err := p.cfg.Connector.Connect(ctx, host, p.cfg.Port, p.cfg.ConnectTimeout)
	if err != nil {
		res.Outcome = types.OutcomeConnectFailed
		var oc outcomer
		if errors.As(err, &oc) {
			res.Outcome = oc.Outcome()
		}
		return fail(err)
	}
	res.Outcome = types.OutcomeConnected
	reached = StateConnected

	s := newSession(ctx, conn, p.cfg.CommandTimeout, log)
	// The overall deadline closes the socket mid-command; no QUIT is owed then.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if stop() && reached >= StateConnected {
			s.close(reached >= StateGreeted)
		}
		_ = s.netConn.Close()
		_ = conn.Close()
	}()

	greeting, err := s.read("greeting")
	if err != nil {
		return fail(err)
	}
	res.Banner = greeting.Text()
	if greeting.Code != 220 {
		res.Reply = greeting
		return fail(&ReplyError{Step: "greeting", Reply: greeting})
	}
	reached = StateGreeted

	caps, err := s.hello(p.cfg.HeloDomain)
	if err != nil {
		return fail(err)
	}

	switch {
	case p.cfg.TLSMode != TLSNone && caps.has("STARTTLS"):
		if caps, err = p.startTLS(ctx, s, host); err != nil {
			return fail(err)
		}
		res.TLS = true
		reached = StateTLSNegotiated
	case p.cfg.TLSMode == TLSRequired:
		return fail(errors.New("smtp starttls: not offered by server"))
	}
	reached = StateHeloSent

	res.Sender = p.sender()
	mailFrom := "MAIL FROM:<" + res.Sender + ">"
	if !isASCII(local) {
		if !caps.has("SMTPUTF8") {
			res.State, res.Verdict = StateDone, VerdictAmbiguous
			res.Err = errors.New("smtp mail: server does not support SMTPUTF8 for a non-ASCII local part")
			return res
		}
		mailFrom += " SMTPUTF8"
	}
	r, err := s.command("mail", mailFrom)
	if err != nil {
		return fail(err)
	}
	reached = StateMailFromSent
	switch {
	case r.Code == 250:
	case r.Code == 421:
		res.Reply = r
		return fail(&ReplyError{Step: "mail", Reply: r})
	case r.Code >= 400 && r.Code < 500:
		res.Reply, res.State, res.Verdict = r, StateRetryable, VerdictRetryable
		return res
	case r.Code >= 500:
		// The server refuses the sender; RCPT would tell nothing more.
		res.Reply, res.State, res.Verdict = r, StateDone, VerdictSenderRejected
		return res
	default:
		res.Reply = r
		return fail(&ReplyError{Step: "mail", Reply: r})
	}

	r, err = s.command("rcpt", "RCPT TO:<"+local+"@"+domain+">")
	if err != nil {
		return fail(err)
	}
	reached = StateRcptToSent
	res.Reply = r
	res.Verdict = Classify(r, p.cfg.Patterns)

	switch res.Verdict {
	case VerdictRetryable:
		res.State = StateRetryable
		return res
	case VerdictHostFailure:
		return fail(&ReplyError{Step: "rcpt", Reply: r})
	case VerdictAccepted:
		if !p.cfg.SkipCatchAllProbe {
			res.CatchAll = p.catchAll(s, domain)
		}
	}
	res.State = StateDone
	return res
}

// catchAll probes a random local part at domain in the same session. An I/O
// failure counts as not catch-all.
func (p *Prober) catchAll(s *session, domain string) bool {
	r, err := s.command("rcpt_catch_all", "RCPT TO:<"+randomLocal()+"@"+domain+">")
	if err != nil {
		return false
	}
	return Classify(r, p.cfg.Patterns) == VerdictAccepted
}

func (p *Prober) startTLS(ctx context.Context, s *session, host string) (capabilities, error) {
	r, err := s.command("starttls", "STARTTLS")
	if err != nil {
		return nil, err
	}
	if r.Code != 220 {
		return nil, &ReplyError{Step: "starttls", Reply: r}
	}

	tlsConn := tls.Client(s.netConn, &tls.Config{
		ServerName:         strings.TrimSuffix(host, "."),
		InsecureSkipVerify: p.cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	})
	if err := s.netConn.SetDeadline(s.deadline()); err != nil {
		s.broken = true
		return nil, &ProtocolError{Step: "starttls", Err: err}
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		s.broken = true
		return nil, fmt.Errorf("smtp starttls: handshake: %w", err)
	}
	s.use(tlsConn)
	// The session restarts after the upgrade.
	return s.hello(p.cfg.HeloDomain)
}

func (p *Prober) sender() string {
	if p.cfg.MailFrom != "" {
		return p.cfg.MailFrom
	}
	return randomLocal() + "@" + p.cfg.ProbeSenderDomain
}

const localAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomLocal returns a random 15-character alphanumeric local part.
func randomLocal() string {
	b := make([]byte, 15)
	for i := range b {
		b[i] = localAlphabet[rand.IntN(len(localAlphabet))]
	}
	return string(b)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
