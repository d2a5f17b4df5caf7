package smtpprobe_test

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/emailprobe/internal/dialer"
	"github.com/optimode/emailprobe/internal/smtpprobe"
	"github.com/optimode/emailprobe/types"
)

// mockSMTPServer simulates an SMTP server on a net.Pipe connection.
// Replies are looked up by command verb; successive commands with the same
// verb consume successive replies, the last one repeating.
type mockSMTPServer struct {
	greeting   string
	replies    map[string][]string
	tls        *tls.Config
	stallOn    string // never answer this verb...
	stallAfter int    // ...after it was answered this many times

	mu       sync.Mutex
	commands []string
	seen     map[string]int
}

func (m *mockSMTPServer) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

func (m *mockSMTPServer) reply(verb string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rs := m.replies[verb]; len(rs) > 0 {
		r := rs[0]
		if len(rs) > 1 {
			m.replies[verb] = rs[1:]
		}
		return r
	}
	switch verb {
	case "QUIT":
		return "221 Bye"
	case "STARTTLS":
		return "220 Ready to start TLS"
	default:
		return "250 OK"
	}
}

func (m *mockSMTPServer) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	greeting := m.greeting
	if greeting == "" {
		greeting = "220 mock.smtp ESMTP\r\n"
	}
	_, _ = fmt.Fprint(conn, greeting)

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(cmd, ":", 2)[0])
		verb = strings.Fields(verb + " ")[0]

		m.mu.Lock()
		m.commands = append(m.commands, cmd)
		if m.seen == nil {
			m.seen = map[string]int{}
		}
		m.seen[verb]++
		stall := verb == m.stallOn && m.seen[verb] > m.stallAfter
		m.mu.Unlock()

		if stall {
			_, _ = r.ReadString('\n') // blocks until the client hangs up
			return
		}
		_, _ = fmt.Fprintf(conn, "%s\r\n", m.reply(verb))

		switch verb {
		case "QUIT":
			return
		case "STARTTLS":
			tconn := tls.Server(conn, m.tls)
			if err := tconn.Handshake(); err != nil {
				return
			}
			conn = tconn
			r = bufio.NewReader(tconn)
		}
	}
}

// pipeConnector dials net.Pipe connections served by a mock server.
type pipeConnector struct {
	server *mockSMTPServer
	err    error
	hosts  []string
}

func (p *pipeConnector) Connect(_ context.Context, host string, _ int, _ time.Duration) (net.Conn, error) {
	p.hosts = append(p.hosts, host)
	if p.err != nil {
		return nil, p.err
	}
	client, server := net.Pipe()
	go p.server.serve(server)
	return client, nil
}

func newProber(m *mockSMTPServer, mutate func(*smtpprobe.Config)) *smtpprobe.Prober {
	cfg := smtpprobe.Config{
		HeloDomain:     "probe.test",
		CommandTimeout: 2 * time.Second,
		Connector:      &pipeConnector{server: m},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return smtpprobe.New(cfg)
}

func hasCommand(cmds []string, prefix string) bool {
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func countCommand(cmds []string, prefix string) int {
	n := 0
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestProbe_Accepted(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"RCPT": {"250 2.1.5 OK", "550 5.1.1 no such user"},
	}}
	p := newProber(m, nil)

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, types.OutcomeConnected, res.Outcome)
	assert.Equal(t, smtpprobe.StateDone, res.State)
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.False(t, res.CatchAll)
	assert.Equal(t, 250, res.Reply.Code)
	assert.Equal(t, "mock.smtp ESMTP", res.Banner)
	assert.NoError(t, res.Err)

	cmds := m.Commands()
	assert.Equal(t, "EHLO probe.test", cmds[0])
	assert.True(t, hasCommand(cmds, "RCPT TO:<user@example.com>"))
	assert.Equal(t, 2, countCommand(cmds, "RCPT TO:"))
	assert.Equal(t, []string{"RSET", "QUIT"}, cmds[len(cmds)-2:])
	assert.False(t, hasCommand(cmds, "DATA"))

	// Random probe sender at the HELO domain.
	local, domain, ok := strings.Cut(res.Sender, "@")
	require.True(t, ok)
	assert.Len(t, local, 15)
	assert.Equal(t, "probe.test", domain)
	assert.True(t, hasCommand(cmds, "MAIL FROM:<"+res.Sender+">"))
}

func TestProbe_SenderRandomizedPerAttempt(t *testing.T) {
	m := &mockSMTPServer{}
	p := newProber(m, func(c *smtpprobe.Config) { c.ProbeSenderDomain = "bounce.test" })

	first := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	second := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.NotEqual(t, first.Sender, second.Sender)
	assert.True(t, strings.HasSuffix(first.Sender, "@bounce.test"))
}

func TestProbe_FixedMailFrom(t *testing.T) {
	m := &mockSMTPServer{}
	p := newProber(m, func(c *smtpprobe.Config) { c.MailFrom = "verify@probe.test" })

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, "verify@probe.test", res.Sender)
	assert.True(t, hasCommand(m.Commands(), "MAIL FROM:<verify@probe.test>"))
}

func TestProbe_CatchAll(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{"RCPT": {"250 OK"}}}
	p := newProber(m, nil)

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.True(t, res.CatchAll)

	cmds := m.Commands()
	require.Equal(t, 2, countCommand(cmds, "RCPT TO:"))
	var probe string
	for _, c := range cmds {
		if strings.HasPrefix(c, "RCPT TO:") && c != "RCPT TO:<user@example.com>" {
			probe = c
		}
	}
	assert.Regexp(t, `^RCPT TO:<[a-z0-9]{15}@example\.com>$`, probe)
}

func TestProbe_SkipCatchAllProbe(t *testing.T) {
	m := &mockSMTPServer{}
	p := newProber(m, func(c *smtpprobe.Config) { c.SkipCatchAllProbe = true })

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.False(t, res.CatchAll)
	assert.Equal(t, 1, countCommand(m.Commands(), "RCPT TO:"))
}

func TestProbe_CatchAllProbeIOFailure(t *testing.T) {
	// The second RCPT is never answered.
	m := &mockSMTPServer{stallOn: "RCPT", stallAfter: 1}
	p := newProber(m, func(c *smtpprobe.Config) { c.CommandTimeout = 50 * time.Millisecond })

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.Equal(t, smtpprobe.StateDone, res.State)
	assert.False(t, res.CatchAll)
}

func TestProbe_Rejected(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"RCPT": {"550 5.1.1 mailbox not found"},
	}}
	p := newProber(m, nil)

	res := p.Probe(context.Background(), "mx.example.com", "ghost", "example.com")
	assert.Equal(t, smtpprobe.VerdictRejected, res.Verdict)
	assert.Equal(t, smtpprobe.StateDone, res.State)
	assert.Equal(t, 550, res.Reply.Code)
	assert.Contains(t, res.Reason(), "mailbox not found")
	// No catch-all probe after a rejection.
	assert.Equal(t, 1, countCommand(m.Commands(), "RCPT TO:"))
	assert.True(t, hasCommand(m.Commands(), "QUIT"))
}

func TestProbe_Greylisted(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"RCPT": {"451 4.7.1 Greylisted, try again later"},
	}}
	p := newProber(m, nil)

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictRetryable, res.Verdict)
	assert.Equal(t, smtpprobe.StateRetryable, res.State)
	assert.True(t, hasCommand(m.Commands(), "QUIT"))
}

func TestProbe_ServiceShuttingDown(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"RCPT": {"421 4.3.2 shutting down"},
	}}
	p := newProber(m, nil)

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictHostFailure, res.Verdict)
	assert.Equal(t, smtpprobe.StateFailed, res.State)
	var re *smtpprobe.ReplyError
	assert.ErrorAs(t, res.Err, &re)
}

func TestProbe_FullAndDisabled(t *testing.T) {
	tests := []struct {
		reply string
		want  smtpprobe.Verdict
	}{
		{"552 5.2.2 Mailbox full", smtpprobe.VerdictFullInbox},
		{"550 5.2.2 user is over quota", smtpprobe.VerdictFullInbox},
		{"550 5.2.1 The account has been disabled", smtpprobe.VerdictDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			m := &mockSMTPServer{replies: map[string][]string{"RCPT": {tt.reply}}}
			res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
			assert.Equal(t, tt.want, res.Verdict)
			assert.Equal(t, smtpprobe.StateDone, res.State)
		})
	}
}

func TestProbe_MultiLineGreeting(t *testing.T) {
	m := &mockSMTPServer{
		greeting: "220-mx.example.com ESMTP\r\n220-No UCE\r\n220 ready\r\n",
		replies: map[string][]string{
			"EHLO": {"250-mx.example.com\r\n250-PIPELINING\r\n250-SIZE 1000000\r\n250 8BITMIME"},
		},
	}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, "mx.example.com ESMTP | No UCE | ready", res.Banner)
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
}

func TestProbe_NonGreeting(t *testing.T) {
	m := &mockSMTPServer{greeting: "554 5.7.1 no thanks\r\n"}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, types.OutcomeConnected, res.Outcome)
	assert.Equal(t, smtpprobe.StateFailed, res.State)
	assert.Equal(t, smtpprobe.VerdictHostFailure, res.Verdict)
	assert.Equal(t, 554, res.Reply.Code)
	// The stream is intact, so the session still ends with QUIT.
	assert.Equal(t, []string{"QUIT"}, m.Commands())
}

func TestProbe_MissingCRLFIsProtocolError(t *testing.T) {
	m := &mockSMTPServer{greeting: "220 never finished"}
	p := newProber(m, func(c *smtpprobe.Config) { c.CommandTimeout = 50 * time.Millisecond })

	start := time.Now()
	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, smtpprobe.StateFailed, res.State)

	var pe *smtpprobe.ProtocolError
	require.ErrorAs(t, res.Err, &pe)
	assert.True(t, pe.Timeout())
	assert.Equal(t, "greeting", pe.Step)
	// A broken stream gets no courtesy commands.
	assert.Empty(t, m.Commands())
}

func TestProbe_MailFromRejected(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"MAIL": {"553 5.7.1 sender rejected"},
	}}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.StateDone, res.State)
	assert.Equal(t, smtpprobe.VerdictSenderRejected, res.Verdict)
	assert.Equal(t, 553, res.Reply.Code)
	assert.False(t, hasCommand(m.Commands(), "RCPT"))
	assert.True(t, hasCommand(m.Commands(), "QUIT"))
}

func TestProbe_MailFromTransient(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"MAIL": {"451 4.3.0 try later"},
	}}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictRetryable, res.Verdict)
	assert.False(t, hasCommand(m.Commands(), "RCPT"))
}

func TestProbe_HeloFallback(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"EHLO": {"502 5.5.1 command not implemented"},
	}}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.True(t, hasCommand(m.Commands(), "HELO probe.test"))
}

func TestProbe_TLSRequiredNotOffered(t *testing.T) {
	m := &mockSMTPServer{}
	p := newProber(m, func(c *smtpprobe.Config) { c.TLSMode = smtpprobe.TLSRequired })

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.StateFailed, res.State)
	assert.Contains(t, res.Reason(), "starttls")
	assert.False(t, hasCommand(m.Commands(), "MAIL"))
}

func TestProbe_StartTLS(t *testing.T) {
	m := &mockSMTPServer{
		replies: map[string][]string{
			"EHLO": {"250-mock.smtp\r\n250 STARTTLS", "250 mock.smtp"},
		},
		tls: &tls.Config{Certificates: []tls.Certificate{selfSigned(t)}},
	}
	p := newProber(m, func(c *smtpprobe.Config) { c.TLSSkipVerify = true })

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	require.NoError(t, res.Err)
	assert.True(t, res.TLS)
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	// EHLO is repeated after the upgrade.
	assert.Equal(t, 2, countCommand(m.Commands(), "EHLO"))
}

func TestProbe_StartTLSUntrustedCertificate(t *testing.T) {
	m := &mockSMTPServer{
		replies: map[string][]string{
			"EHLO": {"250-mock.smtp\r\n250 STARTTLS"},
		},
		tls: &tls.Config{Certificates: []tls.Certificate{selfSigned(t)}},
	}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.Equal(t, smtpprobe.StateFailed, res.State)
	assert.False(t, res.TLS)
}

func TestProbe_TLSNoneIgnoresStartTLS(t *testing.T) {
	m := &mockSMTPServer{replies: map[string][]string{
		"EHLO": {"250-mock.smtp\r\n250 STARTTLS"},
	}}
	p := newProber(m, func(c *smtpprobe.Config) { c.TLSMode = smtpprobe.TLSNone })

	res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
	assert.False(t, res.TLS)
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.False(t, hasCommand(m.Commands(), "STARTTLS"))
}

func TestProbe_OverallDeadlineClosesSocket(t *testing.T) {
	m := &mockSMTPServer{stallOn: "RCPT"}
	p := newProber(m, func(c *smtpprobe.Config) { c.CommandTimeout = 5 * time.Second })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := p.Probe(ctx, "mx.example.com", "user", "example.com")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, smtpprobe.StateFailed, res.State)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	// No QUIT courtesy once the deadline governs.
	assert.False(t, hasCommand(m.Commands(), "QUIT"))
}

func TestProbe_ConnectErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.AttemptOutcome
	}{
		{"timeout", &dialer.ConnectError{Kind: dialer.KindTimeout}, types.OutcomeTimeout},
		{"refused", &dialer.ConnectError{Kind: dialer.KindConnectFailed}, types.OutcomeConnectFailed},
		{"proxy", &dialer.ConnectError{Kind: dialer.KindAuthRejected, Proxied: true}, types.OutcomeProxyFailed},
		{"plain", fmt.Errorf("boom"), types.OutcomeConnectFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := smtpprobe.New(smtpprobe.Config{Connector: &pipeConnector{err: tt.err}})
			res := p.Probe(context.Background(), "mx.example.com", "user", "example.com")
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, smtpprobe.StateFailed, res.State)
			assert.Equal(t, smtpprobe.VerdictHostFailure, res.Verdict)
		})
	}
}

func TestProbe_NonASCIILocalPart(t *testing.T) {
	m := &mockSMTPServer{}
	res := newProber(m, nil).Probe(context.Background(), "mx.example.com", "josé", "example.com")
	assert.Equal(t, smtpprobe.VerdictAmbiguous, res.Verdict)
	assert.False(t, hasCommand(m.Commands(), "MAIL"))

	m = &mockSMTPServer{replies: map[string][]string{
		"EHLO": {"250-mock.smtp\r\n250 SMTPUTF8"},
	}}
	res = newProber(m, nil).Probe(context.Background(), "mx.example.com", "josé", "example.com")
	assert.Equal(t, smtpprobe.VerdictAccepted, res.Verdict)
	assert.True(t, hasCommand(m.Commands(), "MAIL FROM:<"+res.Sender+"> SMTPUTF8"))
}

func TestGuessProvider(t *testing.T) {
	assert.Equal(t, "gmail", smtpprobe.GuessProvider("gmail-smtp-in.l.google.com."))
	assert.Equal(t, "microsoft", smtpprobe.GuessProvider("contoso-com.mail.protection.outlook.com"))
	assert.Equal(t, "yahoo", smtpprobe.GuessProvider("mta5.am0.yahoodns.net"))
	assert.Equal(t, "", smtpprobe.GuessProvider("mx.example.com"))
	assert.Equal(t, "", smtpprobe.GuessProvider("notgoogle.com"))
}

func selfSigned(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mx.example.com"},
		DNSNames:     []string{"mx.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
