package smtpprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxReplyLines = 100
	maxLineLength = 4096
)

// session is one SMTP conversation over a connection owned by one attempt.
type session struct {
	ctx            context.Context
	netConn        net.Conn
	reader         *bufio.Reader
	writer         *bufio.Writer
	commandTimeout time.Duration
	log            zerolog.Logger
	// broken is set after an I/O or protocol error: the stream can no
	// longer be trusted, so no courtesy commands are sent.
	broken bool
}

func newSession(ctx context.Context, c net.Conn, commandTimeout time.Duration, log zerolog.Logger) *session {
	s := &session{ctx: ctx, commandTimeout: commandTimeout, log: log}
	s.use(c)
	return s
}

// use switches the session to c, e.g. after a TLS upgrade.
func (s *session) use(c net.Conn) {
	s.netConn = c
	s.reader = bufio.NewReaderSize(c, maxLineLength)
	s.writer = bufio.NewWriter(c)
}

// deadline is the per-command deadline, never past the overall deadline.
func (s *session) deadline() time.Time {
	d := time.Now().Add(s.commandTimeout)
	if cd, ok := s.ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// read reads one reply under a fresh per-command deadline.
func (s *session) read(step string) (Reply, error) {
	if err := s.netConn.SetDeadline(s.deadline()); err != nil {
		s.broken = true
		return Reply{}, &ProtocolError{Step: step, Err: err}
	}
	r, err := readResponse(s.reader)
	if err != nil {
		s.broken = true
		return Reply{}, &ProtocolError{Step: step, Err: err}
	}
	s.log.Debug().Str("step", step).Int("code", r.Code).Str("reply", r.Text()).Msg("smtp reply")
	return r, nil
}

// command sends an SMTP command and reads the reply.
func (s *session) command(step, cmd string) (Reply, error) {
	if err := s.netConn.SetDeadline(s.deadline()); err != nil {
		s.broken = true
		return Reply{}, &ProtocolError{Step: step, Err: err}
	}
	if _, err := s.writer.WriteString(cmd + "\r\n"); err != nil {
		s.broken = true
		return Reply{}, &ProtocolError{Step: step, Err: err}
	}
	if err := s.writer.Flush(); err != nil {
		s.broken = true
		return Reply{}, &ProtocolError{Step: step, Err: err}
	}
	return s.read(step)
}

// hello sends EHLO, falling back to HELO when the server rejects EHLO
// permanently. It returns the advertised capabilities (empty after HELO).
func (s *session) hello(name string) (capabilities, error) {
	r, err := s.command("ehlo", "EHLO "+name)
	if err != nil {
		return nil, err
	}
	if r.Code == 250 {
		return parseCapabilities(r), nil
	}
	if r.Code < 500 {
		return nil, &ReplyError{Step: "ehlo", Reply: r}
	}
	r, err = s.command("helo", "HELO "+name)
	if err != nil {
		return nil, err
	}
	if r.Code != 250 {
		return nil, &ReplyError{Step: "helo", Reply: r}
	}
	return capabilities{}, nil
}

// close ends the session with QUIT, preceded by RSET when rset is set,
// unless the stream is broken. Errors are ignored: the connection is closed
// by the caller either way.
func (s *session) close(rset bool) {
	if s.broken {
		return
	}
	if rset {
		if _, err := s.command("rset", "RSET"); err != nil {
			return
		}
	}
	_, _ = s.command("quit", "QUIT")
}

type capabilities map[string]string

func parseCapabilities(r Reply) capabilities {
	caps := capabilities{}
	// The first line is the server greeting.
	for _, line := range r.Lines[min(1, len(r.Lines)):] {
		keyword, params, _ := strings.Cut(strings.TrimSpace(line), " ")
		if keyword != "" {
			caps[strings.ToUpper(keyword)] = params
		}
	}
	return caps
}

func (c capabilities) has(ext string) bool {
	_, ok := c[ext]
	return ok
}

// readResponse reads a (possibly multi-line) SMTP response. Every line must
// end in CRLF (a bare LF is tolerated) and carry the same 3-digit code.
func readResponse(r *bufio.Reader) (Reply, error) {
	var reply Reply
	for i := 0; ; i++ {
		if i == maxReplyLines {
			return Reply{}, fmt.Errorf("reply longer than %d lines", maxReplyLines)
		}
		raw, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return Reply{}, fmt.Errorf("reply line longer than %d bytes", maxLineLength)
		}
		if err != nil {
			return Reply{}, fmt.Errorf("read SMTP response: %w", err)
		}
		line := strings.TrimRight(string(raw), "\r\n")
		if len(line) < 3 {
			return Reply{}, fmt.Errorf("SMTP response line too short: %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil || code < 100 || code > 599 {
			return Reply{}, fmt.Errorf("invalid SMTP response code %q", line[:3])
		}
		if i > 0 && code != reply.Code {
			return Reply{}, fmt.Errorf("inconsistent codes %d and %d in multi-line reply", reply.Code, code)
		}
		reply.Code = code

		var text string
		more := false
		if len(line) > 3 {
			switch line[3] {
			case '-':
				more = true
			case ' ':
			default:
				return Reply{}, fmt.Errorf("invalid separator in SMTP response line %q", line)
			}
			text = line[4:]
		}
		reply.Lines = append(reply.Lines, text)
		if !more {
			return reply, nil
		}
	}
}
