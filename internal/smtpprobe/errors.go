package smtpprobe

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// ProtocolError is a malformed, truncated or missing reply.
type ProtocolError struct {
	Step string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp %s: protocol error: %v", e.Step, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Timeout reports whether no complete reply arrived within the command timeout.
func (e *ProtocolError) Timeout() bool {
	if errors.Is(e.Err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ReplyError is a well-formed reply with a code the step does not accept.
type ReplyError struct {
	Step  string
	Reply Reply
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("smtp %s: unexpected reply %s", e.Step, e.Reply)
}

// Permanent reports a 5xx reply.
func (e *ReplyError) Permanent() bool {
	return e.Reply.Code >= 500
}
