package emailprobe

import (
	"errors"

	"github.com/optimode/emailprobe/check"
	"github.com/optimode/emailprobe/internal/dialer"
)

var (
	// ErrEmptyInput is returned by Validate for input that is blank and so
	// not an address at all. Every other input yields a Result.
	ErrEmptyInput = check.ErrEmptyInput

	// ErrInvalidSMTPOptions is returned when WithSMTP is called
	// without HeloDomain.
	ErrInvalidSMTPOptions = errors.New("emailprobe: SMTPOptions requires HeloDomain")

	// ErrInvalidProxy is returned when SMTPOptions.Proxy is unusable.
	ErrInvalidProxy = dialer.ErrInvalidProxy
)

// SyntaxError is a re-export.
type SyntaxError = check.SyntaxError

// DNSError is a re-export.
type DNSError = check.DNSError
