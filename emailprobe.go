// Package emailprobe tells whether mail sent to an address would likely be
// delivered, without sending any. It combines syntax validation, domain
// classification, MX resolution and an SMTP conversation that stops after
// RCPT TO, and reduces the signals to a Reachability verdict.
//
// Syntax only:
//
//	result, err := emailprobe.New().Validate(ctx, "user@example.com")
//
// Full pipeline:
//
//	v := emailprobe.New().
//	    WithDNS().
//	    WithDomain().
//	    WithSMTP(emailprobe.SMTPOptions{
//	        HeloDomain: "probe.myapp.com",
//	    }).
//	    WithOverallTimeout(time.Minute)
//	defer v.Close()
//
//	result, err := v.Validate(ctx, "user@example.com")
//	switch result.Reachability {
//	case emailprobe.Safe:
//	    ...
//	}
package emailprobe

import (
	"github.com/optimode/emailprobe/internal/smtpprobe"
	"github.com/optimode/emailprobe/types"
)

// CheckResult is a re-export from the types package so that consumers
// don't need to import the types package directly.
type CheckResult = types.CheckResult

// CheckLevel is a re-export.
type CheckLevel = types.CheckLevel

// Level constants re-exported.
const (
	LevelSyntax   = types.LevelSyntax
	LevelDNS      = types.LevelDNS
	LevelDomain   = types.LevelDomain
	LevelSMTP     = types.LevelSMTP
	LevelGravatar = types.LevelGravatar
)

// Reachability is a re-export.
type Reachability = types.Reachability

// Reachability values re-exported.
const (
	Safe    = types.Safe
	Risky   = types.Risky
	Invalid = types.Invalid
	Unknown = types.Unknown
)

// TLSMode selects how STARTTLS is used during SMTP probing.
type TLSMode = smtpprobe.TLSMode

const (
	TLSNone          = smtpprobe.TLSNone
	TLSOpportunistic = smtpprobe.TLSOpportunistic
	TLSRequired      = smtpprobe.TLSRequired
)

// Patterns is the reply-text table used to classify RCPT TO replies.
type Patterns = smtpprobe.Patterns

// DefaultPatterns returns a fresh copy of the built-in reply-text table.
func DefaultPatterns() *Patterns {
	return smtpprobe.DefaultPatterns()
}
