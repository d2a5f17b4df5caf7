package check

import "github.com/optimode/emailprobe/types"

// Signals are the inputs of the final verdict.
type Signals struct {
	SyntaxValid bool
	// DNSErr is the ResolveMX error, nil when hosts were found.
	DNSErr     *DNSError
	Disposable bool
	// SMTP is nil when no SMTP probing was done.
	SMTP     *types.SMTPResult
	TimedOut bool
}

// Aggregate reduces the signals of a run to a reachability verdict and a
// short reason. It is total and deterministic: every combination of signals
// maps to exactly one verdict, first match wins.
func Aggregate(s Signals) (types.Reachability, string) {
	if !s.SyntaxValid {
		return types.Invalid, "invalid syntax"
	}
	if s.DNSErr != nil && s.DNSErr.Kind == DNSNoRecords {
		return types.Invalid, "domain has no mail hosts"
	}

	smtp := s.SMTP
	deliverable, decided := false, false
	if smtp != nil && smtp.IsDeliverable != nil {
		deliverable, decided = *smtp.IsDeliverable, true
	}

	if decided && !deliverable && !smtp.HasFullInbox && !smtp.IsDisabled && !smtp.SenderRejected {
		return types.Invalid, "mailbox rejected by mail server"
	}
	if s.Disposable {
		return types.Risky, "disposable email provider"
	}
	if decided && deliverable && smtp.IsCatchAll {
		return types.Risky, "domain accepts all addresses (catch-all)"
	}
	if decided && smtp.HasFullInbox {
		return types.Risky, "mailbox is full"
	}
	if decided && smtp.IsDisabled {
		return types.Risky, "mailbox is disabled"
	}
	if decided && deliverable {
		return types.Safe, "mailbox accepted by mail server"
	}

	switch {
	case decided && smtp.SenderRejected:
		return types.Unknown, "probe sender rejected by mail server"
	case s.DNSErr != nil:
		return types.Unknown, "DNS lookup failed: " + string(s.DNSErr.Kind)
	case s.TimedOut:
		return types.Unknown, "overall timeout reached"
	case smtp == nil:
		return types.Unknown, "SMTP verification not performed"
	}
	return types.Unknown, "no definitive answer from mail server"
}
