package smtpprobe

import (
	"slices"
	"strconv"
	"strings"
)

// Verdict is the classification of a RCPT TO (or MAIL FROM) reply.
type Verdict string

const (
	VerdictAccepted    Verdict = "accepted"     // 250/251: the mailbox exists
	VerdictRejected    Verdict = "rejected"     // permanent: the mailbox does not exist
	VerdictFullInbox   Verdict = "full_inbox"   // mailbox exists but is over quota
	VerdictDisabled    Verdict = "disabled"     // mailbox exists but is disabled
	VerdictRetryable   Verdict = "retryable"    // 450/451/452: greylisting or transient
	VerdictHostFailure Verdict = "host_failure" // 421, transport or protocol failure: try the next host
	VerdictAmbiguous   Verdict = "ambiguous"    // nothing conclusive, e.g. policy blocks

	// VerdictSenderRejected is a permanent refusal of the probe sender at
	// MAIL FROM. The attempt ends, but it says nothing about the mailbox.
	VerdictSenderRejected Verdict = "sender_rejected"
)

// Definitive reports whether the verdict ends the verification, so no
// further host needs to be tried.
func (v Verdict) Definitive() bool {
	switch v {
	case VerdictAccepted, VerdictRejected, VerdictFullInbox, VerdictDisabled, VerdictSenderRejected:
		return true
	}
	return false
}

// Reply is a complete, possibly multi-line, SMTP reply.
type Reply struct {
	Code  int
	Lines []string // text of each line, without code and separator
}

// Text joins the reply lines.
func (r Reply) Text() string {
	return strings.Join(r.Lines, " | ")
}

func (r Reply) String() string {
	if len(r.Lines) == 0 {
		return strconv.Itoa(r.Code)
	}
	return strconv.Itoa(r.Code) + " " + r.Text()
}

// Patterns holds the vendor-specific reply texts used to refine the numeric
// classification. Matching is case-insensitive substring matching.
// Mail servers word these differently, so callers can supply their own table.
type Patterns struct {
	// Disabled marks a mailbox that exists but no longer receives mail.
	Disabled []string
	// FullInbox marks a mailbox over quota.
	FullInbox []string
	// Throttled marks a reply that rate-limits the sender for a mailbox
	// that evidently exists.
	Throttled []string
	// Policy marks a rejection of the prober itself (blocklists, relay
	// denial) rather than of the mailbox. It only applies to replies with a
	// 5.7.x enhanced status code that match no NotFound phrase.
	Policy []string
	// NotFound marks a mailbox that does not exist. It wins over Policy and
	// extends the rejection to 5xx codes other than 550/551/553.
	NotFound []string
}

// DefaultPatterns returns the built-in pattern table.
func DefaultPatterns() *Patterns {
	return &Patterns{
		Disabled: []string{
			"disabled",
			"discontinued",
			"account has been suspended",
			"account is inactive",
		},
		FullInbox: []string{
			"insufficient",
			"over quota",
			"overquota",
			"quota exceeded",
			"mailbox full",
			"mailbox is full",
			"too many messages",
		},
		Throttled: []string{
			"the user you are trying to contact is receiving mail at a rate that",
		},
		Policy: []string{
			"5.7.1",
			"spamhaus",
			"blocklist",
			"blacklist",
			"blocked",
			"relay access denied",
			"relaying denied",
			"not permitted to relay",
			"access denied",
			"client host rejected",
		},
		NotFound: []string{
			"address rejected",
			"unrouteable",
			"does not exist",
			"invalid address",
			"invalid email address",
			"invalid recipient",
			"may not exist",
			"recipient invalid",
			"recipient rejected",
			"undeliverable",
			"user unknown",
			"unknown user",
			"recipient unknown",
			"no such user",
			"not found",
			"invalid mailbox",
			"no mailbox",
			"no such mailbox",
			"mailbox unavailable",
			"not a valid mailbox",
			"no such recipient",
			"have an account",
			"no longer available",
		},
	}
}

func matchAny(text string, patterns []string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool {
		return p != "" && strings.Contains(text, strings.ToLower(p))
	})
}

// Classify maps a RCPT TO reply to a Verdict. It is total: every reply gets
// exactly one verdict. A nil table means DefaultPatterns.
func Classify(r Reply, p *Patterns) Verdict {
	if p == nil {
		p = defaultPatterns
	}
	text := strings.ToLower(r.Text())

	switch {
	case r.Code == 250 || r.Code == 251:
		return VerdictAccepted
	case r.Code == 421:
		return VerdictHostFailure
	case r.Code >= 400 && r.Code < 500:
		if matchAny(text, p.Throttled) {
			return VerdictAccepted
		}
		if r.Code == 450 || r.Code == 451 || r.Code == 452 {
			return VerdictRetryable
		}
		return VerdictAmbiguous
	case r.Code >= 500 && r.Code < 600:
		switch {
		case matchAny(text, p.Disabled):
			return VerdictDisabled
		case matchAny(text, p.FullInbox) || r.Code == 552:
			return VerdictFullInbox
		case matchAny(text, p.NotFound):
			return VerdictRejected
		case securityStatus(r) && matchAny(text, p.Policy):
			return VerdictAmbiguous
		case r.Code == 550 || r.Code == 551 || r.Code == 553:
			return VerdictRejected
		}
		return VerdictAmbiguous
	}
	return VerdictAmbiguous
}

// securityStatus reports whether the reply carries a 5.7.x (security or
// policy) enhanced status code.
func securityStatus(r Reply) bool {
	if len(r.Lines) == 0 {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(r.Lines[0]), "5.7.")
}

var defaultPatterns = DefaultPatterns()
