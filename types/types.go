// Package types contains the shared types for emailprobe.
// This package does not import anything from other emailprobe packages
// to avoid circular imports.
package types

import "time"

// CheckLevel identifies the validation level.
type CheckLevel = string

const (
	LevelSyntax   CheckLevel = "syntax"
	LevelDNS      CheckLevel = "dns"
	LevelDomain   CheckLevel = "domain"
	LevelSMTP     CheckLevel = "smtp"
	LevelGravatar CheckLevel = "gravatar"
)

// CheckResult is the outcome of a single validation level.
type CheckResult struct {
	Level      CheckLevel `json:"level"`
	Passed     bool       `json:"passed"`
	Details    string     `json:"details,omitempty"`
	MXHost     string     `json:"mxHost,omitempty"`
	SMTPCode   int        `json:"smtpCode,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
}

// Reachability is the final deliverability verdict of a verification run.
type Reachability string

const (
	// Safe: the mailbox accepted RCPT TO and the domain is not catch-all.
	Safe Reachability = "safe"
	// Risky: catch-all domain, disposable provider, or a full/disabled mailbox.
	Risky Reachability = "risky"
	// Invalid: bad syntax, no mail host, or the mailbox was rejected.
	Invalid Reachability = "invalid"
	// Unknown: nothing conclusive could be learned.
	Unknown Reachability = "unknown"
)

// MXHost is a mail exchanger for a domain. Lower priority is preferred.
type MXHost struct {
	Host     string `json:"host"`
	Priority uint16 `json:"priority"`
}

// AttemptOutcome describes how far the transport of one attempt got.
type AttemptOutcome string

const (
	OutcomeConnected     AttemptOutcome = "connected"
	OutcomeConnectFailed AttemptOutcome = "connect_failed"
	OutcomeTimeout       AttemptOutcome = "timeout"
	OutcomeProxyFailed   AttemptOutcome = "proxy_failed"
)

// Attempt is one entry of the attempt log: one SMTP conversation with one host.
type Attempt struct {
	Host     string         `json:"host"`
	Try      int            `json:"try"`
	Outcome  AttemptOutcome `json:"outcome"`
	Banner   string         `json:"banner,omitempty"`
	State    string         `json:"state"`
	Verdict  string         `json:"verdict,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	SMTPCode int            `json:"smtpCode,omitempty"`
	TLS      bool           `json:"tls,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// SMTPResult is what the SMTP conversation(s) revealed about the mailbox.
// IsDeliverable is nil when the server's answers were ambiguous.
type SMTPResult struct {
	CanConnect    bool   `json:"canConnect"`
	HasFullInbox  bool   `json:"hasFullInbox"`
	IsCatchAll    bool   `json:"isCatchAll"`
	IsDeliverable *bool  `json:"isDeliverable"`
	IsDisabled    bool   `json:"isDisabled"`
	ProviderGuess string `json:"providerGuess,omitempty"`
	MXHost        string `json:"mxHost,omitempty"`
	SMTPCode      int    `json:"smtpCode,omitempty"`
	Reason        string `json:"reason,omitempty"`

	// SenderRejected means the server refused the probe sender, so
	// IsDeliverable is false without any verdict on the mailbox itself.
	SenderRejected bool `json:"senderRejected"`
}

// Misc holds the domain classification and auxiliary lookups.
type Misc struct {
	IsDisposable   bool   `json:"isDisposable"`
	IsFreeProvider bool   `json:"isFreeProvider"`
	Gravatar       *bool  `json:"gravatar,omitempty"`
	Suggestion     string `json:"suggestion,omitempty"`
}

// Debug is diagnostic information about a run.
type Debug struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsed"`
	TimedOut  bool          `json:"timedOut"`
	Attempts  []Attempt     `json:"attempts"`
}
