package emailprobe

import "github.com/optimode/emailprobe/types"

// Result is the full outcome of one verification run.
type Result struct {
	Email        string       `json:"email"`
	Reachability Reachability `json:"reachability"`
	// Reason explains the Reachability in one line.
	Reason   string            `json:"reason"`
	Syntax   Syntax            `json:"syntax"`
	MXHosts  []types.MXHost    `json:"mxHosts,omitempty"`
	DNSError string            `json:"dnsError,omitempty"`
	SMTP     *types.SMTPResult `json:"smtp,omitempty"`
	Misc     types.Misc        `json:"misc"`
	Checks   []CheckResult     `json:"checks"`
	Debug    types.Debug       `json:"debug"`
}

// Syntax is the parsed form of the input.
type Syntax struct {
	IsValid  bool   `json:"isValid"`
	Address  string `json:"address,omitempty"`
	Username string `json:"username,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// FailedChecks returns those CheckResults that did not pass.
func (r Result) FailedChecks() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// CheckFor returns the CheckResult for the given level, if it exists.
// The second return value indicates whether the given level was executed.
func (r Result) CheckFor(level CheckLevel) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Level == level {
			return c, true
		}
	}
	return CheckResult{}, false
}
