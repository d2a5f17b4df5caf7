package check

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/optimode/emailprobe/internal/parse"
	"github.com/optimode/emailprobe/types"
)

// ErrEmptyInput is returned for input that is not an address at all.
var ErrEmptyInput = errors.New("emailprobe: empty input")

// SyntaxError describes why an address is not syntactically valid.
type SyntaxError struct {
	Reason string
}

func (e *SyntaxError) Error() string {
	return "invalid syntax: " + e.Reason
}

// SyntaxChecker validates email syntax according to RFC 5321/5322
// with RFC 6531 (SMTPUTF8) and IDNA2008 internationalization support.
type SyntaxChecker struct{}

func NewSyntaxChecker() *SyntaxChecker {
	return &SyntaxChecker{}
}

// Validate parses raw into an address. It is pure: no I/O, and the same
// input always yields the same output. Blank input yields ErrEmptyInput,
// anything else that is not an address a *SyntaxError.
func (c *SyntaxChecker) Validate(raw string) (parse.Email, error) {
	if strings.TrimSpace(raw) == "" {
		return parse.Email{Raw: strings.TrimSpace(raw)}, ErrEmptyInput
	}
	email := parse.NewEmail(raw)
	if reason := syntaxProblem(email); reason != "" {
		return email, &SyntaxError{Reason: reason}
	}
	return email, nil
}

func (c *SyntaxChecker) Check(_ context.Context, email parse.Email) types.CheckResult {
	level := types.LevelSyntax
	if reason := syntaxProblem(email); reason != "" {
		return types.CheckResult{Level: level, Passed: false, Details: reason}
	}
	return types.CheckResult{Level: level, Passed: true, Details: "syntax ok"}
}

// syntaxProblem returns the first rule email breaks, or "".
func syntaxProblem(email parse.Email) string {
	if email.Raw == "" {
		return "empty email address"
	}

	if !email.Valid {
		return "invalid email syntax"
	}

	// Length checks (RFC 5321), on the form sent over the wire.
	if len(email.Address()) > 254 {
		return "email address exceeds 254 characters"
	}
	if len(email.Local) > 64 {
		return "local part exceeds 64 characters"
	}

	// Local part validation
	if err := validateLocal(email.Local); err != "" {
		return err
	}

	// Domain validation (use Unicode form for user-friendly error messages;
	// IDNA2008 validation was already done during parsing)
	if err := validateDomain(email.DomainUnicode); err != "" {
		return err
	}
	for _, label := range strings.Split(email.Domain, ".") {
		if len(label) > 63 {
			return "domain label exceeds 63 characters"
		}
	}

	return ""
}

// validateLocal validates the local part.
// Supports RFC 5321 ASCII characters and RFC 6531 (SMTPUTF8) Unicode characters.
// Returns error text, or "" if ok.
func validateLocal(local string) string {
	if local == "" {
		return "local part is empty"
	}

	// Quoted local part: "something"
	if len(local) >= 2 && strings.HasPrefix(local, `"`) && strings.HasSuffix(local, `"`) {
		for _, ch := range local[1 : len(local)-1] {
			if unicode.IsControl(ch) {
				return "local part contains control character"
			}
		}
		return "" // in quoted form all printable characters are allowed
	}

	// RFC 5321 ASCII special characters (besides alphanumeric)
	asciiSpecial := "!#$%&'*+/=?^_`{|}~-."

	for _, ch := range local {
		if ch > 127 {
			// RFC 6531 (SMTPUTF8): non-ASCII Unicode characters are allowed,
			// except control characters
			if unicode.IsControl(ch) {
				return "local part contains control character"
			}
			continue
		}
		// ASCII range: letters, digits, and RFC 5321 special characters
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		if !strings.ContainsRune(asciiSpecial, ch) {
			return "local part contains invalid character: " + string(ch)
		}
	}

	// Cannot start or end with a dot
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "local part cannot start or end with a dot"
	}

	// Cannot contain consecutive dots
	if strings.Contains(local, "..") {
		return "local part cannot contain consecutive dots"
	}

	return ""
}

// validateDomain validates the domain part (Unicode form).
// Returns error text, or "" if ok.
func validateDomain(domain string) string {
	if domain == "" {
		return "domain is empty"
	}

	// IP literal: [127.0.0.1] - accept but don't validate deeply
	if isDomainLiteral(domain) {
		return ""
	}

	if len(domain) > 253 {
		return "domain exceeds 253 characters"
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "domain must have at least two labels"
	}

	for _, label := range labels {
		if label == "" {
			return "domain contains empty label (consecutive dots)"
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "domain label cannot start or end with a hyphen"
		}
		for _, ch := range label {
			if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && !unicode.IsMark(ch) && ch != '-' {
				return "domain label contains invalid character: " + string(ch)
			}
		}
	}

	// TLD cannot be all digits
	tld := labels[len(labels)-1]
	allDigits := true
	for _, ch := range tld {
		if !unicode.IsDigit(ch) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return "TLD cannot be all digits"
	}

	return ""
}

func isDomainLiteral(domain string) bool {
	return strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]")
}
