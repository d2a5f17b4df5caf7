package parse

import (
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
)

// Email is the internal representation of a parsed email address.
// The check/ packages receive this as parameter.
type Email struct {
	Raw           string // the original, trimmed input
	Local         string // the part before @
	Domain        string // the part after @, lower-case ASCII/Punycode form (for DNS/SMTP)
	DomainUnicode string // the part after @, Unicode form (for display/typo detection)
	DomainRaw     string // the part after @, as typed
	Valid         bool   // false if Raw cannot be parsed
}

// Address returns the address in the form used on the wire.
func (e Email) Address() string {
	return e.Local + "@" + e.Domain
}

// String returns the address with the domain in its original casing.
func (e Email) String() string {
	if !e.Valid {
		return e.Raw
	}
	return e.Local + "@" + e.DomainRaw
}

// NewEmail attempts to parse the given email string.
// If parsing fails, Valid=false but Raw is always populated.
// Supports internationalized email addresses (RFC 6531 / EAI) and
// internationalized domain names (IDNA2008).
func NewEmail(raw string) Email {
	raw = strings.TrimSpace(raw)

	// Display names and comments are not addresses.
	if strings.ContainsAny(raw, "<>()") || strings.Count(raw, "@") == 0 {
		return parseManual(raw)
	}

	addr, err := mail.ParseAddress("<" + raw + ">")
	if err != nil {
		// Fallback: manual parsing for internationalized local parts
		// that net/mail doesn't support (RFC 6531 / SMTPUTF8)
		return parseManual(raw)
	}

	atIdx := strings.LastIndex(addr.Address, "@")
	if atIdx < 1 || atIdx >= len(addr.Address)-1 {
		return Email{Raw: raw, Valid: false}
	}
	// net/mail drops quotes around the local part, keep the raw form.
	rawAt := strings.LastIndex(raw, "@")
	return buildEmail(raw, raw[:rawAt], raw[rawAt+1:])
}

// parseManual handles email addresses that net/mail.ParseAddress rejects,
// such as those with Unicode local parts (RFC 6531 SMTPUTF8).
func parseManual(raw string) Email {
	atIdx := strings.LastIndex(raw, "@")
	if atIdx < 1 || atIdx >= len(raw)-1 {
		return Email{Raw: raw, Valid: false}
	}
	local := raw[:atIdx]
	domain := raw[atIdx+1:]
	if strings.ContainsAny(domain, " <>()") {
		return Email{Raw: raw, Valid: false}
	}
	return buildEmail(raw, local, domain)
}

// buildEmail constructs an Email with proper IDNA domain handling.
func buildEmail(raw, local, domain string) Email {
	asciiDomain, unicodeDomain, ok := convertDomain(strings.ToLower(domain))
	if !ok {
		return Email{Raw: raw, Valid: false}
	}

	return Email{
		Raw:           raw,
		Local:         local,
		Domain:        asciiDomain,
		DomainUnicode: unicodeDomain,
		DomainRaw:     domain,
		Valid:         true,
	}
}

// convertDomain converts a domain to both ASCII/Punycode and Unicode forms.
// Returns (ascii, unicode, ok). ok is false if the domain contains
// non-ASCII characters that fail IDNA2008 validation.
func convertDomain(domain string) (ascii, unicode string, ok bool) {
	hasNonASCII := false
	for _, r := range domain {
		if r > 127 {
			hasNonASCII = true
			break
		}
	}

	if hasNonASCII {
		a, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return "", "", false
		}
		return a, domain, true
	}

	// Existing Punycode (xn--mnchen-3ya.de) gets a Unicode display form.
	u, err := idna.Display.ToUnicode(domain)
	if err != nil {
		u = domain
	}
	return domain, u, true
}
