package smtpprobe

import "strings"

var providerSuffixes = []struct {
	suffix   string
	provider string
}{
	{"google.com", "gmail"},
	{"googlemail.com", "gmail"},
	{"protection.outlook.com", "microsoft"},
	{"outlook.com", "microsoft"},
	{"hotmail.com", "microsoft"},
	{"yahoodns.net", "yahoo"},
	{"yahoo.com", "yahoo"},
	{"icloud.com", "icloud"},
	{"me.com", "icloud"},
	{"zoho.com", "zoho"},
	{"zoho.eu", "zoho"},
	{"yandex.net", "yandex"},
	{"yandex.ru", "yandex"},
	{"protonmail.ch", "proton"},
	{"messagingengine.com", "fastmail"},
	{"mimecast.com", "mimecast"},
	{"pphosted.com", "proofpoint"},
	{"barracudanetworks.com", "barracuda"},
	{"secureserver.net", "godaddy"},
	{"mail.ovh.net", "ovh"},
}

// GuessProvider names the mailbox provider operating an MX host, or returns
// "" if the host is not recognized.
func GuessProvider(mxHost string) string {
	h := strings.TrimSuffix(strings.ToLower(mxHost), ".")
	for _, p := range providerSuffixes {
		if h == p.suffix || strings.HasSuffix(h, "."+p.suffix) {
			return p.provider
		}
	}
	return ""
}
