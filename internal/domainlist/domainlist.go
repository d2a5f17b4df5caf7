package domainlist

import "strings"

// IsDisposable returns whether the given domain is a known disposable domain.
// Subdomains of a listed domain are disposable too.
func IsDisposable(domain string) bool {
	return lookup(disposableSet, domain)
}

// IsFreeProvider returns whether the given domain belongs to a free webmail provider.
func IsFreeProvider(domain string) bool {
	_, ok := freeSet[normalize(domain)]
	return ok
}

// FreeProviders returns the free provider domains, in no particular order.
func FreeProviders() []string {
	out := make([]string, 0, len(freeSet))
	for d := range freeSet {
		out = append(out, d)
	}
	return out
}

func lookup(set map[string]struct{}, domain string) bool {
	d := normalize(domain)
	for d != "" {
		if _, ok := set[d]; ok {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			return false
		}
		d = d[i+1:]
	}
	return false
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
