package check

import (
	"context"
	"slices"
	"strings"

	"github.com/optimode/emailprobe/internal/domainlist"
	"github.com/optimode/emailprobe/internal/levenshtein"
	"github.com/optimode/emailprobe/internal/parse"
	"github.com/optimode/emailprobe/types"
)

// DomainConfig is the domain checker configuration.
type DomainConfig struct {
	CheckDisposable bool
	CheckTypos      bool
	TypoThreshold   int
}

// DomainClass is the classification of a domain against the embedded lists.
type DomainClass struct {
	Disposable   bool
	FreeProvider bool
	// Suggestion is the closest free provider domain when the domain looks
	// like a misspelling of one.
	Suggestion string
}

// DomainChecker detects disposable domains, free providers and typos.
type DomainChecker struct {
	cfg            DomainConfig
	knownProviders []string // typo targets, sorted so ties resolve alphabetically
}

func NewDomainChecker(cfg DomainConfig) *DomainChecker {
	providers := domainlist.FreeProviders()
	slices.Sort(providers)
	return &DomainChecker{
		cfg:            cfg,
		knownProviders: providers,
	}
}

// Classify looks the domain up in the disposable and free provider lists.
// It performs no I/O.
func (c *DomainChecker) Classify(email parse.Email) DomainClass {
	// The lists are ASCII, typo matching works better on the Unicode form.
	asciiDomain := strings.ToLower(email.Domain)
	class := DomainClass{
		FreeProvider: domainlist.IsFreeProvider(asciiDomain),
	}
	if c.cfg.CheckDisposable {
		class.Disposable = domainlist.IsDisposable(asciiDomain)
	}
	if c.cfg.CheckTypos && !class.FreeProvider && !class.Disposable {
		class.Suggestion = c.findTypoSuggestion(strings.ToLower(email.DomainUnicode))
	}
	return class
}

func (c *DomainChecker) Check(_ context.Context, email parse.Email) types.CheckResult {
	level := types.LevelDomain

	if !email.Valid {
		return types.CheckResult{Level: level, Passed: false, Details: "skipped: invalid email"}
	}

	class := c.Classify(email)
	if class.Disposable {
		return types.CheckResult{
			Level:   level,
			Passed:  false,
			Details: "disposable email domain detected",
		}
	}

	// Typo suspicion is a warning only.
	if class.Suggestion != "" {
		return types.CheckResult{
			Level:      level,
			Passed:     true,
			Details:    "possible typo in domain",
			Suggestion: class.Suggestion,
		}
	}

	if class.FreeProvider {
		return types.CheckResult{Level: level, Passed: true, Details: "free email provider"}
	}
	return types.CheckResult{Level: level, Passed: true, Details: "domain ok"}
}

// findTypoSuggestion returns the closest known provider within
// TypoThreshold edits, or "" when there is none or domain is one of them.
func (c *DomainChecker) findTypoSuggestion(domain string) string {
	if _, found := slices.BinarySearch(c.knownProviders, domain); found {
		return ""
	}

	bestDist := c.cfg.TypoThreshold + 1
	bestMatch := ""
	for _, provider := range c.knownProviders {
		dist, ok := levenshtein.Within(domain, provider, c.cfg.TypoThreshold)
		if ok && dist < bestDist {
			bestDist = dist
			bestMatch = provider
		}
	}
	return bestMatch
}
