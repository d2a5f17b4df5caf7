// Package domainlist classifies domains against static, embedded tables of
// disposable mailbox providers and free webmail providers. The tables are
// parsed once at package initialization and are read-only afterwards.
package domainlist

import (
	_ "embed"
	"strings"
)

//go:embed disposable.txt
var rawDisposable string

//go:embed free.txt
var rawFree string

var (
	disposableSet = parseList(rawDisposable)
	freeSet       = parseList(rawFree)
)

func parseList(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			set[strings.ToLower(line)] = struct{}{}
		}
	}
	return set
}
