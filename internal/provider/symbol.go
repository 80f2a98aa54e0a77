package provider

import (
	"regexp"
	"strings"
)

// symbolPattern accepts plain tickers with an optional exchange suffix
// (AAPL, BRK.B) and caret indices (^GSPC).
var symbolPattern = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$|^\^[A-Z]{2,6}$`)

// NormalizeSymbol trims and upper-cases a user-supplied ticker.
func NormalizeSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// ValidSymbol reports whether s is a well-formed ticker after normalization.
func ValidSymbol(s string) bool {
	s = NormalizeSymbol(s)
	return s != "" && symbolPattern.MatchString(s)
}

// ParseSymbols splits a comma or newline separated list into normalized
// tickers, dropping blanks and malformed entries. Order is preserved and
// duplicates removed.
func ParseSymbols(input string) []string {
	var out []string
	seen := map[string]bool{}
	for _, line := range strings.Split(input, "\n") {
		for _, raw := range strings.Split(line, ",") {
			sym := NormalizeSymbol(raw)
			if sym == "" || !symbolPattern.MatchString(sym) || seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}
