package models

import (
	"sort"
	"strings"
	"time"
)

// ScannerType describes how a scanner's tickers are maintained.
type ScannerType string

const (
	ScannerManual ScannerType = "manual"
	ScannerFilter ScannerType = "filter"
	ScannerAPI    ScannerType = "api"
)

// Scanner is a named, user-owned set of ticker symbols.
type Scanner struct {
	ID              string        `json:"id"`
	Owner           string        `json:"owner"`
	Name            string        `json:"name"`
	Type            ScannerType   `json:"type"`
	Tickers         []string      `json:"tickers"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	LastRefreshedAt time.Time     `json:"last_refreshed_at"`
}

// Contains reports whether symbol is one of the scanner's tickers.
func (s *Scanner) Contains(symbol string) bool {
	symbol = NormalizeSymbol(symbol)
	i := sort.SearchStrings(s.Tickers, symbol)
	return i < len(s.Tickers) && s.Tickers[i] == symbol
}

// IsStale is computed at read time: now - last_refreshed_at > staleAfter.
func (s *Scanner) IsStale(now time.Time, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		return false
	}
	return now.Sub(s.LastRefreshedAt) > staleAfter
}

// NormalizeTickers upper-cases, de-duplicates and sorts a ticker list.
func NormalizeTickers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = NormalizeSymbol(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
