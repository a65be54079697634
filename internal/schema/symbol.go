package schema

import (
	"strings"

	"github.com/foliostream/gateway/errs"
)

const maxSymbolLength = 12

// NormalizeSymbol canonicalizes a market symbol for registry and index keys.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeSymbols canonicalizes and de-duplicates a symbol list, preserving
// first-seen order and dropping blanks.
func NormalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized := NormalizeSymbol(s)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// ValidateSymbol rejects symbols the quote provider cannot serve.
func ValidateSymbol(symbol string) error {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return errs.New("schema", errs.CodeInvalid, errs.WithMessage("symbol required"))
	}
	if len(normalized) > maxSymbolLength {
		return errs.New("schema", errs.CodeInvalid,
			errs.WithSymbol(normalized), errs.WithMessage("symbol too long"))
	}
	for _, r := range normalized {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return errs.New("schema", errs.CodeInvalid,
				errs.WithSymbol(normalized), errs.WithMessage("symbol contains invalid characters"))
		}
	}
	return nil
}
