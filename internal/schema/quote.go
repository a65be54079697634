package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a single market quote produced by a provider. Quotes are ephemeral:
// they are consumed once per broadcast cycle and never persisted.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}

// SymbolError records a single symbol's fetch failure within a batch cycle.
type SymbolError struct {
	Symbol string
	Err    error
}

// BatchCycleResult summarizes one execution of the periodic fetch loop.
// It feeds logging and metrics and is not retained.
type BatchCycleResult struct {
	Quotes    []Quote
	Errors    []SymbolError
	StartedAt time.Time
	Duration  time.Duration
}

// AllFailed reports whether every requested symbol failed this cycle.
func (r BatchCycleResult) AllFailed() bool {
	return len(r.Quotes) == 0 && len(r.Errors) > 0
}
