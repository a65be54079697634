package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/schema"
)

// scriptedProvider records batches and answers from a per-symbol script.
type scriptedProvider struct {
	mu      sync.Mutex
	batches [][]string
	fail    map[string]error
}

func (p *scriptedProvider) Fetch(_ context.Context, symbols []string) ([]schema.Quote, []schema.SymbolError) {
	p.mu.Lock()
	batch := append([]string(nil), symbols...)
	p.batches = append(p.batches, batch)
	p.mu.Unlock()

	var quotes []schema.Quote
	var failures []schema.SymbolError
	for _, symbol := range symbols {
		if err, ok := p.fail[symbol]; ok {
			failures = append(failures, schema.SymbolError{Symbol: symbol, Err: err})
			continue
		}
		quotes = append(quotes, schema.Quote{
			Symbol: symbol,
			Price:  decimal.NewFromInt(100),
			Source: "scripted",
		})
	}
	return quotes, failures
}

func (p *scriptedProvider) recordedBatches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.batches))
	copy(out, p.batches)
	return out
}

func subscribeSymbols(t *testing.T, registry *Registry, connID string, sink Sink, symbols []string) {
	t.Helper()
	if _, err := registry.Admit(connID, "user-"+connID, sink); err != nil {
		t.Fatalf("admit %s: %v", connID, err)
	}
	if _, err := registry.AddSymbols(connID, symbols); err != nil {
		t.Fatalf("subscribe %s: %v", connID, err)
	}
}

func TestRunCyclePartitionsUniverseIntoBatches(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	symbols := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		symbols = append(symbols, fmt.Sprintf("SYM%02d", i))
	}
	subscribeSymbols(t, registry, "conn-1", sink, symbols)

	provider := &scriptedProvider{}
	metrics := observability.NewRuntimeMetrics()
	loop := NewFetchLoop(registry, provider, NewDispatcher(registry, metrics, 4), metrics, FetchLoopConfig{
		BatchSize:       5,
		InterBatchDelay: 0,
	})

	result := loop.RunCycle(context.Background())

	batches := provider.recordedBatches()
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	wantSizes := []int{5, 5, 2}
	requested := make(map[string]int)
	for i, batch := range batches {
		if len(batch) != wantSizes[i] {
			t.Fatalf("batch %d size = %d, want %d", i, len(batch), wantSizes[i])
		}
		for _, symbol := range batch {
			requested[symbol]++
		}
	}
	for _, symbol := range symbols {
		if requested[symbol] != 1 {
			t.Fatalf("symbol %s requested %d times, want exactly once", symbol, requested[symbol])
		}
	}

	if len(result.Quotes) != 12 {
		t.Fatalf("cycle quotes = %d, want 12", len(result.Quotes))
	}
	if got := sink.countOf(schema.EventPriceUpdate); got != 12 {
		t.Fatalf("delivered price updates = %d, want 12", got)
	}
}

func TestRunCycleIsolatesPerSymbolFailures(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	subscribeSymbols(t, registry, "conn-1", sink, []string{"AAPL", "BROKEN", "GOOGL"})

	provider := &scriptedProvider{fail: map[string]error{"BROKEN": errors.New("upstream 500")}}
	metrics := observability.NewRuntimeMetrics()
	loop := NewFetchLoop(registry, provider, NewDispatcher(registry, metrics, 4), metrics, FetchLoopConfig{
		BatchSize:       5,
		InterBatchDelay: 0,
	})

	result := loop.RunCycle(context.Background())
	loop.observe(result)

	if len(result.Quotes) != 2 {
		t.Fatalf("quotes = %d, want 2", len(result.Quotes))
	}
	if len(result.Errors) != 1 || result.Errors[0].Symbol != "BROKEN" {
		t.Fatalf("errors = %+v, want one failure for BROKEN", result.Errors)
	}
	if result.AllFailed() {
		t.Fatal("cycle with partial success reported AllFailed")
	}
	if got := sink.countOf(schema.EventPriceUpdate); got != 2 {
		t.Fatalf("delivered price updates = %d, want 2", got)
	}
	if metrics.Snapshot().FetchErrors["BROKEN"] != 1 {
		t.Fatalf("fetch errors = %+v, want BROKEN counted once", metrics.Snapshot().FetchErrors)
	}
}

func TestRunCycleSkipsEmptyUniverse(t *testing.T) {
	registry := NewRegistry()
	provider := &scriptedProvider{}
	metrics := observability.NewRuntimeMetrics()
	loop := NewFetchLoop(registry, provider, NewDispatcher(registry, metrics, 4), metrics, FetchLoopConfig{})

	result := loop.RunCycle(context.Background())

	if len(provider.recordedBatches()) != 0 {
		t.Fatalf("provider called %d times with empty universe, want 0", len(provider.recordedBatches()))
	}
	if len(result.Quotes) != 0 || len(result.Errors) != 0 {
		t.Fatalf("empty cycle produced quotes=%d errors=%d", len(result.Quotes), len(result.Errors))
	}
}

func TestRunCycleStopsOnCancelledContext(t *testing.T) {
	registry := NewRegistry()
	sink := &recordingSink{}
	symbols := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		symbols = append(symbols, fmt.Sprintf("SYM%02d", i))
	}
	subscribeSymbols(t, registry, "conn-1", sink, symbols)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{}
	metrics := observability.NewRuntimeMetrics()
	loop := NewFetchLoop(registry, provider, NewDispatcher(registry, metrics, 4), metrics, FetchLoopConfig{
		BatchSize:       5,
		InterBatchDelay: defaultInterBatchDelay,
	})

	result := loop.RunCycle(ctx)

	// The first batch runs against an already-expired context; the
	// inter-batch wait then observes cancellation and abandons the cycle.
	if len(provider.recordedBatches()) > 1 {
		t.Fatalf("cancelled cycle ran %d batches, want at most 1", len(provider.recordedBatches()))
	}
	if result.Duration < 0 {
		t.Fatal("cycle duration not recorded")
	}
}

func TestPartitionPreservesOrder(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E"}
	batches := partition(symbols, 2)
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	flat := make([]string, 0, len(symbols))
	for _, batch := range batches {
		flat = append(flat, batch...)
	}
	if !equalStrings(flat, symbols) {
		t.Fatalf("flattened = %v, want %v", flat, symbols)
	}

	if got := partition(nil, 3); got != nil {
		t.Fatalf("partition(nil) = %v, want nil", got)
	}
	if got := partition(symbols, 10); len(got) != 1 || len(got[0]) != 5 {
		t.Fatalf("oversized batch partition = %v, want single batch", got)
	}
}
