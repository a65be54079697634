package stream

import (
	"context"
	"time"

	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/quote"
	"github.com/foliostream/gateway/internal/schema"
)

const (
	defaultFetchInterval   = 30 * time.Second
	defaultBatchSize       = 5
	defaultInterBatchDelay = 2 * time.Second
	defaultBatchTimeout    = 15 * time.Second
)

// FetchLoopConfig tunes the periodic quote fetch driver.
type FetchLoopConfig struct {
	// Interval between cycles, independent of connection count.
	Interval time.Duration
	// BatchSize bounds symbols per provider batch, sized to the provider's
	// rate limit.
	BatchSize int
	// InterBatchDelay spaces sequential batches to stay under the per-minute
	// quota.
	InterBatchDelay time.Duration
	// BatchTimeout bounds a stalled provider call; a timed-out batch is a
	// failed batch and never blocks the next cycle.
	BatchTimeout time.Duration
}

func (c FetchLoopConfig) withDefaults() FetchLoopConfig {
	if c.Interval <= 0 {
		c.Interval = defaultFetchInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.InterBatchDelay < 0 {
		c.InterBatchDelay = defaultInterBatchDelay
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}
	return c
}

// FetchLoop periodically reads the universe of subscribed symbols from the
// registry's index, fetches quotes in rate-limited batches, and hands each
// batch's successes to the dispatcher as soon as the batch completes. It is a
// free-standing scheduled task: it reads the shared index snapshot and
// reaches connections only through the dispatcher, never directly.
type FetchLoop struct {
	registry   *Registry
	provider   quote.Provider
	dispatcher *Dispatcher
	metrics    *observability.RuntimeMetrics
	cfg        FetchLoopConfig
}

// NewFetchLoop constructs the periodic fetch driver.
func NewFetchLoop(registry *Registry, provider quote.Provider, dispatcher *Dispatcher, metrics *observability.RuntimeMetrics, cfg FetchLoopConfig) *FetchLoop {
	return &FetchLoop{
		registry:   registry,
		provider:   provider,
		dispatcher: dispatcher,
		metrics:    metrics,
		cfg:        cfg.withDefaults(),
	}
}

// Run drives fetch cycles until the context is cancelled. Provider outages
// are logged and survived; the loop is never fatal to the process.
func (l *FetchLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := l.RunCycle(ctx)
			l.observe(result)
		}
	}
}

// RunCycle executes one fetch-and-broadcast cycle and reports its outcome.
// An empty symbol universe skips the cycle entirely without provider calls.
func (l *FetchLoop) RunCycle(ctx context.Context) schema.BatchCycleResult {
	started := time.Now()
	result := schema.BatchCycleResult{
		Quotes:    nil,
		Errors:    nil,
		StartedAt: started,
		Duration:  0,
	}

	symbols := l.registry.AllSymbols()
	if len(symbols) == 0 {
		result.Duration = time.Since(started)
		return result
	}

	batches := partition(symbols, l.cfg.BatchSize)
	for i, batch := range batches {
		if i > 0 && l.cfg.InterBatchDelay > 0 {
			timer := time.NewTimer(l.cfg.InterBatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				result.Duration = time.Since(started)
				return result
			case <-timer.C:
			}
		}

		batchCtx, cancel := context.WithTimeout(ctx, l.cfg.BatchTimeout)
		quotes, failures := l.provider.Fetch(batchCtx, batch)
		cancel()

		result.Quotes = append(result.Quotes, quotes...)
		result.Errors = append(result.Errors, failures...)

		// Deliver early-arriving batches immediately rather than holding
		// quotes until the cycle completes.
		for _, q := range quotes {
			l.dispatcher.DispatchQuote(ctx, q)
		}
	}

	result.Duration = time.Since(started)
	return result
}

func (l *FetchLoop) observe(result schema.BatchCycleResult) {
	if l.metrics != nil {
		l.metrics.RecordCycleMilliseconds(result.Duration.Milliseconds())
		for _, failure := range result.Errors {
			l.metrics.IncrementFetchError(failure.Symbol)
		}
	}
	observability.Telemetry().ObserveHistogram("stream_fetch_cycle_ms",
		float64(result.Duration.Milliseconds()), nil)
	if len(result.Errors) > 0 {
		observability.Telemetry().IncCounter("stream_fetch_errors_total",
			float64(len(result.Errors)), nil)
	}
	for _, failure := range result.Errors {
		observability.Log().Debug("quote fetch failed",
			observability.F("symbol", failure.Symbol),
			observability.F("error", failure.Err.Error()))
	}
	if result.AllFailed() {
		observability.Log().Warn("quote provider returned no quotes this cycle",
			observability.F("failed_symbols", len(result.Errors)),
			observability.F("duration", result.Duration.String()))
		return
	}
	if len(result.Quotes) > 0 {
		observability.Log().Debug("fetch cycle completed",
			observability.F("quotes", len(result.Quotes)),
			observability.F("errors", len(result.Errors)),
			observability.F("duration", result.Duration.String()))
	}
}

// partition splits symbols into fixed-size batches preserving order.
func partition(symbols []string, size int) [][]string {
	if len(symbols) == 0 {
		return nil
	}
	if size <= 0 || len(symbols) <= size {
		snapshot := make([]string, len(symbols))
		copy(snapshot, symbols)
		return [][]string{snapshot}
	}
	batches := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := make([]string, end-start)
		copy(batch, symbols[start:end])
		batches = append(batches, batch)
	}
	return batches
}
