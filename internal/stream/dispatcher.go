package stream

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/schema"
)

// Dispatcher fans events out to the connections that asked for them. Delivery
// failures are isolated per connection: a send to a connection that closed
// microseconds earlier is logged and counted, never propagated, and never
// aborts delivery to the remaining subscribers. There is no retry — a missed
// broadcast is superseded by the next cycle's value.
type Dispatcher struct {
	registry   *Registry
	metrics    *observability.RuntimeMetrics
	maxWorkers int
}

// NewDispatcher constructs a dispatcher over the registry with the given
// fan-out concurrency limit. A non-positive limit defaults to GOMAXPROCS.
func NewDispatcher(registry *Registry, metrics *observability.RuntimeMetrics, maxWorkers int) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	return &Dispatcher{
		registry:   registry,
		metrics:    metrics,
		maxWorkers: maxWorkers,
	}
}

// DispatchQuote delivers a price_update to every connection subscribed to the
// quote's symbol. An empty subscriber set is a no-op: a connection may have
// unsubscribed between the cycle's symbol snapshot and this delivery.
func (d *Dispatcher) DispatchQuote(ctx context.Context, quote schema.Quote) {
	targets := d.registry.SubscribersOf(quote.Symbol)
	if len(targets) == 0 {
		return
	}
	d.deliver(ctx, schema.NewPriceUpdateEvent(quote), targets)
}

// DispatchPortfolio routes valuation output to every connection bound to the
// portfolio. Fan-out covers all bound connections, so two tabs on the same
// portfolio both receive the update.
func (d *Dispatcher) DispatchPortfolio(ctx context.Context, portfolioID string, performance decimal.Decimal) {
	targets := d.registry.BoundTo(portfolioID)
	if len(targets) == 0 {
		return
	}
	d.deliver(ctx, schema.NewPortfolioUpdateEvent(portfolioID, performance, time.Now().UTC()), targets)
}

// DispatchAlert broadcasts a market alert to every live connection with no
// subscription filtering.
func (d *Dispatcher) DispatchAlert(ctx context.Context, severity, message string) {
	targets := d.registry.Targets()
	if len(targets) == 0 {
		return
	}
	d.deliver(ctx, schema.NewMarketAlertEvent(severity, message, time.Now().UTC()), targets)
}

func (d *Dispatcher) deliver(ctx context.Context, event schema.Event, targets []target) {
	workerLimit := d.maxWorkers
	if workerLimit > len(targets) {
		workerLimit = len(targets)
	}

	workers := pool.New().WithMaxGoroutines(workerLimit)
	for _, tgt := range targets {
		t := tgt
		workers.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					d.recordFailure(string(event.Type), t.connID, fmt.Errorf("sink panic: %v", r))
				}
			}()
			if err := ctx.Err(); err != nil {
				d.recordFailure(string(event.Type), t.connID, err)
				return
			}
			if t.sink == nil {
				return
			}
			if err := t.sink.Send(ctx, event); err != nil {
				d.recordFailure(string(event.Type), t.connID, err)
				return
			}
			if d.metrics != nil {
				d.metrics.AddDeliveries(1)
			}
			observability.Telemetry().IncCounter("stream_deliveries_total", 1,
				map[string]string{"event": string(event.Type)})
		})
	}
	workers.Wait()
}

func (d *Dispatcher) recordFailure(eventType, connID string, err error) {
	if d.metrics != nil {
		d.metrics.AddDeliveryFailures(1)
	}
	observability.Telemetry().IncCounter("stream_delivery_failures_total", 1,
		map[string]string{"event": eventType})
	observability.Log().Debug("delivery failed",
		observability.F("event", eventType),
		observability.F("connection", connID),
		observability.F("error", err.Error()))
}
