package stream

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/foliostream/gateway/errs"
	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/quote"
	"github.com/foliostream/gateway/internal/schema"
)

// Engine is the facade the transport layer drives: admission, subscription
// mutations, one-shot quotes, and externally produced broadcasts. All shared
// state lives in the registry; the engine methods stay free of locking.
type Engine struct {
	registry   *Registry
	resolver   *PortfolioBindingResolver
	dispatcher *Dispatcher
	provider   quote.Provider
	metrics    *observability.RuntimeMetrics
}

// NewEngine wires the engine components together. The provider is expected
// to be rate limited already (quote.Throttled) so one-shot requests share the
// periodic loop's quota.
func NewEngine(registry *Registry, resolver *PortfolioBindingResolver, dispatcher *Dispatcher, provider quote.Provider, metrics *observability.RuntimeMetrics) *Engine {
	return &Engine{
		registry:   registry,
		resolver:   resolver,
		dispatcher: dispatcher,
		provider:   provider,
		metrics:    metrics,
	}
}

// Registry exposes the connection registry for the fetch loop and tests.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Admit registers an authenticated connection and acknowledges it.
func (e *Engine) Admit(ctx context.Context, connID, userID string, sink Sink) error {
	if _, err := e.registry.Admit(connID, userID, sink); err != nil {
		return err
	}
	e.trackConnections()
	if sink != nil {
		if err := sink.Send(ctx, schema.NewConnectedEvent(userID)); err != nil {
			// The connection vanished before the ack reached it; undo the
			// admission so no registry state leaks.
			e.registry.Remove(connID)
			e.trackConnections()
			return errs.New("stream/engine", errs.CodeDelivery,
				errs.WithMessage("connected ack"), errs.WithCause(err))
		}
	}
	return nil
}

// Remove tears down the connection's registry state. Idempotent; this is the
// single exit path for every disconnect and eviction.
func (e *Engine) Remove(connID string) {
	e.registry.Remove(connID)
	e.trackConnections()
}

// SubscribePortfolio resolves the portfolio to its symbols and replaces the
// connection's subscription set with them.
func (e *Engine) SubscribePortfolio(ctx context.Context, connID, userID, portfolioID string) ([]string, error) {
	symbols, err := e.resolver.Resolve(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}
	if err := e.registry.BindPortfolio(connID, portfolioID, symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// SubscribeSymbols adds symbols to the connection's subscription set.
func (e *Engine) SubscribeSymbols(connID string, symbols []string) ([]string, error) {
	return e.registry.AddSymbols(connID, symbols)
}

// UnsubscribeSymbols removes symbols from the connection's subscription set.
func (e *Engine) UnsubscribeSymbols(connID string, symbols []string) ([]string, error) {
	return e.registry.RemoveSymbols(connID, symbols)
}

// LivePrice fetches a single quote outside the periodic loop, still subject
// to the shared provider rate limit.
func (e *Engine) LivePrice(ctx context.Context, symbol string) (schema.Quote, error) {
	normalized := schema.NormalizeSymbol(symbol)
	quotes, failures := e.provider.Fetch(ctx, []string{normalized})
	if len(quotes) > 0 {
		return quotes[0], nil
	}
	if len(failures) > 0 {
		return schema.Quote{}, errs.New("stream/engine", errs.CodeProvider,
			errs.WithSymbol(normalized), errs.WithCause(failures[0].Err))
	}
	return schema.Quote{}, errs.New("stream/engine", errs.CodeProvider,
		errs.WithSymbol(normalized), errs.WithMessage("no quote returned"))
}

// PublishPortfolioUpdate routes valuation output produced by an external
// collaborator to every connection bound to the portfolio.
func (e *Engine) PublishPortfolioUpdate(ctx context.Context, portfolioID string, performance decimal.Decimal) {
	e.dispatcher.DispatchPortfolio(ctx, portfolioID, performance)
}

// PublishMarketAlert broadcasts an alert to all connections unconditionally.
func (e *Engine) PublishMarketAlert(ctx context.Context, severity, message string) {
	e.dispatcher.DispatchAlert(ctx, severity, message)
}

func (e *Engine) trackConnections() {
	count := e.registry.Len()
	if e.metrics != nil {
		e.metrics.SetActiveConnections(count)
	}
	observability.Telemetry().SetGauge("stream_active_connections", float64(count), nil)
}
