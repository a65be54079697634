package schema

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/shopspring/decimal"
)

// EventType enumerates server-to-client event names.
type EventType string

const (
	// EventConnected acknowledges successful admission.
	EventConnected EventType = "connected"
	// EventPortfolioSubscribed acknowledges a portfolio subscription.
	EventPortfolioSubscribed EventType = "portfolio_subscribed"
	// EventSymbolsSubscribed acknowledges incremental symbol subscriptions.
	EventSymbolsSubscribed EventType = "symbols_subscribed"
	// EventSymbolsUnsubscribed acknowledges symbol removals.
	EventSymbolsUnsubscribed EventType = "symbols_unsubscribed"
	// EventPriceUpdate carries a quote to subscribed connections.
	EventPriceUpdate EventType = "price_update"
	// EventLivePrice answers a one-shot quote request.
	EventLivePrice EventType = "live_price"
	// EventPortfolioUpdate carries portfolio performance to bound connections.
	EventPortfolioUpdate EventType = "portfolio_update"
	// EventMarketAlert is broadcast to every connection unconditionally.
	EventMarketAlert EventType = "market_alert"
	// EventError reports a request failure without closing the connection.
	EventError EventType = "error"
)

// Event is the tagged envelope for all server-to-client traffic.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func newEvent(typ EventType, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payload structs below marshal unconditionally; a failure here is a
		// programming error surfaced as an empty payload rather than a panic.
		raw = []byte("{}")
	}
	return Event{Type: typ, Payload: raw}
}

// ConnectedPayload reports the authenticated user identity.
type ConnectedPayload struct {
	UserID string `json:"userId"`
}

// PortfolioSubscribedPayload acknowledges the bound portfolio and its symbols.
type PortfolioSubscribedPayload struct {
	PortfolioID string   `json:"portfolioId"`
	Symbols     []string `json:"symbols"`
}

// SymbolsPayload lists the symbols a subscription ack applies to.
type SymbolsPayload struct {
	Symbols []string `json:"symbols"`
}

// PriceUpdatePayload carries one quote.
type PriceUpdatePayload struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PortfolioUpdatePayload carries valuation output for a bound portfolio.
type PortfolioUpdatePayload struct {
	PortfolioID string          `json:"portfolioId"`
	Performance decimal.Decimal `json:"performance"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MarketAlertPayload is an operator-originated broadcast notice.
type MarketAlertPayload struct {
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a request failure to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewConnectedEvent builds the admission acknowledgement.
func NewConnectedEvent(userID string) Event {
	return newEvent(EventConnected, ConnectedPayload{UserID: userID})
}

// NewPortfolioSubscribedEvent builds the portfolio subscription ack.
func NewPortfolioSubscribedEvent(portfolioID string, symbols []string) Event {
	return newEvent(EventPortfolioSubscribed, PortfolioSubscribedPayload{
		PortfolioID: portfolioID,
		Symbols:     symbols,
	})
}

// NewSymbolsSubscribedEvent builds the incremental subscription ack.
func NewSymbolsSubscribedEvent(symbols []string) Event {
	return newEvent(EventSymbolsSubscribed, SymbolsPayload{Symbols: symbols})
}

// NewSymbolsUnsubscribedEvent builds the removal ack.
func NewSymbolsUnsubscribedEvent(symbols []string) Event {
	return newEvent(EventSymbolsUnsubscribed, SymbolsPayload{Symbols: symbols})
}

// NewPriceUpdateEvent wraps a quote for subscribed connections.
func NewPriceUpdateEvent(quote Quote) Event {
	return newEvent(EventPriceUpdate, quotePayload(quote))
}

// NewLivePriceEvent wraps a quote answering a one-shot request.
func NewLivePriceEvent(quote Quote) Event {
	return newEvent(EventLivePrice, quotePayload(quote))
}

func quotePayload(quote Quote) PriceUpdatePayload {
	return PriceUpdatePayload{
		Symbol:        quote.Symbol,
		Price:         quote.Price,
		Change:        quote.Change,
		ChangePercent: quote.ChangePercent,
		Source:        quote.Source,
		Timestamp:     quote.Timestamp,
	}
}

// NewPortfolioUpdateEvent wraps valuation output for bound connections.
func NewPortfolioUpdateEvent(portfolioID string, performance decimal.Decimal, ts time.Time) Event {
	return newEvent(EventPortfolioUpdate, PortfolioUpdatePayload{
		PortfolioID: portfolioID,
		Performance: performance,
		Timestamp:   ts,
	})
}

// NewMarketAlertEvent wraps a broadcast notice.
func NewMarketAlertEvent(severity, message string, ts time.Time) Event {
	return newEvent(EventMarketAlert, MarketAlertPayload{
		Severity:  severity,
		Message:   message,
		Timestamp: ts,
	})
}

// NewErrorEvent reports a failed request without closing the connection.
func NewErrorEvent(code, message string) Event {
	return newEvent(EventError, ErrorPayload{Code: code, Message: message})
}
