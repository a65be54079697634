package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/foliostream/gateway/internal/auth"
	"github.com/foliostream/gateway/internal/observability"
	"github.com/foliostream/gateway/internal/portfolio"
	"github.com/foliostream/gateway/internal/schema"
	"github.com/foliostream/gateway/internal/stream"
	"github.com/foliostream/gateway/lib/async"
)

type fakeProvider struct {
	fail map[string]error
}

func (p *fakeProvider) Fetch(_ context.Context, symbols []string) ([]schema.Quote, []schema.SymbolError) {
	var quotes []schema.Quote
	var failures []schema.SymbolError
	for _, symbol := range symbols {
		if err, ok := p.fail[symbol]; ok {
			failures = append(failures, schema.SymbolError{Symbol: symbol, Err: err})
			continue
		}
		quotes = append(quotes, schema.Quote{
			Symbol:    symbol,
			Price:     decimal.NewFromFloat(101.5),
			Timestamp: time.Now().UTC(),
			Source:    "fake",
		})
	}
	return quotes, failures
}

type testHarness struct {
	ts     *httptest.Server
	engine *stream.Engine
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	store := portfolio.NewStaticStore(map[string]portfolio.Record{
		"pf-1":      {Owner: "user-a", Symbols: []string{"AAPL", "GOOGL"}},
		"pf-theirs": {Owner: "user-b", Symbols: []string{"TSLA"}},
	})
	verifier := auth.NewStaticVerifier(map[string]string{"tok-a": "user-a"})
	provider := &fakeProvider{fail: map[string]error{"BROKEN": errors.New("upstream 500")}}

	metrics := observability.NewRuntimeMetrics()
	registry := stream.NewRegistry()
	dispatcher := stream.NewDispatcher(registry, metrics, 4)
	engine := stream.NewEngine(registry, stream.NewPortfolioBindingResolver(store), dispatcher, provider, metrics)

	handlers, err := async.NewPool(4, 16)
	if err != nil {
		t.Fatalf("handler pool: %v", err)
	}
	t.Cleanup(handlers.Close)

	ts := httptest.NewServer(New(engine, verifier, handlers, Options{
		SendBufferSize: 16,
		PingInterval:   time.Minute,
		WriteTimeout:   time.Second,
	}))
	t.Cleanup(ts.Close)

	return &testHarness{ts: ts, engine: engine}
}

func (h *testHarness) wsURL(token string) string {
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func dial(t *testing.T, h *testHarness, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, h.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType schema.ClientMessageType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, err := json.Marshal(schema.ClientMessage{Type: msgType, Payload: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) schema.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event schema.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

func expectEvent(t *testing.T, conn *websocket.Conn, typ schema.EventType) schema.Event {
	t.Helper()
	event := readEvent(t, conn)
	if event.Type != typ {
		t.Fatalf("event = %s %s, want %s", event.Type, string(event.Payload), typ)
	}
	return event
}

func TestServerRejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, h.wsURL(""), nil); err == nil {
		t.Fatal("dial without token succeeded")
	}
	if h.engine.Registry().Len() != 0 {
		t.Fatalf("registry len = %d after rejected dial, want 0", h.engine.Registry().Len())
	}
}

func TestServerRejectsUnknownToken(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, h.wsURL("wrong"), nil); err == nil {
		t.Fatal("dial with unknown token succeeded")
	}
}

func TestServerConnectAndSubscribeSymbols(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")

	event := expectEvent(t, conn, schema.EventConnected)
	var connected schema.ConnectedPayload
	if err := json.Unmarshal(event.Payload, &connected); err != nil {
		t.Fatalf("decode connected payload: %v", err)
	}
	if connected.UserID != "user-a" {
		t.Fatalf("connected user = %q", connected.UserID)
	}

	send(t, conn, schema.ClientSubscribeSymbols, schema.SubscribeSymbolsPayload{Symbols: []string{"aapl", "MSFT"}})
	event = expectEvent(t, conn, schema.EventSymbolsSubscribed)
	var ack schema.SymbolsPayload
	if err := json.Unmarshal(event.Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(ack.Symbols) != 2 {
		t.Fatalf("ack symbols = %v", ack.Symbols)
	}

	send(t, conn, schema.ClientUnsubscribeSymbols, schema.SubscribeSymbolsPayload{Symbols: []string{"MSFT"}})
	expectEvent(t, conn, schema.EventSymbolsUnsubscribed)
}

func TestServerDeliversBroadcastQuotes(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")
	expectEvent(t, conn, schema.EventConnected)

	send(t, conn, schema.ClientSubscribeSymbols, schema.SubscribeSymbolsPayload{Symbols: []string{"AAPL"}})
	expectEvent(t, conn, schema.EventSymbolsSubscribed)

	quote := schema.Quote{Symbol: "AAPL", Price: decimal.NewFromFloat(190.10), Source: "fake"}
	dispatcher := stream.NewDispatcher(h.engine.Registry(), observability.NewRuntimeMetrics(), 2)
	dispatcher.DispatchQuote(context.Background(), quote)

	event := expectEvent(t, conn, schema.EventPriceUpdate)
	var payload schema.PriceUpdatePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("decode price update: %v", err)
	}
	if payload.Symbol != "AAPL" {
		t.Fatalf("price update symbol = %q", payload.Symbol)
	}
}

func TestServerPortfolioSubscription(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")
	expectEvent(t, conn, schema.EventConnected)

	send(t, conn, schema.ClientSubscribePortfolio, schema.SubscribePortfolioPayload{PortfolioID: "pf-1"})
	event := expectEvent(t, conn, schema.EventPortfolioSubscribed)
	var ack schema.PortfolioSubscribedPayload
	if err := json.Unmarshal(event.Payload, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.PortfolioID != "pf-1" || len(ack.Symbols) != 2 {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestServerForeignPortfolioKeepsConnectionOpen(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")
	expectEvent(t, conn, schema.EventConnected)

	send(t, conn, schema.ClientSubscribePortfolio, schema.SubscribePortfolioPayload{PortfolioID: "pf-theirs"})
	event := expectEvent(t, conn, schema.EventError)
	var failure schema.ErrorPayload
	if err := json.Unmarshal(event.Payload, &failure); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if failure.Code != "forbidden" {
		t.Fatalf("error code = %q, want forbidden", failure.Code)
	}

	// The connection must stay serviceable after the rejection.
	send(t, conn, schema.ClientSubscribeSymbols, schema.SubscribeSymbolsPayload{Symbols: []string{"NVDA"}})
	expectEvent(t, conn, schema.EventSymbolsSubscribed)
}

func TestServerLivePrice(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")
	expectEvent(t, conn, schema.EventConnected)

	send(t, conn, schema.ClientGetLivePrice, schema.LivePricePayload{Symbol: "googl"})
	event := expectEvent(t, conn, schema.EventLivePrice)
	var payload schema.PriceUpdatePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("decode live price: %v", err)
	}
	if payload.Symbol != "GOOGL" {
		t.Fatalf("live price symbol = %q", payload.Symbol)
	}

	send(t, conn, schema.ClientGetLivePrice, schema.LivePricePayload{Symbol: "BROKEN"})
	event = expectEvent(t, conn, schema.EventError)
	var failure schema.ErrorPayload
	if err := json.Unmarshal(event.Payload, &failure); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if failure.Code != "provider_error" {
		t.Fatalf("error code = %q, want provider_error", failure.Code)
	}
}

func TestServerRejectsMalformedFrames(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")
	expectEvent(t, conn, schema.EventConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"place_order"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	event := expectEvent(t, conn, schema.EventError)
	var failure schema.ErrorPayload
	if err := json.Unmarshal(event.Payload, &failure); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if failure.Code != "invalid_request" {
		t.Fatalf("error code = %q, want invalid_request", failure.Code)
	}
}

func TestServerDisconnectCleansRegistry(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h, "tok-a")
	expectEvent(t, conn, schema.EventConnected)

	send(t, conn, schema.ClientSubscribeSymbols, schema.SubscribeSymbolsPayload{Symbols: []string{"AAPL"}})
	expectEvent(t, conn, schema.EventSymbolsSubscribed)

	_ = conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.engine.Registry().Len() == 0 && len(h.engine.Registry().AllSymbols()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry not cleaned: conns=%d symbols=%v",
		h.engine.Registry().Len(), h.engine.Registry().AllSymbols())
}
