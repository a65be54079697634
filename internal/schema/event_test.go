package schema

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/shopspring/decimal"
)

func decodeEvent(t *testing.T, event Event) (string, map[string]any) {
	t.Helper()
	data, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode wire frame: %v", err)
	}
	return decoded.Type, decoded.Payload
}

func TestPriceUpdateEventShape(t *testing.T) {
	quote := Quote{
		Symbol:        "AAPL",
		Price:         decimal.RequireFromString("187.25"),
		Change:        decimal.RequireFromString("-1.50"),
		ChangePercent: decimal.RequireFromString("-0.79"),
		Timestamp:     time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC),
		Source:        "rest",
	}

	typ, payload := decodeEvent(t, NewPriceUpdateEvent(quote))
	if typ != string(EventPriceUpdate) {
		t.Fatalf("type = %q", typ)
	}
	if payload["symbol"] != "AAPL" {
		t.Fatalf("payload symbol = %v", payload["symbol"])
	}
	if payload["price"] != "187.25" {
		t.Fatalf("payload price = %v, want decimal string", payload["price"])
	}
	if payload["source"] != "rest" {
		t.Fatalf("payload source = %v", payload["source"])
	}
}

func TestConnectedEventShape(t *testing.T) {
	typ, payload := decodeEvent(t, NewConnectedEvent("user-1"))
	if typ != string(EventConnected) {
		t.Fatalf("type = %q", typ)
	}
	if payload["userId"] != "user-1" {
		t.Fatalf("payload userId = %v", payload["userId"])
	}
}

func TestPortfolioSubscribedEventShape(t *testing.T) {
	typ, payload := decodeEvent(t, NewPortfolioSubscribedEvent("pf-1", []string{"AAPL", "GOOGL"}))
	if typ != string(EventPortfolioSubscribed) {
		t.Fatalf("type = %q", typ)
	}
	if payload["portfolioId"] != "pf-1" {
		t.Fatalf("payload portfolioId = %v", payload["portfolioId"])
	}
	symbols, ok := payload["symbols"].([]any)
	if !ok || len(symbols) != 2 {
		t.Fatalf("payload symbols = %v", payload["symbols"])
	}
}

func TestErrorEventShape(t *testing.T) {
	typ, payload := decodeEvent(t, NewErrorEvent("forbidden", "portfolio not owned by caller"))
	if typ != string(EventError) {
		t.Fatalf("type = %q", typ)
	}
	if payload["code"] != "forbidden" {
		t.Fatalf("payload code = %v", payload["code"])
	}
	if payload["message"] != "portfolio not owned by caller" {
		t.Fatalf("payload message = %v", payload["message"])
	}
}

func TestPortfolioUpdateEventShape(t *testing.T) {
	ts := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)
	typ, payload := decodeEvent(t, NewPortfolioUpdateEvent("pf-1", decimal.RequireFromString("1.25"), ts))
	if typ != string(EventPortfolioUpdate) {
		t.Fatalf("type = %q", typ)
	}
	if payload["performance"] != "1.25" {
		t.Fatalf("payload performance = %v", payload["performance"])
	}
}

func TestMarketAlertEventShape(t *testing.T) {
	typ, payload := decodeEvent(t, NewMarketAlertEvent("critical", "trading halted", time.Now().UTC()))
	if typ != string(EventMarketAlert) {
		t.Fatalf("type = %q", typ)
	}
	if payload["severity"] != "critical" {
		t.Fatalf("payload severity = %v", payload["severity"])
	}
}
