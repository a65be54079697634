package quote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/foliostream/gateway/errs"
	"github.com/foliostream/gateway/internal/schema"
)

const (
	defaultHTTPTimeout     = 10 * time.Second
	defaultRetryMaxTries   = 3
	defaultRetryMaxBackoff = 2 * time.Second
)

// HTTPProvider retrieves quotes from a REST quote service, one request per
// symbol, fetching the symbols of a batch concurrently. Transient failures
// are retried with exponential backoff inside the batch deadline.
type HTTPProvider struct {
	client   *http.Client
	baseURL  string
	endpoint string
	source   string
	maxTries uint
}

type quoteResponse struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
}

// NewHTTPProvider creates a provider with the given base URL, quote endpoint,
// and per-request timeout.
func NewHTTPProvider(baseURL, endpoint, source string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "/quote"
	}
	if source == "" {
		source = "rest"
	}
	client := new(http.Client)
	client.Timeout = timeout
	return &HTTPProvider{
		client:   client,
		baseURL:  baseURL,
		endpoint: endpoint,
		source:   source,
		maxTries: defaultRetryMaxTries,
	}
}

// Fetch requests a quote for every symbol in the batch. Each symbol is
// wrapped individually: one symbol's failure is recorded and excluded without
// aborting the rest.
func (p *HTTPProvider) Fetch(ctx context.Context, symbols []string) ([]schema.Quote, []schema.SymbolError) {
	if len(symbols) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	quotes := make([]schema.Quote, 0, len(symbols))
	var failures []schema.SymbolError

	workers := pool.New().WithMaxGoroutines(len(symbols))
	for _, symbol := range symbols {
		sym := symbol
		workers.Go(func() {
			quote, err := p.fetchOne(ctx, sym)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, schema.SymbolError{Symbol: sym, Err: err})
				return
			}
			quotes = append(quotes, quote)
		})
	}
	workers.Wait()

	return quotes, failures
}

func (p *HTTPProvider) fetchOne(ctx context.Context, symbol string) (schema.Quote, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = defaultRetryMaxBackoff

	operation := func() (schema.Quote, error) {
		return p.requestQuote(ctx, symbol)
	}
	quote, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoffCfg),
		backoff.WithMaxTries(p.maxTries))
	if err != nil {
		return schema.Quote{}, errs.New("quote/http", errs.CodeProvider,
			errs.WithSymbol(symbol), errs.WithCause(err))
	}
	return quote, nil
}

func (p *HTTPProvider) requestQuote(ctx context.Context, symbol string) (schema.Quote, error) {
	endpoint := fmt.Sprintf("%s%s?symbol=%s", p.baseURL, p.endpoint, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return schema.Quote{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return schema.Quote{}, fmt.Errorf("fetch quote: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return schema.Quote{}, backoff.Permanent(fmt.Errorf("symbol %s unknown to provider", symbol))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return schema.Quote{}, fmt.Errorf("quote status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return schema.Quote{}, fmt.Errorf("quote read: %w", err)
	}

	var decoded quoteResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return schema.Quote{}, backoff.Permanent(fmt.Errorf("quote decode: %w", err))
	}

	return schema.Quote{
		Symbol:        schema.NormalizeSymbol(decoded.Symbol),
		Price:         decoded.Price,
		Change:        decoded.Change,
		ChangePercent: decoded.ChangePercent,
		Timestamp:     time.Now().UTC(),
		Source:        p.source,
	}, nil
}
