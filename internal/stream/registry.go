package stream

import (
	"context"
	"sync"

	"github.com/foliostream/gateway/errs"
	"github.com/foliostream/gateway/internal/schema"
)

// Sink is a connection's outbound delivery surface. Send must be safe for
// concurrent use and must not block indefinitely; a closed connection
// returns an error which the dispatcher isolates per connection.
type Sink interface {
	Send(ctx context.Context, event schema.Event) error
}

// Connection is one authenticated persistent client session as the registry
// sees it. The registry exclusively owns Connection objects; all fields are
// guarded by the registry mutex.
type Connection struct {
	ID          string
	UserID      string
	sink        Sink
	symbols     map[string]struct{}
	portfolioID string
}

func (c *Connection) snapshotSymbols() []string {
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// Registry owns the set of live connections, each connection's subscription
// set, and the SubscriptionIndex derived from them. One mutex guards both
// structures: every mutation updates connection state and index in the same
// critical section, so the two remain dual views of a single relation. No
// I/O ever happens under the lock.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
	index *SubscriptionIndex
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		index: NewSubscriptionIndex(),
	}
}

// Admit registers a new authenticated connection. A duplicate connection id
// fails with CodeConflict; under correct transport semantics it cannot
// happen, so the failure indicates a transport bug rather than client error.
func (r *Registry) Admit(connID, userID string, sink Sink) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[connID]; exists {
		return nil, errs.New("stream/registry", errs.CodeConflict,
			errs.WithMessage("connection already registered: "+connID))
	}
	conn := &Connection{
		ID:          connID,
		UserID:      userID,
		sink:        sink,
		symbols:     make(map[string]struct{}),
		portfolioID: "",
	}
	r.conns[connID] = conn
	return conn, nil
}

// Remove deregisters the connection and prunes the index entry for every
// symbol it held. Idempotent: removing an unknown connection is a no-op.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	for symbol := range conn.symbols {
		r.index.Remove(symbol, connID)
	}
	delete(r.conns, connID)
}

// BindPortfolio replaces the connection's entire subscription set with the
// portfolio's symbols and records the bound portfolio id.
func (r *Registry) BindPortfolio(connID, portfolioID string, symbols []string) error {
	normalized := schema.NormalizeSymbols(symbols)
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return errs.New("stream/registry", errs.CodeNotFound,
			errs.WithMessage("unknown connection: "+connID))
	}
	for symbol := range conn.symbols {
		r.index.Remove(symbol, connID)
	}
	conn.symbols = make(map[string]struct{}, len(normalized))
	for _, symbol := range normalized {
		conn.symbols[symbol] = struct{}{}
		r.index.Add(symbol, connID)
	}
	conn.portfolioID = portfolioID
	return nil
}

// AddSymbols adds case-normalized symbols to the connection's subscription
// set. Duplicates are no-ops. Returns the symbols newly applied.
func (r *Registry) AddSymbols(connID string, symbols []string) ([]string, error) {
	normalized := schema.NormalizeSymbols(symbols)
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil, errs.New("stream/registry", errs.CodeNotFound,
			errs.WithMessage("unknown connection: "+connID))
	}
	added := make([]string, 0, len(normalized))
	for _, symbol := range normalized {
		if _, exists := conn.symbols[symbol]; exists {
			continue
		}
		conn.symbols[symbol] = struct{}{}
		r.index.Add(symbol, connID)
		added = append(added, symbol)
	}
	return added, nil
}

// RemoveSymbols removes the given symbols from the connection's subscription
// set. Unknown symbols are no-ops. Returns the symbols actually removed.
func (r *Registry) RemoveSymbols(connID string, symbols []string) ([]string, error) {
	normalized := schema.NormalizeSymbols(symbols)
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil, errs.New("stream/registry", errs.CodeNotFound,
			errs.WithMessage("unknown connection: "+connID))
	}
	removed := make([]string, 0, len(normalized))
	for _, symbol := range normalized {
		if _, exists := conn.symbols[symbol]; !exists {
			continue
		}
		delete(conn.symbols, symbol)
		r.index.Remove(symbol, connID)
		removed = append(removed, symbol)
	}
	return removed, nil
}

// target pairs a connection id with its sink for fan-out outside the lock.
type target struct {
	connID string
	sink   Sink
}

// SubscribersOf returns delivery targets for the symbol. Empty (never nil)
// when nobody is subscribed, which legitimately happens when a connection
// unsubscribes between snapshot and delivery.
func (r *Registry) SubscribersOf(symbol string) []target {
	normalized := schema.NormalizeSymbol(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.index.SubscribersOf(normalized)
	out := make([]target, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.conns[id]; ok {
			out = append(out, target{connID: id, sink: conn.sink})
		}
	}
	return out
}

// BoundTo returns delivery targets for every connection bound to the
// portfolio. Multiple connections (two browser tabs) can be bound to the same
// portfolio; all of them receive portfolio updates.
func (r *Registry) BoundTo(portfolioID string) []target {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []target
	for id, conn := range r.conns {
		if conn.portfolioID == portfolioID {
			out = append(out, target{connID: id, sink: conn.sink})
		}
	}
	return out
}

// Targets returns delivery targets for every live connection.
func (r *Registry) Targets() []target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]target, 0, len(r.conns))
	for id, conn := range r.conns {
		out = append(out, target{connID: id, sink: conn.sink})
	}
	return out
}

// AllSymbols snapshots the universe of subscribed symbols for a fetch cycle.
func (r *Registry) AllSymbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.AllSymbols()
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SubscribedSymbols returns a copy of one connection's subscription set, for
// acks and tests.
func (r *Registry) SubscribedSymbols(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return conn.snapshotSymbols()
}
