// Package stream implements the real-time subscription and broadcast engine.
package stream

// SubscriptionIndex is the reverse mapping from symbol to the set of
// interested connection ids. It is a pure data structure with no locking of
// its own: the owning Registry serializes every access so readers never
// observe a key whose subscriber set is concurrently being emptied.
type SubscriptionIndex struct {
	bySymbol map[string]map[string]struct{}
}

// NewSubscriptionIndex creates an empty index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{bySymbol: make(map[string]map[string]struct{})}
}

// Add records the connection's interest in the symbol. Idempotent.
func (idx *SubscriptionIndex) Add(symbol, connID string) {
	subs, ok := idx.bySymbol[symbol]
	if !ok {
		subs = make(map[string]struct{})
		idx.bySymbol[symbol] = subs
	}
	subs[connID] = struct{}{}
}

// Remove drops the connection's interest in the symbol. Idempotent. A symbol
// whose subscriber set becomes empty is deleted immediately so the fetch loop
// never queries an unsubscribed symbol and the key space cannot grow without
// bound across a long-lived process.
func (idx *SubscriptionIndex) Remove(symbol, connID string) {
	subs, ok := idx.bySymbol[symbol]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(idx.bySymbol, symbol)
	}
}

// SubscribersOf returns the connection ids subscribed to the symbol. The
// result is a copy and never nil.
func (idx *SubscriptionIndex) SubscribersOf(symbol string) []string {
	subs := idx.bySymbol[symbol]
	out := make([]string, 0, len(subs))
	for connID := range subs {
		out = append(out, connID)
	}
	return out
}

// AllSymbols returns the universe of currently subscribed symbols.
func (idx *SubscriptionIndex) AllSymbols() []string {
	out := make([]string, 0, len(idx.bySymbol))
	for symbol := range idx.bySymbol {
		out = append(out, symbol)
	}
	return out
}

// Len reports the number of distinct subscribed symbols.
func (idx *SubscriptionIndex) Len() int {
	return len(idx.bySymbol)
}
