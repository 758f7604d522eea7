package execution

import "sync"

// QuoteCache holds the latest option LTPs keyed by trading symbol. A poller
// goroutine writes fresh quotes from the broker API; the pipeline reads them
// non-blockingly at candle close, so no network call ever sits inside the
// mutation path.
type QuoteCache struct {
	mu      sync.RWMutex
	quotes  map[string]int64 // paise
	tracked map[string]struct{}
}

// NewQuoteCache creates an empty QuoteCache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes:  make(map[string]int64),
		tracked: make(map[string]struct{}),
	}
}

// Track adds a symbol to the poller's refresh list without storing a quote.
// Get keeps reporting ok=false until the first real LTP arrives.
func (q *QuoteCache) Track(symbol string) {
	q.mu.Lock()
	q.tracked[symbol] = struct{}{}
	q.mu.Unlock()
}

// Set stores the latest LTP for a symbol.
func (q *QuoteCache) Set(symbol string, ltp int64) {
	q.mu.Lock()
	q.quotes[symbol] = ltp
	q.mu.Unlock()
}

// Get returns the latest LTP for a symbol, ok=false when never quoted.
func (q *QuoteCache) Get(symbol string) (int64, bool) {
	q.mu.RLock()
	ltp, ok := q.quotes[symbol]
	q.mu.RUnlock()
	return ltp, ok
}

// Symbols returns all cached and tracked symbols, for poller refresh lists.
func (q *QuoteCache) Symbols() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.quotes)+len(q.tracked))
	for s := range q.quotes {
		out = append(out, s)
	}
	for s := range q.tracked {
		if _, ok := q.quotes[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}
