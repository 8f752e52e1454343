package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures a USD price for an asset pair along with the timestamp
// reported by the upstream feed and the feed identifier. Price is an integer
// scaled by 10^Decimals so downstream valuation stays in exact arithmetic.
type PriceQuote struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Decimals: q.Decimals, Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceOracle resolves the latest USD quote for the provided pair, rendered in
// BASE/USD form (e.g. "ETH/USD").
type PriceOracle interface {
	Latest(pair string) (PriceQuote, error)
}

var (
	// ErrNoFreshQuote indicates that no registered feed produced a quote
	// within the configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrUnknownPair indicates the feed has never observed the pair.
	ErrUnknownPair = errors.New("oracle: unknown pair")
	// ErrInvalidPrice rejects non-positive prices at the posting boundary.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

func canonicalPair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// ManualFeed is an operator-driven price source. Prices are posted through the
// authorised RPC surface and read by the valuation layer.
type ManualFeed struct {
	mu     sync.RWMutex
	name   string
	quotes map[string]PriceQuote
	now    func() time.Time
}

// NewManualFeed constructs an empty feed identified by name.
func NewManualFeed(name string) *ManualFeed {
	return &ManualFeed{
		name:   strings.TrimSpace(name),
		quotes: make(map[string]PriceQuote),
		now:    time.Now,
	}
}

// SetClock overrides the timestamp source. Tests use it to drive staleness.
func (f *ManualFeed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Post records a new price for the pair. The feed keeps only the latest
// observation per pair.
func (f *ManualFeed) Post(pair string, price *big.Int, decimals uint8) error {
	if f == nil {
		return ErrUnknownPair
	}
	key := canonicalPair(pair)
	if key == "" {
		return ErrUnknownPair
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[key] = PriceQuote{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		Timestamp: f.now(),
		Source:    f.name,
	}
	return nil
}

// Latest implements the PriceOracle interface.
func (f *ManualFeed) Latest(pair string) (PriceQuote, error) {
	if f == nil {
		return PriceQuote{}, ErrUnknownPair
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[canonicalPair(pair)]
	if !ok {
		return PriceQuote{}, ErrUnknownPair
	}
	return quote.Clone(), nil
}

// Aggregator consults a list of registered oracles in priority order until a
// fresh quote is obtained. A zero maxAge disables the freshness check.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	oracles  map[string]PriceOracle
	maxAge   time.Duration
	now      func() time.Time
}

// NewAggregator constructs a new aggregator with the provided priority and
// freshness window.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		oracles:  make(map[string]PriceOracle),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetClock overrides the timestamp source used for staleness checks.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces an oracle under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent regardless
// of the configuration casing.
func (a *Aggregator) Register(name string, oracle PriceOracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || oracle == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracles[trimmed] = oracle
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Latest walks the priority list and returns the first sufficiently fresh
// quote. Feeds that error or return stale data are skipped; when every feed is
// exhausted ErrNoFreshQuote is returned.
func (a *Aggregator) Latest(pair string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, ErrNoFreshQuote
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	oracles := make(map[string]PriceOracle, len(a.oracles))
	for name, o := range a.oracles {
		oracles[name] = o
	}
	maxAge := a.maxAge
	now := a.now
	a.mu.RUnlock()

	for _, name := range priority {
		feed, ok := oracles[name]
		if !ok {
			continue
		}
		quote, err := feed.Latest(pair)
		if err != nil {
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			continue
		}
		if maxAge > 0 && now().Sub(quote.Timestamp) > maxAge {
			continue
		}
		return quote, nil
	}
	return PriceQuote{}, ErrNoFreshQuote
}
