package stable

import (
	"math/big"

	"stablecore/crypto"
	"stablecore/native/oracle"
)

// Feed pairs a price source with the pair identifier it is queried under.
type Feed struct {
	Source oracle.PriceOracle
	Pair   string
}

// PriceView wraps one external price feed per collateral asset and converts
// between asset quantities and USD values at the engine's fixed precision.
// The asset set and feed wiring are fixed at construction.
type PriceView struct {
	assets []crypto.Address
	feeds  map[string]Feed
}

// NewPriceView validates the asset/feed pairing and builds the lookup table.
// The two slices must be index-aligned and equal in length.
func NewPriceView(assets []crypto.Address, feeds []Feed) (*PriceView, error) {
	if len(assets) != len(feeds) {
		return nil, ErrLengthMismatch
	}
	view := &PriceView{
		assets: append([]crypto.Address{}, assets...),
		feeds:  make(map[string]Feed, len(assets)),
	}
	for i, asset := range assets {
		view.feeds[asset.String()] = feeds[i]
	}
	return view, nil
}

// Supported reports whether the asset is in the configured collateral set.
func (v *PriceView) Supported(asset crypto.Address) bool {
	_, ok := v.feeds[asset.String()]
	return ok
}

// Assets returns the configured collateral set in construction order.
func (v *PriceView) Assets() []crypto.Address {
	return append([]crypto.Address{}, v.assets...)
}

// Snapshot returns a read-through cache over the feeds. Every conversion made
// through one snapshot observes prices fetched at most once per asset, so a
// multi-step operation cannot see inconsistent valuations.
func (v *PriceView) Snapshot() *PriceSnapshot {
	return &PriceSnapshot{view: v, prices: make(map[string]*big.Int)}
}

// PriceSnapshot caches normalised prices for the duration of one operation.
type PriceSnapshot struct {
	view   *PriceView
	prices map[string]*big.Int
}

// scaledPrice returns the asset's USD price normalised to 1e18, fetching from
// the feed on first use and reusing the cached value afterwards.
func (s *PriceSnapshot) scaledPrice(asset crypto.Address) (*big.Int, error) {
	key := asset.String()
	if price, ok := s.prices[key]; ok {
		return price, nil
	}
	feed, ok := s.view.feeds[key]
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	quote, err := feed.Source.Latest(feed.Pair)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Set(quote.Price)
	switch {
	case quote.Decimals < feedTargetDecimals:
		price.Mul(price, pow10(uint(feedTargetDecimals-quote.Decimals)))
	case quote.Decimals > feedTargetDecimals:
		price.Quo(price, pow10(uint(quote.Decimals-feedTargetDecimals)))
	}
	s.prices[key] = price
	return price, nil
}

// UsdValue converts an asset quantity into its 1e18-scaled USD value.
func (s *PriceSnapshot) UsdValue(asset crypto.Address, quantity *big.Int) (*big.Int, error) {
	price, err := s.scaledPrice(asset)
	if err != nil {
		return nil, err
	}
	if quantity == nil {
		return big.NewInt(0), nil
	}
	value := new(big.Int).Mul(quantity, price)
	return value.Quo(value, precision), nil
}

// QuantityFromUsd converts a 1e18-scaled USD amount into the asset quantity it
// buys at the snapshot price. This is the algebraic inverse of UsdValue up to
// one smallest unit of truncation.
func (s *PriceSnapshot) QuantityFromUsd(asset crypto.Address, usdAmount *big.Int) (*big.Int, error) {
	price, err := s.scaledPrice(asset)
	if err != nil {
		return nil, err
	}
	if usdAmount == nil {
		return big.NewInt(0), nil
	}
	quantity := new(big.Int).Mul(usdAmount, precision)
	return quantity.Quo(quantity, price), nil
}
