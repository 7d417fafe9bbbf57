package core

import (
	"context"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// PriceFeed delivers already-verified prices, 8-decimal fixed point by convention.
	PriceFeed interface {
		GetPrices(ctx context.Context, symbols []string) (Prices, error)
	}

	Price struct {
		Value     decimal.Decimal `json:"value"`
		Timestamp int64           `json:"timestamp"`
	}

	// Prices is the price vector handed to the valuator.
	Prices map[string]Price
)

// Get returns the price of an asset. Zero and missing prices are both
// rejected: a zero price cannot be told apart from no price at all.
func (p Prices) Get(symbol string) (decimal.Decimal, error) {
	price, ok := p[symbol]
	if !ok {
		return decimal.Zero, errors.Wrapf(ErrMissingPrice, "asset %s", symbol)
	}
	if !price.Value.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrZeroPrice, "asset %s", symbol)
	}
	return price.Value, nil
}

func (p Prices) Clone() Prices {
	clone := make(Prices, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}

type StaticPriceFeed struct {
	mu     sync.RWMutex
	clk    clock.Clock
	prices Prices
}

func NewStaticPriceFeed(clk clock.Clock) *StaticPriceFeed {
	return &StaticPriceFeed{clk: clk, prices: make(Prices)}
}

func (f *StaticPriceFeed) SetPrice(symbol string, value decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = Price{Value: value.Truncate(PRICE_DECIMALS), Timestamp: f.clk.Now().Unix()}
}

func (f *StaticPriceFeed) GetPrices(ctx context.Context, symbols []string) (Prices, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	prices := make(Prices, len(symbols))
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			prices[s] = p
		}
	}
	return prices, nil
}
