package core

import (
	"context"

	"github.com/shopspring/decimal"
)

type (
	// Swapper converts one position asset into another during a close.
	Swapper interface {
		Swap(ctx context.Context, from, to *Asset, maxSell, wantBuy decimal.Decimal, prices Prices) (*SwapFill, error)
	}

	SwapFill struct {
		From   string          `json:"from"`
		To     string          `json:"to"`
		Sold   decimal.Decimal `json:"sold"`
		Bought decimal.Decimal `json:"bought"`
	}
)

// OracleSwapper fills at oracle prices. The sold amount is rounded up and the
// bought amount down, so rounding never favors the position.
type OracleSwapper struct{}

func (OracleSwapper) Swap(ctx context.Context, from, to *Asset, maxSell, wantBuy decimal.Decimal, prices Prices) (*SwapFill, error) {
	fromPrice, err := prices.Get(from.Symbol)
	if err != nil {
		return nil, err
	}
	toPrice, err := prices.Get(to.Symbol)
	if err != nil {
		return nil, err
	}

	sell, rem := wantBuy.Mul(toPrice).QuoRem(fromPrice, WAD_DECIMALS)
	if !rem.IsZero() {
		sell = sell.Add(decimal.New(1, -WAD_DECIMALS))
	}
	sell = from.Ceil(sell)
	if sell.GreaterThan(maxSell) {
		sell = maxSell
	}
	if !sell.IsPositive() {
		return &SwapFill{From: from.Symbol, To: to.Symbol, Sold: decimal.Zero, Bought: decimal.Zero}, nil
	}
	bought, _ := sell.Mul(fromPrice).QuoRem(toPrice, WAD_DECIMALS)
	bought = to.Floor(bought)

	return &SwapFill{From: from.Symbol, To: to.Symbol, Sold: sell, Bought: bought}, nil
}
