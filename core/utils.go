package core

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MAX_RAW_AMOUNT is the largest amount, in an asset's smallest unit, a balance may hold.
var MAX_RAW_AMOUNT = decimal.NewFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)), 0)

func CalcValue(amount decimal.Decimal, price decimal.Decimal, weight *decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		return decimal.Zero, nil
	}

	weightedAmount := amount
	if weight != nil {
		weightedAmount = amount.Mul(*weight)
	}

	return weightedAmount.Mul(price), nil
}

func CalcAmount(value decimal.Decimal, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrZeroPrice
	}
	q, _ := value.QuoRem(price, WAD_DECIMALS)
	return q, nil
}

// CheckAmountRange rejects amounts whose raw unit count does not fit in 128 bits.
func CheckAmountRange(asset *Asset, amount decimal.Decimal) error {
	if amount.Abs().Shift(asset.Decimals).GreaterThan(MAX_RAW_AMOUNT) {
		return errors.Wrapf(ErrAmountOverflow, "%s amount %s", asset.Symbol, amount)
	}
	return nil
}

/*
const aprToApy = (apr: number, compoundingFrequency = HOURS_PER_YEAR) =>

	(1 + apr / compoundingFrequency) ** compoundingFrequency - 1;
*/
func AprToApy(apr decimal.Decimal) decimal.Decimal {
	hoursPerYear := decimal.NewFromFloat(HOURS_PER_YEAR)
	return (ONE.Add(apr.Div(hoursPerYear))).Pow(hoursPerYear).Sub(ONE).Round(8)
}
