package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

type LiquidationPlan struct {
	PositionId   string                     `json:"positionId"`
	TargetBps    int64                      `json:"targetBps"`
	BonusBps     int64                      `json:"bonusBps"`
	RepayValue   decimal.Decimal            `json:"repayValue"`
	SeizeValue   decimal.Decimal            `json:"seizeValue"`
	RepayAmounts map[string]decimal.Decimal `json:"repayAmounts"`
	ExpectedLTV  int64                      `json:"expectedLtv"`
}

// SolveRepayValue returns the debt value R that brings (D - R) / (V - R(1+b))
// to the target ratio t:
//
//	R = (D - t*V) / (1 - t*(1+b))
//
// clamped to [0, D]. A non-positive denominator has no solution.
func SolveRepayValue(debt, value decimal.Decimal, targetBps, bonusBps int64) (decimal.Decimal, error) {
	if targetBps < 0 || bonusBps < 0 {
		return decimal.Zero, ErrInfeasibleTarget
	}
	t := decimal.NewFromInt(targetBps).Div(BPS)
	b := decimal.NewFromInt(bonusBps).Div(BPS)

	denominator := ONE.Sub(t.Mul(ONE.Add(b)))
	if !denominator.IsPositive() {
		return decimal.Zero, ErrInfeasibleTarget
	}

	r, _ := debt.Sub(t.Mul(value)).QuoRem(denominator, WAD_DECIMALS)
	if r.IsNegative() {
		return decimal.Zero, nil
	}
	if r.GreaterThan(debt) {
		return debt, nil
	}
	return r, nil
}

// SplitRepayValue spreads a repay value across the position's loans in
// proportion to each pool's share of the debt. Amounts are floored to the
// asset precision and never exceed the outstanding debt.
func SplitRepayValue(valuation *Valuation, repayValue decimal.Decimal, assets *AssetRegistry) (map[string]decimal.Decimal, error) {
	amounts := make(map[string]decimal.Decimal, len(valuation.DebtValues))
	if !repayValue.IsPositive() || !valuation.TotalDebt.IsPositive() {
		return amounts, nil
	}

	symbols := make([]string, 0, len(valuation.DebtValues))
	for s := range valuation.DebtValues {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		asset, err := assets.Get(symbol)
		if err != nil {
			return nil, err
		}
		price, err := valuation.Prices.Get(symbol)
		if err != nil {
			return nil, err
		}
		share := repayValue.Mul(valuation.DebtValues[symbol]).DivRound(valuation.TotalDebt, WAD_DECIMALS)
		amount, err := CalcAmount(share, price)
		if err != nil {
			return nil, err
		}
		amount = decimal.Min(asset.Floor(amount), valuation.DebtAmounts[symbol])
		if amount.IsPositive() {
			amounts[symbol] = amount
		}
	}
	return amounts, nil
}

// ExpectedLTV is the LTV after repaying repayValue and seizing it plus the bonus.
func ExpectedLTV(debt, value, repayValue decimal.Decimal, bonusBps int64) int64 {
	seize := repayValue.Mul(ONE.Add(decimal.NewFromInt(bonusBps).Div(BPS)))
	return RatioBps(debt.Sub(repayValue), value.Sub(seize))
}

// TranslateWeightedTarget converts a coverage-weighted target LTV into the
// equivalent target on unweighted value. Proportional seizure keeps TWV/V fixed.
func TranslateWeightedTarget(valuation *Valuation, weightedTargetBps int64) int64 {
	if !valuation.TotalValue.IsPositive() {
		return weightedTargetBps
	}
	return decimal.NewFromInt(weightedTargetBps).
		Mul(valuation.ThresholdWeightedValue).
		Div(valuation.TotalValue).
		Floor().
		IntPart()
}
