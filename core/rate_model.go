package core

import (
	"github.com/shopspring/decimal"
)

// InterestRateConfig is a kinked utilization curve. All rates are annualized.
type InterestRateConfig struct {
	BaseRate               decimal.Decimal `json:"baseRate"`
	Slope1                 decimal.Decimal `json:"slope1"`
	Slope2                 decimal.Decimal `json:"slope2"`
	OptimalUtilizationRate decimal.Decimal `json:"optimalUtilizationRate"`
	ReserveFactor          decimal.Decimal `json:"reserveFactor"`
}

// CalcInterestRate returns the deposit and borrow rates at the given utilization.
func (i *InterestRateConfig) CalcInterestRate(utilizationRatio decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	ur := clampUnit(utilizationRatio)

	borrowingRate := i.InterestRateCurve(ur)
	// deposit = borrow * ur * (1 - reserve factor)
	lendingRate := borrowingRate.Mul(ur).Mul(ONE.Sub(i.ReserveFactor))

	if lendingRate.IsNegative() || borrowingRate.IsNegative() {
		return decimal.Zero, decimal.Zero, ErrNegativeInterestRate
	}

	return lendingRate, borrowingRate, nil
}

func (i *InterestRateConfig) InterestRateCurve(utilizationRatio decimal.Decimal) decimal.Decimal {
	ur := clampUnit(utilizationRatio)
	optimalUr := i.OptimalUtilizationRate

	if ur.LessThanOrEqual(optimalUr) {
		// base + s1 * ur
		return i.BaseRate.Add(i.Slope1.Mul(ur))
	}
	// base + s1 * optimal_ur + s2 * (ur - optimal_ur)
	return i.BaseRate.Add(i.Slope1.Mul(optimalUr)).Add(i.Slope2.Mul(ur.Sub(optimalUr)))
}

func (i *InterestRateConfig) Validate() error {
	optimalUr := i.OptimalUtilizationRate

	if optimalUr.LessThanOrEqual(decimal.Zero) || optimalUr.GreaterThanOrEqual(ONE) {
		return ErrOptimalUr
	}
	if i.BaseRate.IsNegative() || i.Slope1.IsNegative() || i.Slope2.IsNegative() {
		return ErrNegativeInterestRate
	}
	if i.ReserveFactor.IsNegative() || i.ReserveFactor.GreaterThan(ONE) {
		return ErrReserveFactor
	}

	return nil
}

func (i *InterestRateConfig) Update(irConfig *InterestRateConfig) {
	if !irConfig.BaseRate.IsZero() {
		i.BaseRate = irConfig.BaseRate
	}
	if !irConfig.Slope1.IsZero() {
		i.Slope1 = irConfig.Slope1
	}
	if !irConfig.Slope2.IsZero() {
		i.Slope2 = irConfig.Slope2
	}
	if !irConfig.OptimalUtilizationRate.IsZero() {
		i.OptimalUtilizationRate = irConfig.OptimalUtilizationRate
	}
	if !irConfig.ReserveFactor.IsZero() {
		i.ReserveFactor = irConfig.ReserveFactor
	}
}

// ComputeUtilizationRate is borrowed / deposited, zero when nothing is deposited.
func ComputeUtilizationRate(totalBorrowed, totalDeposited decimal.Decimal) decimal.Decimal {
	if !totalDeposited.IsPositive() {
		return decimal.Zero
	}
	return clampUnit(totalBorrowed.DivRound(totalDeposited, WAD_DECIMALS))
}

func clampUnit(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(ONE) {
		return ONE
	}
	return v
}
