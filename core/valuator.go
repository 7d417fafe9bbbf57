package core

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type PositionState uint8

const (
	Solvent PositionState = iota
	InsolventCovered
	Bankrupt
)

func (s PositionState) String() string {
	switch s {
	case Solvent:
		return "Solvent"
	case InsolventCovered:
		return "InsolventCovered"
	case Bankrupt:
		return "Bankrupt"
	default:
		return "Unknown"
	}
}

// PoolLookup resolves the pool of an asset.
type PoolLookup func(symbol string) (*Pool, error)

type Valuation struct {
	TotalValue             decimal.Decimal `json:"totalValue"`
	TotalDebt              decimal.Decimal `json:"totalDebt"`
	ThresholdWeightedValue decimal.Decimal `json:"thresholdWeightedValue"`

	// LTV and WeightedLTV are basis points against V and TWV respectively.
	LTV         int64           `json:"ltv"`
	WeightedLTV int64           `json:"weightedLtv"`
	HealthRatio decimal.Decimal `json:"healthRatio"`
	MaxLtvBps   int64           `json:"maxLtvBps"`

	AssetValues map[string]decimal.Decimal `json:"assetValues"`
	DebtValues  map[string]decimal.Decimal `json:"debtValues"`
	DebtAmounts map[string]decimal.Decimal `json:"debtAmounts"`
	Prices      Prices                     `json:"-"`
}

// Valuate prices a position. Every asset the position holds or owes must have
// a positive price or the whole call fails. Pools must already be accrued.
func Valuate(position *Position, pools PoolLookup, assets *AssetRegistry, prices Prices, maxLtvBps int64) (*Valuation, error) {
	v := &Valuation{
		TotalValue:             decimal.Zero,
		TotalDebt:              decimal.Zero,
		ThresholdWeightedValue: decimal.Zero,
		MaxLtvBps:              maxLtvBps,
		AssetValues:            make(map[string]decimal.Decimal, len(position.Balances)),
		DebtValues:             make(map[string]decimal.Decimal, len(position.Loans)),
		DebtAmounts:            make(map[string]decimal.Decimal, len(position.Loans)),
		Prices:                 prices,
	}

	for symbol, balance := range position.Balances {
		asset, err := assets.Get(symbol)
		if err != nil {
			return nil, err
		}
		price, err := prices.Get(symbol)
		if err != nil {
			return nil, errors.Wrapf(err, "valuate position %s", position.Id)
		}
		value, err := CalcValue(balance, price, nil)
		if err != nil {
			return nil, err
		}
		weighted, err := CalcValue(balance, price, &asset.Coverage)
		if err != nil {
			return nil, err
		}
		v.AssetValues[symbol] = value
		v.TotalValue = v.TotalValue.Add(value)
		v.ThresholdWeightedValue = v.ThresholdWeightedValue.Add(weighted)
	}

	for symbol, loan := range position.Loans {
		pool, err := pools(symbol)
		if err != nil {
			return nil, err
		}
		price, err := prices.Get(symbol)
		if err != nil {
			return nil, errors.Wrapf(err, "valuate position %s", position.Id)
		}
		debt := pool.DebtOf(loan)
		if debt.IsZero() {
			continue
		}
		value, err := CalcValue(debt, price, nil)
		if err != nil {
			return nil, err
		}
		v.DebtAmounts[symbol] = debt
		v.DebtValues[symbol] = value
		v.TotalDebt = v.TotalDebt.Add(value)
	}

	v.LTV = RatioBps(v.TotalDebt, v.TotalValue)
	v.WeightedLTV = RatioBps(v.TotalDebt, v.ThresholdWeightedValue)
	v.HealthRatio = healthRatio(v.ThresholdWeightedValue, v.TotalDebt, maxLtvBps)

	return v, nil
}

// RatioBps is floor(debt * 10000 / value) with the zero conventions:
// no debt is 0, debt against nothing saturates at LTV_SENTINEL.
func RatioBps(debt, value decimal.Decimal) int64 {
	if !debt.IsPositive() {
		return 0
	}
	if !value.IsPositive() {
		return LTV_SENTINEL
	}
	q, _ := debt.Mul(BPS).QuoRem(value, 0)
	if q.GreaterThanOrEqual(decimal.NewFromInt(LTV_SENTINEL)) {
		return LTV_SENTINEL
	}
	return q.IntPart()
}

// healthRatio is TWV / debt normalized by the threshold, so 1 is the boundary.
func healthRatio(twv, debt decimal.Decimal, maxLtvBps int64) decimal.Decimal {
	if !debt.IsPositive() {
		return HEALTH_RATIO_SENTINEL
	}
	hr := twv.Mul(decimal.NewFromInt(maxLtvBps)).DivRound(debt.Mul(BPS), WAD_DECIMALS)
	if hr.GreaterThan(HEALTH_RATIO_SENTINEL) {
		return HEALTH_RATIO_SENTINEL
	}
	return hr
}

// SolventByLTV holds iff the coverage-weighted LTV is strictly below the threshold.
func (v *Valuation) SolventByLTV() bool {
	if !v.TotalDebt.IsPositive() {
		return true
	}
	return v.WeightedLTV < v.MaxLtvBps
}

// SolventByHealth holds iff TWV * maxLtv > debt * 10000, compared exactly.
func (v *Valuation) SolventByHealth() bool {
	if !v.TotalDebt.IsPositive() {
		return true
	}
	return v.ThresholdWeightedValue.Mul(decimal.NewFromInt(v.MaxLtvBps)).GreaterThan(v.TotalDebt.Mul(BPS))
}

func (v *Valuation) IsSolvent() bool {
	return v.SolventByLTV() && v.SolventByHealth()
}

func (v *Valuation) State() PositionState {
	if v.IsSolvent() {
		return Solvent
	}
	if v.TotalValue.GreaterThanOrEqual(v.TotalDebt) {
		return InsolventCovered
	}
	return Bankrupt
}

// SolvencyMismatch reports whether the two solvency views disagree, which is always a bug.
func (v *Valuation) SolvencyMismatch() bool {
	return v.SolventByLTV() != v.SolventByHealth()
}

func (v *Valuation) IsSentinelLTV() bool {
	return v.LTV == LTV_SENTINEL
}
