package core

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	wad            = uint256.NewInt(1_000_000_000_000_000_000)
	secondsPerYear = uint256.NewInt(SECONDS_PER_YEAR)
)

// CompoundIndex advances a compounding index by one simple period:
//
//	I' = I * (1 + apr * timeDelta / YEAR)
//
// The product is evaluated in 18-decimal fixed point and rounded down.
// A result that does not fit in 128 bits fails with ErrAccrualOverflow.
func CompoundIndex(index, apr decimal.Decimal, timeDelta int64) (decimal.Decimal, error) {
	if timeDelta <= 0 || apr.IsZero() {
		return index, nil
	}
	if apr.IsNegative() {
		return decimal.Zero, ErrNegativeInterestRate
	}

	indexWad, err := toWad(index)
	if err != nil {
		return decimal.Zero, err
	}
	aprWad, err := toWad(apr)
	if err != nil {
		return decimal.Zero, err
	}

	// apr * dt / year
	periodRate, overflow := new(uint256.Int).MulDivOverflow(aprWad, uint256.NewInt(uint64(timeDelta)), secondsPerYear)
	if overflow {
		return decimal.Zero, ErrAccrualOverflow
	}
	factor, overflow := new(uint256.Int).AddOverflow(wad, periodRate)
	if overflow {
		return decimal.Zero, ErrAccrualOverflow
	}
	next, overflow := new(uint256.Int).MulDivOverflow(indexWad, factor, wad)
	if overflow || next.BitLen() > 128 {
		return decimal.Zero, ErrAccrualOverflow
	}

	return fromWad(next), nil
}

// ScaleByIndex returns principal * currentIndex / snapshotIndex.
func ScaleByIndex(principal, currentIndex, snapshotIndex decimal.Decimal) decimal.Decimal {
	if principal.IsZero() || snapshotIndex.IsZero() || currentIndex.Equal(snapshotIndex) {
		return principal
	}
	return principal.Mul(currentIndex).DivRound(snapshotIndex, WAD_DECIMALS)
}

func toWad(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, ErrAccrualOverflow
	}
	n := d.Shift(WAD_DECIMALS).Truncate(0).BigInt()
	v, overflow := uint256.FromBig(n)
	if overflow || v.BitLen() > 128 {
		return nil, ErrAccrualOverflow
	}
	return v, nil
}

func fromWad(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -WAD_DECIMALS)
}
