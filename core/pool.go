package core

import (
	"context"
	"time"

	"github.com/DomeLiquid/lending/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	PoolStore interface {
		GetPool(ctx context.Context, symbol string) (*Pool, error)
		ListPools(ctx context.Context) ([]*Pool, error)
		UpsertPool(ctx context.Context, pool *Pool) error
	}

	// Pool is a single-asset lending pool. Totals are index-adjusted as of LastUpdate.
	Pool struct {
		Id       uuid.UUID `json:"id"`
		Symbol   string    `json:"symbol"`
		Decimals int32     `json:"decimals"`

		TotalDeposited decimal.Decimal `json:"totalDeposited"`
		TotalBorrowed  decimal.Decimal `json:"totalBorrowed"`
		Reserves       decimal.Decimal `json:"reserves"`

		DepositIndex decimal.Decimal `json:"depositIndex"`
		BorrowIndex  decimal.Decimal `json:"borrowIndex"`

		InterestRateConfig `json:"interestRateConfig"`

		CreatedAt  int64 `json:"createdAt"`
		LastUpdate int64 `json:"lastUpdate"`
	}

	// IndexedAmount is a principal snapshot taken at SnapshotIndex.
	IndexedAmount struct {
		Principal     decimal.Decimal `json:"principal"`
		SnapshotIndex decimal.Decimal `json:"snapshotIndex"`
	}
)

func NewPool(clk clock.Clock, asset *Asset, irConfig InterestRateConfig) *Pool {
	return NewPoolWithCreateTime(asset, irConfig, clk.Now())
}

func NewPoolWithCreateTime(asset *Asset, irConfig InterestRateConfig, createTime time.Time) *Pool {
	return &Pool{
		Id:                 uuid.Must(uuid.FromString(utils.GenUuidFromStrings("pool", asset.Symbol))),
		Symbol:             asset.Symbol,
		Decimals:           asset.Decimals,
		TotalDeposited:     decimal.Zero,
		TotalBorrowed:      decimal.Zero,
		Reserves:           decimal.Zero,
		DepositIndex:       ONE,
		BorrowIndex:        ONE,
		InterestRateConfig: irConfig,
		CreatedAt:          createTime.Unix(),
		LastUpdate:         createTime.Unix(),
	}
}

func (p *Pool) Clone() *Pool {
	return &Pool{
		Id:                 p.Id,
		Symbol:             p.Symbol,
		Decimals:           p.Decimals,
		TotalDeposited:     p.TotalDeposited,
		TotalBorrowed:      p.TotalBorrowed,
		Reserves:           p.Reserves,
		DepositIndex:       p.DepositIndex,
		BorrowIndex:        p.BorrowIndex,
		InterestRateConfig: p.InterestRateConfig,
		CreatedAt:          p.CreatedAt,
		LastUpdate:         p.LastUpdate,
	}
}

func (p *Pool) Configure(irConfig *InterestRateConfig) error {
	next := p.InterestRateConfig
	next.Update(irConfig)
	if err := next.Validate(); err != nil {
		return err
	}
	p.InterestRateConfig = next
	return nil
}

func (p *Pool) ComputeUtilizationRate() decimal.Decimal {
	return ComputeUtilizationRate(p.TotalBorrowed, p.TotalDeposited)
}

func (p *Pool) AvailableLiquidity() decimal.Decimal {
	return decimal.Max(decimal.Zero, p.TotalDeposited.Sub(p.TotalBorrowed))
}

func (p *Pool) CheckUtilizationRatio() error {
	if p.TotalDeposited.LessThan(p.TotalBorrowed) {
		return errors.Wrapf(ErrIllegalUtilization, "pool %s borrowed %s deposited %s", p.Symbol, p.TotalBorrowed, p.TotalDeposited)
	}
	return nil
}

// AccrueInterest compounds both indices up to currentTimestamp using the rates
// implied by the utilization before accrual. Repeated calls at the same
// timestamp are no-ops and LastUpdate never moves backwards.
func (p *Pool) AccrueInterest(log Log, currentTimestamp int64) error {
	timeDelta := currentTimestamp - p.LastUpdate
	if timeDelta <= 0 {
		return nil
	}

	utilizationRate := p.ComputeUtilizationRate()
	lendingApr, borrowingApr, err := p.InterestRateConfig.CalcInterestRate(utilizationRate)
	if err != nil {
		return err
	}

	borrowIndex, err := CompoundIndex(p.BorrowIndex, borrowingApr, timeDelta)
	if err != nil {
		return errors.Wrapf(err, "pool %s borrow index", p.Symbol)
	}
	depositIndex, err := CompoundIndex(p.DepositIndex, lendingApr, timeDelta)
	if err != nil {
		return errors.Wrapf(err, "pool %s deposit index", p.Symbol)
	}

	totalBorrowed := ScaleByIndex(p.TotalBorrowed, borrowIndex, p.BorrowIndex)
	interest := totalBorrowed.Sub(p.TotalBorrowed)

	lenders := p.TotalDeposited.Sub(p.Reserves)
	lenderInterest := ScaleByIndex(lenders, depositIndex, p.DepositIndex).Sub(lenders)
	reserveInterest := decimal.Max(decimal.Zero, interest.Sub(lenderInterest))

	log.Debug().Msgf("pool %s accrue timeDelta: %d, utilizationRate: %s, lendingApr: %s, borrowingApr: %s, interest: %s, reserveInterest: %s",
		p.Symbol, timeDelta, utilizationRate, lendingApr, borrowingApr, interest, reserveInterest)

	p.BorrowIndex = borrowIndex
	p.DepositIndex = depositIndex
	p.TotalBorrowed = totalBorrowed
	p.Reserves = p.Reserves.Add(reserveInterest)
	p.TotalDeposited = p.TotalDeposited.Add(lenderInterest).Add(reserveInterest)
	p.LastUpdate = currentTimestamp

	return p.CheckUtilizationRatio()
}

// DebtOf returns the current amount owed on a loan record.
func (p *Pool) DebtOf(loan *IndexedAmount) decimal.Decimal {
	if loan == nil {
		return decimal.Zero
	}
	return loan.Current(p.BorrowIndex)
}

// SupplyOf returns the current redeemable amount of a lender record.
func (p *Pool) SupplyOf(supply *IndexedAmount) decimal.Decimal {
	if supply == nil {
		return decimal.Zero
	}
	return supply.Current(p.DepositIndex)
}

func (p *Pool) RecordDeposit(supply *IndexedAmount, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	supply.Add(amount, p.DepositIndex)
	p.TotalDeposited = p.TotalDeposited.Add(amount)
	return nil
}

func (p *Pool) RecordWithdraw(supply *IndexedAmount, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.SupplyOf(supply)) {
		return errors.Wrapf(ErrInsufficientBalance, "pool %s supply %s < %s", p.Symbol, p.SupplyOf(supply), amount)
	}
	if amount.GreaterThan(p.AvailableLiquidity()) {
		return errors.Wrapf(ErrInsufficientLiquidity, "pool %s available %s < %s", p.Symbol, p.AvailableLiquidity(), amount)
	}
	supply.Sub(amount, p.DepositIndex)
	p.TotalDeposited = p.TotalDeposited.Sub(amount)
	return p.CheckUtilizationRatio()
}

func (p *Pool) RecordBorrow(loan *IndexedAmount, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(p.AvailableLiquidity()) {
		return errors.Wrapf(ErrInsufficientLiquidity, "pool %s available %s < %s", p.Symbol, p.AvailableLiquidity(), amount)
	}
	loan.Add(amount, p.BorrowIndex)
	p.TotalBorrowed = p.TotalBorrowed.Add(amount)
	return p.CheckUtilizationRatio()
}

// RecordRepay takes at most the outstanding debt rounded up to the asset
// precision and returns the amount taken from the payer. The part of a
// rounded-up payment above the exact debt is kept by the pool as reserves.
func (p *Pool) RecordRepay(loan *IndexedAmount, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	debt := p.DebtOf(loan)
	taken := decimal.Min(amount, debt.RoundCeil(p.Decimals))
	if taken.IsZero() {
		return decimal.Zero, nil
	}
	applied := decimal.Min(taken, debt)
	loan.Sub(applied, p.BorrowIndex)
	// per-loan scaling can leave the total a dust below the sum of loans
	p.TotalBorrowed = decimal.Max(decimal.Zero, p.TotalBorrowed.Sub(applied))

	if dust := taken.Sub(applied); dust.IsPositive() {
		p.Reserves = p.Reserves.Add(dust)
		p.TotalDeposited = p.TotalDeposited.Add(dust)
	}
	return taken, nil
}

func NewIndexedAmount(index decimal.Decimal) *IndexedAmount {
	return &IndexedAmount{Principal: decimal.Zero, SnapshotIndex: index}
}

func (a *IndexedAmount) Current(index decimal.Decimal) decimal.Decimal {
	return ScaleByIndex(a.Principal, index, a.SnapshotIndex)
}

// Add re-snapshots the record at index after adding amount.
func (a *IndexedAmount) Add(amount, index decimal.Decimal) {
	a.Principal = a.Current(index).Add(amount)
	a.SnapshotIndex = index
}

func (a *IndexedAmount) Sub(amount, index decimal.Decimal) {
	a.Principal = decimal.Max(decimal.Zero, a.Current(index).Sub(amount))
	a.SnapshotIndex = index
}

func (a *IndexedAmount) IsEmpty() bool {
	return a == nil || a.Principal.LessThan(EMPTY_BALANCE_THRESHOLD)
}

func (a *IndexedAmount) Clone() *IndexedAmount {
	if a == nil {
		return nil
	}
	return &IndexedAmount{Principal: a.Principal, SnapshotIndex: a.SnapshotIndex}
}
