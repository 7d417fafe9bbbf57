package core

import (
	"testing"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, decimals int32) (*Pool, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Add(testStart.Sub(clk.Now()))
	asset := NewAsset(clk, "ETH", "eth-token", decimals, ONE, "")
	return NewPool(clk, asset, testRateConfig()), clk
}

func TestPoolAccrueInterest(t *testing.T) {
	logger := zerolog.Nop()
	pool, _ := newTestPool(t, 8)
	pool.TotalDeposited = d("1000")
	pool.TotalBorrowed = d("800")

	require.NoError(t, pool.AccrueInterest(&logger, testStart.Unix()+SECONDS_PER_YEAR))

	// U = 0.8: borrow 10%, deposit 0.1 * 0.8 * 0.9 = 7.2%
	assert.True(t, pool.BorrowIndex.Equal(d("1.1")), "borrow index %s", pool.BorrowIndex)
	assert.True(t, pool.DepositIndex.Equal(d("1.072")), "deposit index %s", pool.DepositIndex)
	assert.True(t, pool.TotalBorrowed.Equal(d("880")), "borrowed %s", pool.TotalBorrowed)
	assert.True(t, pool.Reserves.Equal(d("8")), "reserves %s", pool.Reserves)
	assert.True(t, pool.TotalDeposited.Equal(d("1080")), "deposited %s", pool.TotalDeposited)
	assert.Equal(t, testStart.Unix()+SECONDS_PER_YEAR, pool.LastUpdate)
	assert.True(t, pool.TotalBorrowed.LessThanOrEqual(pool.TotalDeposited))
}

func TestPoolAccrueInterestIdempotent(t *testing.T) {
	logger := zerolog.Nop()
	pool, _ := newTestPool(t, 8)
	pool.TotalDeposited = d("1000")
	pool.TotalBorrowed = d("500")

	now := testStart.Unix() + 86400
	require.NoError(t, pool.AccrueInterest(&logger, now))
	snapshot := pool.Clone()

	require.NoError(t, pool.AccrueInterest(&logger, now))
	assert.Equal(t, snapshot, pool)

	// time never moves backwards
	require.NoError(t, pool.AccrueInterest(&logger, now-10))
	assert.Equal(t, snapshot, pool)
}

func TestPoolAccrueKeepsReservesBelowDeposits(t *testing.T) {
	logger := zerolog.Nop()
	pool, _ := newTestPool(t, 8)
	pool.TotalDeposited = d("1000")
	pool.TotalBorrowed = d("999")

	now := testStart.Unix()
	for i := 0; i < 24; i++ {
		now += 3600 * 24 * 30
		require.NoError(t, pool.AccrueInterest(&logger, now))
		assert.True(t, pool.TotalBorrowed.LessThanOrEqual(pool.TotalDeposited), "step %d", i)
		assert.True(t, pool.Reserves.LessThanOrEqual(pool.TotalDeposited), "step %d", i)
	}
}

func TestPoolAccrueIdlePool(t *testing.T) {
	logger := zerolog.Nop()
	pool, _ := newTestPool(t, 8)
	pool.TotalDeposited = d("1000")

	require.NoError(t, pool.AccrueInterest(&logger, testStart.Unix()+SECONDS_PER_YEAR))
	assert.True(t, pool.DepositIndex.Equal(ONE))
	assert.True(t, pool.TotalDeposited.Equal(d("1000")))
	assert.True(t, pool.Reserves.IsZero())
	// the borrow index still moves at the base rate
	assert.True(t, pool.BorrowIndex.Equal(d("1.02")))
}

func TestPoolBorrowAndRepay(t *testing.T) {
	pool, _ := newTestPool(t, 8)
	pool.TotalDeposited = d("100")
	loan := NewIndexedAmount(pool.BorrowIndex)

	err := pool.RecordBorrow(loan, d("150"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.True(t, loan.IsEmpty())

	require.NoError(t, pool.RecordBorrow(loan, d("60")))
	assert.True(t, pool.DebtOf(loan).Equal(d("60")))
	assert.True(t, pool.AvailableLiquidity().Equal(d("40")))

	taken, err := pool.RecordRepay(loan, d("25"))
	require.NoError(t, err)
	assert.True(t, taken.Equal(d("25")))
	assert.True(t, pool.DebtOf(loan).Equal(d("35")))

	// over-repayment is clamped to the debt
	taken, err = pool.RecordRepay(loan, d("1000"))
	require.NoError(t, err)
	assert.True(t, taken.Equal(d("35")))
	assert.True(t, loan.IsEmpty())
	assert.True(t, pool.TotalBorrowed.IsZero())

	_, err = pool.RecordRepay(loan, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPoolRepayRoundsDustIntoReserves(t *testing.T) {
	pool, _ := newTestPool(t, 8)
	pool.TotalDeposited = d("100")
	pool.TotalBorrowed = d("1.123456789")
	loan := &IndexedAmount{Principal: d("1.123456789"), SnapshotIndex: ONE}

	taken, err := pool.RecordRepay(loan, d("5"))
	require.NoError(t, err)
	assert.True(t, taken.Equal(d("1.12345679")), "taken %s", taken)
	assert.True(t, loan.IsEmpty())
	assert.True(t, pool.TotalBorrowed.IsZero())
	assert.True(t, pool.Reserves.Equal(d("0.000000001")), "reserves %s", pool.Reserves)
	assert.True(t, pool.TotalDeposited.Equal(d("100.000000001")))
}

func TestPoolDepositAndWithdraw(t *testing.T) {
	logger := zerolog.Nop()
	pool, _ := newTestPool(t, 8)
	supply := NewIndexedAmount(pool.DepositIndex)
	loan := NewIndexedAmount(pool.BorrowIndex)

	require.NoError(t, pool.RecordDeposit(supply, d("1000")))
	require.NoError(t, pool.RecordBorrow(loan, d("800")))
	require.NoError(t, pool.AccrueInterest(&logger, testStart.Unix()+SECONDS_PER_YEAR))

	assert.True(t, pool.SupplyOf(supply).Equal(d("1072")), "supply %s", pool.SupplyOf(supply))
	assert.True(t, pool.DebtOf(loan).Equal(d("880")), "debt %s", pool.DebtOf(loan))

	// only 200 is left to withdraw while the loan is open
	err := pool.RecordWithdraw(supply, d("500"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	err = pool.RecordWithdraw(supply, d("2000"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, pool.RecordWithdraw(supply, d("200")))
	assert.True(t, pool.SupplyOf(supply).Equal(d("872")))
}

func TestPoolConfigure(t *testing.T) {
	pool, _ := newTestPool(t, 8)
	require.NoError(t, pool.Configure(&InterestRateConfig{Slope2: d("3")}))
	assert.True(t, pool.Slope2.Equal(d("3")))

	err := pool.Configure(&InterestRateConfig{ReserveFactor: d("2")})
	assert.ErrorIs(t, err, ErrReserveFactor)
	assert.True(t, pool.ReserveFactor.Equal(d("0.1")))
}

func TestPoolRegistry(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(testStart.Sub(clk.Now()))
	usdc := NewAsset(clk, "USDC", "usdc-token", 6, ONE, "")

	registry, err := NewPoolRegistry(NewPool(clk, usdc, testRateConfig()))
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())

	err = registry.Add(NewPool(clk, usdc, testRateConfig()))
	assert.ErrorIs(t, err, ErrPoolExists)

	_, err = registry.Get("DOGE")
	assert.ErrorIs(t, err, ErrUnknownPool)

	replaced := NewPool(clk, usdc, testRateConfig())
	replaced.TotalDeposited = d("10")
	registry.Replace(replaced)
	p, err := registry.Get("USDC")
	require.NoError(t, err)
	assert.True(t, p.TotalDeposited.Equal(d("10")))
}
