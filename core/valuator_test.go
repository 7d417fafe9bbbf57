package core

import (
	"math/rand"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type valuationFixture struct {
	clk    *clock.Mock
	assets *AssetRegistry
	pools  *PoolRegistry
	prices Prices
}

func newValuationFixture(t *testing.T) *valuationFixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Add(testStart.Sub(clk.Now()))

	usdc := NewAsset(clk, "USDC", "usdc-token", 6, ONE, "")
	eth := NewAsset(clk, "ETH", "eth-token", 8, ONE, "majors")
	btc := NewAsset(clk, "BTC", "btc-token", 8, d("0.8"), "majors")
	assets, err := NewAssetRegistry(usdc, eth, btc)
	require.NoError(t, err)

	pools, err := NewPoolRegistry(
		NewPool(clk, usdc, testRateConfig()),
		NewPool(clk, eth, testRateConfig()),
		NewPool(clk, btc, testRateConfig()),
	)
	require.NoError(t, err)

	return &valuationFixture{
		clk:    clk,
		assets: assets,
		pools:  pools,
		prices: Prices{
			"USDC": {Value: d("1"), Timestamp: testStart.Unix()},
			"ETH":  {Value: d("2000"), Timestamp: testStart.Unix()},
			"BTC":  {Value: d("30000"), Timestamp: testStart.Unix()},
		},
	}
}

func (f *valuationFixture) position(balances, debts map[string]string) *Position {
	p := NewPosition(f.clk, "alice", 0)
	for symbol, amount := range balances {
		p.Balances[symbol] = d(amount)
	}
	for symbol, amount := range debts {
		p.Loans[symbol] = &IndexedAmount{Principal: d(amount), SnapshotIndex: ONE}
	}
	return p
}

func (f *valuationFixture) valuate(t *testing.T, p *Position, maxLtvBps int64) (*Valuation, error) {
	t.Helper()
	return Valuate(p, f.pools.Get, f.assets, f.prices, maxLtvBps)
}

func TestValuate(t *testing.T) {
	f := newValuationFixture(t)

	tests := []struct {
		name        string
		balances    map[string]string
		debts       map[string]string
		value       string
		debt        string
		twv         string
		ltv         int64
		weightedLtv int64
		state       PositionState
	}{
		{
			name:     "no debt",
			balances: map[string]string{"USDC": "400"},
			value:    "400", debt: "0", twv: "400",
			ltv: 0, weightedLtv: 0, state: Solvent,
		},
		{
			name:     "over threshold but covered",
			balances: map[string]string{"USDC": "400"},
			debts:    map[string]string{"ETH": "0.15"},
			value:    "400", debt: "300", twv: "400",
			ltv: 7500, weightedLtv: 7500, state: InsolventCovered,
		},
		{
			name:     "coverage discounts collateral",
			balances: map[string]string{"BTC": "0.01"},
			debts:    map[string]string{"USDC": "100"},
			value:    "300", debt: "100", twv: "240",
			ltv: 3333, weightedLtv: 4166, state: Solvent,
		},
		{
			name:     "bankrupt",
			balances: map[string]string{"USDC": "100"},
			debts:    map[string]string{"ETH": "0.075"},
			value:    "100", debt: "150", twv: "100",
			ltv: 15000, weightedLtv: 15000, state: Bankrupt,
		},
		{
			name:     "break even is covered",
			balances: map[string]string{"USDC": "100"},
			debts:    map[string]string{"ETH": "0.05"},
			value:    "100", debt: "100", twv: "100",
			ltv: 10000, weightedLtv: 10000, state: InsolventCovered,
		},
		{
			name:  "debt without collateral",
			debts: map[string]string{"USDC": "1"},
			value: "0", debt: "1", twv: "0",
			ltv: LTV_SENTINEL, weightedLtv: LTV_SENTINEL, state: Bankrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := f.valuate(t, f.position(tt.balances, tt.debts), DEFAULT_MAX_LTV_BPS)
			require.NoError(t, err)
			assert.True(t, v.TotalValue.Equal(d(tt.value)), "value %s", v.TotalValue)
			assert.True(t, v.TotalDebt.Equal(d(tt.debt)), "debt %s", v.TotalDebt)
			assert.True(t, v.ThresholdWeightedValue.Equal(d(tt.twv)), "twv %s", v.ThresholdWeightedValue)
			assert.Equal(t, tt.ltv, v.LTV)
			assert.Equal(t, tt.weightedLtv, v.WeightedLTV)
			assert.Equal(t, tt.state, v.State())
			assert.False(t, v.SolvencyMismatch())
		})
	}
}

func TestValuateSentinels(t *testing.T) {
	f := newValuationFixture(t)

	v, err := f.valuate(t, f.position(nil, nil), DEFAULT_MAX_LTV_BPS)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.LTV)
	assert.True(t, v.HealthRatio.Equal(HEALTH_RATIO_SENTINEL))
	assert.True(t, v.IsSolvent())
	assert.False(t, v.IsSentinelLTV())

	v, err = f.valuate(t, f.position(nil, map[string]string{"ETH": "1"}), DEFAULT_MAX_LTV_BPS)
	require.NoError(t, err)
	assert.True(t, v.IsSentinelLTV())
	assert.True(t, v.HealthRatio.IsZero())
	assert.False(t, v.IsSolvent())
}

func TestValuatePricingErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p Prices)
		err    error
	}{
		{name: "zero collateral price", mutate: func(p Prices) { p["USDC"] = Price{Value: decimal.Zero} }, err: ErrZeroPrice},
		{name: "zero debt price", mutate: func(p Prices) { p["ETH"] = Price{Value: decimal.Zero} }, err: ErrZeroPrice},
		{name: "missing price", mutate: func(p Prices) { delete(p, "ETH") }, err: ErrMissingPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newValuationFixture(t)
			tt.mutate(f.prices)
			_, err := f.valuate(t, f.position(map[string]string{"USDC": "400"}, map[string]string{"ETH": "0.1"}), DEFAULT_MAX_LTV_BPS)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, IsKind(err, PricingError))
		})
	}
}

func TestValuateBoundaryIsInsolvent(t *testing.T) {
	f := newValuationFixture(t)

	// debt exactly at 50% of weighted value
	v, err := f.valuate(t, f.position(map[string]string{"USDC": "400"}, map[string]string{"ETH": "0.1"}), DEFAULT_MAX_LTV_BPS)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), v.WeightedLTV)
	assert.True(t, v.HealthRatio.Equal(ONE))
	assert.False(t, v.SolventByLTV())
	assert.False(t, v.SolventByHealth())
	assert.Equal(t, InsolventCovered, v.State())

	// one raw unit of collateral more tips it back
	v, err = f.valuate(t, f.position(map[string]string{"USDC": "400.000001"}, map[string]string{"ETH": "0.1"}), DEFAULT_MAX_LTV_BPS)
	require.NoError(t, err)
	assert.Equal(t, int64(4999), v.WeightedLTV)
	assert.True(t, v.IsSolvent())
}

func TestValuateReadsAccruedDebt(t *testing.T) {
	f := newValuationFixture(t)
	pool, err := f.pools.Get("ETH")
	require.NoError(t, err)
	pool.BorrowIndex = d("1.1")

	v, err := f.valuate(t, f.position(map[string]string{"USDC": "1000"}, map[string]string{"ETH": "0.1"}), DEFAULT_MAX_LTV_BPS)
	require.NoError(t, err)
	assert.True(t, v.DebtAmounts["ETH"].Equal(d("0.11")))
	assert.True(t, v.TotalDebt.Equal(d("220")))
}

// Both solvency views must agree on every position.
func TestSolvencyViewsAgree(t *testing.T) {
	f := newValuationFixture(t)
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"USDC", "ETH", "BTC"}

	randomAmount := func(symbol string) string {
		switch symbol {
		case "USDC":
			return decimal.NewFromInt(rng.Int63n(1_000_000_000)).Shift(-6).String()
		default:
			return decimal.NewFromInt(rng.Int63n(1_000_000_000)).Shift(-8).String()
		}
	}

	for i := 0; i < 2000; i++ {
		balances := map[string]string{}
		debts := map[string]string{}
		for _, s := range symbols {
			if rng.Intn(2) == 0 {
				balances[s] = randomAmount(s)
			}
			if rng.Intn(3) == 0 {
				debts[s] = randomAmount(s)
			}
		}
		maxLtv := 1 + rng.Int63n(BPS_SCALE)
		v, err := f.valuate(t, f.position(balances, debts), maxLtv)
		require.NoError(t, err)
		require.False(t, v.SolvencyMismatch(), "iteration %d: ltv %d health %s max %d", i, v.WeightedLTV, v.HealthRatio, maxLtv)
	}
}

func TestRatioBps(t *testing.T) {
	assert.Equal(t, int64(0), RatioBps(decimal.Zero, decimal.Zero))
	assert.Equal(t, LTV_SENTINEL, RatioBps(d("1"), decimal.Zero))
	assert.Equal(t, int64(3333), RatioBps(d("1"), d("3")))
	assert.Equal(t, int64(7500), RatioBps(d("300"), d("400")))
}
