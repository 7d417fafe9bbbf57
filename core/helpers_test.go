package core

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testStart = time.Unix(1_700_000_000, 0)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type testEnv struct {
	clk    *clock.Mock
	assets *AssetRegistry
	pools  *PoolRegistry
	feed   *StaticPriceFeed
	ledger *MemoryLedger
	limits *ExposureLimiter
	store  *recordingStore
	engine *Engine
}

type recordingStore struct {
	commits []*ChangeSet
	fail    error
}

func (s *recordingStore) Commit(ctx context.Context, cs *ChangeSet) error {
	if s.fail != nil {
		return s.fail
	}
	s.commits = append(s.commits, cs)
	return nil
}

func (s *recordingStore) last() *ChangeSet {
	if len(s.commits) == 0 {
		return nil
	}
	return s.commits[len(s.commits)-1]
}

func testRateConfig() InterestRateConfig {
	return InterestRateConfig{
		BaseRate:               d("0.02"),
		Slope1:                 d("0.1"),
		Slope2:                 d("1"),
		OptimalUtilizationRate: d("0.8"),
		ReserveFactor:          d("0.1"),
	}
}

func newTestEnv(t *testing.T) *testEnv {
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

	feed := NewStaticPriceFeed(clk)
	feed.SetPrice("USDC", d("1"))
	feed.SetPrice("ETH", d("2000"))
	feed.SetPrice("BTC", d("30000"))

	ledger := NewMemoryLedger()
	limits := NewExposureLimiter(&ExposureGroup{Name: "majors", CurrentExposure: decimal.Zero, MaxExposure: d("1000000")})
	store := &recordingStore{}

	logger := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.Liquidators = []string{"liquidator"}
	cfg.RecoveryAccounts = []string{"treasury"}

	engine, err := NewEngine(cfg, assets, pools, feed,
		WithClock(clk),
		WithLogger(&logger),
		WithLedger(ledger),
		WithExposureLimiter(limits),
		WithStore(store),
	)
	require.NoError(t, err)

	return &testEnv{
		clk:    clk,
		assets: assets,
		pools:  pools,
		feed:   feed,
		ledger: ledger,
		limits: limits,
		store:  store,
		engine: engine,
	}
}

func (env *testEnv) asset(t *testing.T, symbol string) *Asset {
	t.Helper()
	a, err := env.assets.Get(symbol)
	require.NoError(t, err)
	return a
}

func (env *testEnv) credit(t *testing.T, account, symbol, amount string) {
	t.Helper()
	require.NoError(t, env.ledger.Increment(context.Background(), account, env.asset(t, symbol), d(amount)))
}

func (env *testEnv) wallet(t *testing.T, account, symbol string) decimal.Decimal {
	t.Helper()
	b, err := env.ledger.Balance(context.Background(), account, symbol)
	require.NoError(t, err)
	return b
}

// supplyLiquidity gives every pool lender funds so borrows can be served.
func (env *testEnv) supplyLiquidity(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	env.credit(t, "lender", "USDC", "1000000")
	env.credit(t, "lender", "ETH", "1000")
	env.credit(t, "lender", "BTC", "100")

	lender, err := env.engine.CreatePosition(ctx, "lender", 0)
	require.NoError(t, err)
	for symbol, amount := range map[string]string{"USDC": "1000000", "ETH": "1000", "BTC": "100"} {
		require.NoError(t, env.engine.Supply(ctx, AssetRequest{Caller: "lender", PositionId: lender.Id, Symbol: symbol, Amount: d(amount)}))
	}
}

// installPosition places a position holding balances and owing debts
// (token amounts at index 1) directly into the engine.
func (env *testEnv) installPosition(t *testing.T, owner string, balances, debts map[string]string) *Position {
	t.Helper()

	position := NewPosition(env.clk, owner, 0)
	for symbol, amount := range balances {
		position.Balances[symbol] = d(amount)
	}

	pools := make([]*Pool, 0, env.pools.Len())
	for _, p := range env.pools.List() {
		pool := p.Clone()
		pool.TotalDeposited = pool.TotalDeposited.Add(d("1000000"))
		if amount, ok := debts[pool.Symbol]; ok {
			position.Loans[pool.Symbol] = &IndexedAmount{Principal: d(amount), SnapshotIndex: pool.BorrowIndex}
			pool.TotalBorrowed = pool.TotalBorrowed.Add(d(amount))
		}
		pools = append(pools, pool)
	}

	state := &State{Pools: pools, Positions: append(env.engine.ListPositions(), position)}
	require.NoError(t, env.engine.Restore(state))
	env.pools = env.engine.pools
	return position
}
