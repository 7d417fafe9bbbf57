package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DomeLiquid/lending/core"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate())
	return s
}

type fixture struct {
	clk    *clock.Mock
	assets []*core.Asset
	pools  []*core.Pool
	groups []*core.ExposureGroup
	feed   *core.StaticPriceFeed
}

func newFixture() *fixture {
	clk := clock.NewMock()
	clk.Add(time.Unix(1_700_000_000, 0).Sub(clk.Now()))

	irConfig := core.InterestRateConfig{
		BaseRate:               d("0.02"),
		Slope1:                 d("0.1"),
		Slope2:                 d("1"),
		OptimalUtilizationRate: d("0.8"),
		ReserveFactor:          d("0.1"),
	}
	usdc := core.NewAsset(clk, "USDC", "usdc-token", 6, core.ONE, "")
	eth := core.NewAsset(clk, "ETH", "eth-token", 8, d("0.9"), "majors")

	feed := core.NewStaticPriceFeed(clk)
	feed.SetPrice("USDC", d("1"))
	feed.SetPrice("ETH", d("2000"))

	return &fixture{
		clk:    clk,
		assets: []*core.Asset{usdc, eth},
		pools:  []*core.Pool{core.NewPool(clk, usdc, irConfig), core.NewPool(clk, eth, irConfig)},
		groups: []*core.ExposureGroup{{Name: "majors", CurrentExposure: decimal.Zero, MaxExposure: d("1000000")}},
		feed:   feed,
	}
}

func (f *fixture) seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SeedAssets(ctx, f.assets))
	require.NoError(t, s.SeedPools(ctx, f.pools))
	require.NoError(t, s.SeedExposureGroups(ctx, f.groups))
}

// engine builds an engine from what the store holds.
func (f *fixture) engine(t *testing.T, s *Store, ledger *core.MemoryLedger) *core.Engine {
	t.Helper()
	state, err := s.Load(context.Background())
	require.NoError(t, err)

	assets, err := core.NewAssetRegistry()
	require.NoError(t, err)
	pools, err := core.NewPoolRegistry()
	require.NoError(t, err)

	logger := zerolog.Nop()
	e, err := core.NewEngine(core.DefaultConfig(), assets, pools, f.feed,
		core.WithClock(f.clk),
		core.WithLogger(&logger),
		core.WithLedger(ledger),
		core.WithStore(s),
	)
	require.NoError(t, err)
	require.NoError(t, e.Restore(state))
	return e
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := newFixture()
	f.seed(t, s)

	pool := f.pools[0].Clone()
	pool.TotalDeposited = d("500")
	require.NoError(t, s.UpsertPool(ctx, pool))
	require.NoError(t, s.UpsertAsset(ctx, f.assets[0]))

	f.groups[0].MaxExposure = d("2000000")
	f.seed(t, s)

	stored, err := s.GetPool(ctx, "USDC")
	require.NoError(t, err)
	assert.True(t, stored.TotalDeposited.Equal(d("500")), "seeding must keep existing pools")

	state, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, state.ExposureGroups, 1)
	assert.True(t, state.ExposureGroups[0].MaxExposure.Equal(d("2000000")))
	assert.Len(t, state.Assets, 2)
	assert.Len(t, state.Pools, 2)
}

func TestAssetAndPoolLookups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := newFixture()
	f.seed(t, s)

	eth, err := s.GetAsset(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, f.assets[1].Id, eth.Id)
	assert.Equal(t, int32(8), eth.Decimals)
	assert.True(t, eth.Coverage.Equal(d("0.9")))
	assert.Equal(t, "majors", eth.ExposureGroup)

	_, err = s.GetAsset(ctx, "DOGE")
	assert.ErrorIs(t, err, core.ErrUnknownAsset)

	pool, err := s.GetPool(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, pool.BorrowIndex.Equal(core.ONE))
	assert.True(t, pool.OptimalUtilizationRate.Equal(d("0.8")))

	_, err = s.GetPool(ctx, "DOGE")
	assert.ErrorIs(t, err, core.ErrUnknownPool)

	pools, err := s.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "ETH", pools[0].Symbol)
}

func TestPositionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	p := core.NewPosition(clock.NewMock(), "alice", 3)
	p.Balances["ETH"] = d("1.25")
	p.Loans["USDC"] = &core.IndexedAmount{Principal: d("100"), SnapshotIndex: d("1.05")}
	p.Supplies["ETH"] = &core.IndexedAmount{Principal: d("2"), SnapshotIndex: core.ONE}
	require.NoError(t, s.UpsertPosition(ctx, p))

	got, err := s.GetPositionById(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, uint8(3), got.Index)
	assert.True(t, got.Balance("ETH").Equal(d("1.25")))
	require.Contains(t, got.Loans, "USDC")
	assert.True(t, got.Loans["USDC"].SnapshotIndex.Equal(d("1.05")))
	require.Contains(t, got.Supplies, "ETH")

	// a second save replaces child rows instead of merging them
	delete(p.Balances, "ETH")
	p.Balances["USDC"] = d("7")
	delete(p.Loans, "USDC")
	require.NoError(t, s.UpsertPosition(ctx, p))

	positions, err := s.ListPositionsByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, []string{"USDC"}, positions[0].Symbols())
	assert.Empty(t, positions[0].Loans)

	_, err = s.GetPositionById(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, core.ErrPositionNotFound)
}

func TestEngineStateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := newFixture()
	f.seed(t, s)

	ledger := core.NewMemoryLedger()
	e := f.engine(t, s, ledger)

	eth, err := e.Assets().Get("ETH")
	require.NoError(t, err)
	usdc, err := e.Assets().Get("USDC")
	require.NoError(t, err)
	require.NoError(t, ledger.Increment(ctx, "alice", eth, d("3")))
	require.NoError(t, ledger.Increment(ctx, "bob", usdc, d("10000")))

	lender, err := e.CreatePosition(ctx, "bob", 0)
	require.NoError(t, err)
	require.NoError(t, e.Supply(ctx, core.AssetRequest{Caller: "bob", PositionId: lender.Id, Symbol: "USDC", Amount: d("10000")}))

	position, err := e.CreatePosition(ctx, "alice", 0)
	require.NoError(t, err)
	require.NoError(t, e.Fund(ctx, core.AssetRequest{Caller: "alice", PositionId: position.Id, Symbol: "ETH", Amount: d("2")}))
	require.NoError(t, e.Borrow(ctx, core.AssetRequest{Caller: "alice", PositionId: position.Id, Symbol: "USDC", Amount: d("1000")}))

	f.clk.Add(24 * time.Hour)
	require.NoError(t, e.AccrueAll(ctx))

	before, err := e.Valuate(ctx, position.Id)
	require.NoError(t, err)

	reloaded := f.engine(t, s, core.NewMemoryLedger())

	after, err := reloaded.Valuate(ctx, position.Id)
	require.NoError(t, err)
	assert.True(t, before.TotalValue.Equal(after.TotalValue), "value %s != %s", before.TotalValue, after.TotalValue)
	assert.True(t, before.TotalDebt.Equal(after.TotalDebt), "debt %s != %s", before.TotalDebt, after.TotalDebt)
	assert.Equal(t, before.WeightedLTV, after.WeightedLTV)

	pool, err := reloaded.GetPool("USDC")
	require.NoError(t, err)
	origin, err := e.GetPool("USDC")
	require.NoError(t, err)
	assert.True(t, origin.BorrowIndex.Equal(pool.BorrowIndex))
	assert.True(t, origin.TotalBorrowed.Equal(pool.TotalBorrowed))
	assert.Equal(t, origin.LastUpdate, pool.LastUpdate)

	group, err := reloaded.Exposure().Get("majors")
	require.NoError(t, err)
	assert.True(t, group.CurrentExposure.Equal(d("4000")), "exposure %s", group.CurrentExposure)

	state, err := s.Load(ctx)
	require.NoError(t, err)
	wallets := map[string]decimal.Decimal{}
	for _, w := range state.Wallets {
		wallets[w.Account+"/"+w.Symbol] = w.Amount
	}
	assert.True(t, wallets["alice/ETH"].Equal(d("1")))
	assert.NotContains(t, wallets, "bob/USDC", "emptied wallets are removed")

	operates, err := s.ListOperates(ctx, "alice", 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, operates, 3)
	assert.Equal(t, core.OpBorrow, operates[0].Op)
	assert.Equal(t, core.OpCreatePosition, operates[2].Op)

	borrows, err := s.ListOperates(ctx, "alice", core.OpBorrow, 0, 0)
	require.NoError(t, err)
	require.Len(t, borrows, 1)
	require.Len(t, borrows[0].Extra.Actions, 1)
	assert.True(t, borrows[0].Extra.Actions[0].Amount.Equal(d("1000")))
}

func TestCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := newFixture()
	f.seed(t, s)

	p := core.NewPosition(f.clk, "alice", 0)
	p.Balances["ETH"] = d("1")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := s.Commit(cancelled, &core.ChangeSet{
		Positions: []*core.Position{p},
		Wallets:   []core.WalletBalance{{Account: "alice", Symbol: "ETH", Amount: d("1")}},
	})
	require.Error(t, err)

	state, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Positions)
	assert.Empty(t, state.Wallets)
}
