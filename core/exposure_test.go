package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExposureLimiter(t *testing.T) {
	l := NewExposureLimiter(&ExposureGroup{Name: "majors", CurrentExposure: decimal.Zero, MaxExposure: d("1000")})

	require.NoError(t, l.Increase("majors", d("600")))
	err := l.Increase("majors", d("401"))
	assert.ErrorIs(t, err, ErrMaxExposureBreached)
	assert.True(t, IsKind(err, ExposureError))

	g, err := l.Get("majors")
	require.NoError(t, err)
	assert.True(t, g.CurrentExposure.Equal(d("600")))

	// reaching the cap exactly is allowed
	require.NoError(t, l.Increase("majors", d("400")))

	require.NoError(t, l.Decrease("majors", d("5000")))
	g, err = l.Get("majors")
	require.NoError(t, err)
	assert.True(t, g.CurrentExposure.IsZero())

	assert.ErrorIs(t, l.Increase("stables", d("1")), ErrUnknownGroup)
	_, err = l.Get("stables")
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestExposureLimiterSnapshotRestore(t *testing.T) {
	l := NewExposureLimiter(&ExposureGroup{Name: "majors", CurrentExposure: decimal.Zero, MaxExposure: d("1000")})
	require.NoError(t, l.Increase("majors", d("100")))

	snapshot := l.Snapshot()
	require.NoError(t, l.Increase("majors", d("300")))
	l.SetGroup("alts", d("50"))

	l.Restore(snapshot)
	g, err := l.Get("majors")
	require.NoError(t, err)
	assert.True(t, g.CurrentExposure.Equal(d("100")))
	_, err = l.Get("alts")
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestEngineExposure(t *testing.T) {
	env := newTestEnv(t)
	ctx := testContext(t)
	env.limits.SetGroup("majors", d("10000"))
	env.credit(t, "alice", "ETH", "10")
	position, err := env.engine.CreatePosition(ctx, "alice", 0)
	require.NoError(t, err)

	require.NoError(t, env.engine.Fund(ctx, AssetRequest{Caller: "alice", PositionId: position.Id, Symbol: "ETH", Amount: d("4")}))
	g, err := env.limits.Get("majors")
	require.NoError(t, err)
	assert.True(t, g.CurrentExposure.Equal(d("8000")))

	// 2 more ETH would be 12000 against a 10000 cap
	err = env.engine.Fund(ctx, AssetRequest{Caller: "alice", PositionId: position.Id, Symbol: "ETH", Amount: d("2")})
	assert.ErrorIs(t, err, ErrMaxExposureBreached)
	assert.True(t, env.wallet(t, "alice", "ETH").Equal(d("6")), "wallet is untouched on rejection")
	g, err = env.limits.Get("majors")
	require.NoError(t, err)
	assert.True(t, g.CurrentExposure.Equal(d("8000")))

	// a round trip leaves the counter where it started
	require.NoError(t, env.engine.Withdraw(ctx, AssetRequest{Caller: "alice", PositionId: position.Id, Symbol: "ETH", Amount: d("4")}))
	g, err = env.limits.Get("majors")
	require.NoError(t, err)
	assert.True(t, g.CurrentExposure.IsZero())
	assert.True(t, env.wallet(t, "alice", "ETH").Equal(d("10")))

	// assets outside any group are not limited
	env.credit(t, "alice", "USDC", "50000")
	require.NoError(t, env.engine.Fund(ctx, AssetRequest{Caller: "alice", PositionId: position.Id, Symbol: "USDC", Amount: d("50000")}))
}
