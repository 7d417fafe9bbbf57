package core

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Config struct {
	MaxLtvBps              int64    `json:"maxLtvBps"`
	MaxLiquidationBonusBps int64    `json:"maxLiquidationBonusBps"`
	Liquidators            []string `json:"liquidators"`
	RecoveryAccounts       []string `json:"recoveryAccounts"`
}

func DefaultConfig() Config {
	return Config{
		MaxLtvBps:              DEFAULT_MAX_LTV_BPS,
		MaxLiquidationBonusBps: DEFAULT_MAX_LIQUIDATION_BONUS_BPS,
	}
}

func (c Config) Validate() error {
	if c.MaxLtvBps <= 0 || c.MaxLtvBps > BPS_SCALE {
		return errors.Wrapf(ErrInvalidConfig, "max ltv %d bps", c.MaxLtvBps)
	}
	if c.MaxLiquidationBonusBps < 0 || c.MaxLiquidationBonusBps >= BPS_SCALE {
		return errors.Wrapf(ErrInvalidConfig, "max liquidation bonus %d bps", c.MaxLiquidationBonusBps)
	}
	return nil
}

func (c Config) IsLiquidator(account string) bool {
	return slices.Contains(c.Liquidators, account)
}

func (c Config) IsRecoveryAccount(account string) bool {
	return slices.Contains(c.RecoveryAccounts, account)
}

// Engine owns pools, positions and exposure counters. Every public operation
// runs under one lock and is applied all-or-nothing.
type Engine struct {
	mu sync.Mutex

	clk clock.Clock
	log Log
	cfg Config

	assets    *AssetRegistry
	pools     *PoolRegistry
	positions map[uuid.UUID]*Position
	exposure  *ExposureLimiter

	ledger    Ledger
	priceFeed PriceFeed
	swapper   Swapper
	store     Store
	metrics   *Metrics
}

type EngineOption func(e *Engine)

func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clk = clk
	}
}

func WithLogger(log Log) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

func WithLedger(ledger Ledger) EngineOption {
	return func(e *Engine) {
		e.ledger = ledger
	}
}

func WithExposureLimiter(exposure *ExposureLimiter) EngineOption {
	return func(e *Engine) {
		e.exposure = exposure
	}
}

func WithSwapper(swapper Swapper) EngineOption {
	return func(e *Engine) {
		e.swapper = swapper
	}
}

func WithStore(store Store) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

func WithMetrics(metrics *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

func NewEngine(cfg Config, assets *AssetRegistry, pools *PoolRegistry, priceFeed PriceFeed, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nop := zerolog.Nop()
	e := &Engine{
		clk:       clock.New(),
		log:       &nop,
		cfg:       cfg,
		assets:    assets,
		pools:     pools,
		positions: make(map[uuid.UUID]*Position),
		exposure:  NewExposureLimiter(),
		ledger:    NewMemoryLedger(),
		priceFeed: priceFeed,
		swapper:   OracleSwapper{},
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, p := range pools.List() {
		if _, err := assets.Get(p.Symbol); err != nil {
			return nil, errors.Wrapf(err, "pool %s", p.Symbol)
		}
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Assets() *AssetRegistry {
	return e.assets
}

func (e *Engine) Exposure() *ExposureLimiter {
	return e.exposure
}

// run executes fn inside a unit of work, committing on success and rolling
// every staged change back on failure.
func (e *Engine) run(ctx context.Context, op OperateType, fn func(u *unitOfWork) error) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		e.metrics.ObserveOperation(op, err)
		if err != nil {
			e.log.Warn().Msgf("%s rejected: %v", op, err)
		}
	}()

	u := e.begin(ctx)
	if err = fn(u); err != nil {
		u.rollback()
		return err
	}
	if _, err = u.commit(); err != nil {
		u.rollback()
		return err
	}
	return nil
}

// view runs fn on staged copies and always discards them.
func (e *Engine) view(ctx context.Context, fn func(u *unitOfWork) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	u := e.begin(ctx)
	defer u.rollback()
	return fn(u)
}

// Restore replaces the engine state with a persisted one.
func (e *Engine) Restore(state *State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range state.Assets {
		if err := e.assets.Add(a); err != nil {
			return err
		}
	}
	pools, err := NewPoolRegistry(state.Pools...)
	if err != nil {
		return err
	}
	e.pools = pools
	e.positions = make(map[uuid.UUID]*Position, len(state.Positions))
	for _, p := range state.Positions {
		e.positions[p.Id] = p
	}
	if state.ExposureGroups != nil {
		e.exposure.Restore(state.ExposureGroups)
	}
	if setter, ok := e.ledger.(interface {
		Set(account, symbol string, amount decimal.Decimal)
	}); ok {
		for _, w := range state.Wallets {
			setter.Set(w.Account, w.Symbol, w.Amount)
		}
	}
	e.log.Info().Msgf("restored %d pools, %d positions, %d wallets", len(state.Pools), len(state.Positions), len(state.Wallets))
	return nil
}

func (e *Engine) GetPosition(positionId uuid.UUID) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[positionId]
	if !ok {
		return nil, errors.Wrapf(ErrPositionNotFound, "position %s", positionId)
	}
	return p.Clone(), nil
}

func (e *Engine) ListPositions() []*Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		list = append(list, p.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Owner != list[j].Owner {
			return list[i].Owner < list[j].Owner
		}
		return list[i].Index < list[j].Index
	})
	return list
}

func (e *Engine) GetPool(symbol string) (*Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.pools.Get(symbol)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (e *Engine) ListPools() []*Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.pools.List()
	for i, p := range list {
		list[i] = p.Clone()
	}
	return list
}

func (e *Engine) CreatePosition(ctx context.Context, owner string, index uint8) (*Position, error) {
	var created *Position
	err := e.run(ctx, OpCreatePosition, func(u *unitOfWork) error {
		position := NewPosition(e.clk, owner, index)
		if _, ok := e.positions[position.Id]; ok {
			return errors.Wrapf(ErrPositionExists, "position %s/%d", owner, index)
		}
		u.createPosition(position)
		u.record(NewOperate(e.clk, owner, position.Id, OpCreatePosition))
		created = position
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Msgf("position %s created for %s/%d", created.Id, owner, index)
	return created.Clone(), nil
}

// AssetRequest moves Amount of Symbol for the owner of a position.
type AssetRequest struct {
	Caller     string          `json:"caller"`
	PositionId uuid.UUID       `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
}

// prepare resolves the owned position and asset of a request.
func (u *unitOfWork) prepare(req AssetRequest) (*Position, *Asset, error) {
	if !req.Amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	position, err := u.position(req.PositionId)
	if err != nil {
		return nil, nil, err
	}
	if position.Owner != req.Caller {
		return nil, nil, errors.Wrapf(ErrUnauthorized, "%s does not own position %s", req.Caller, position.Id)
	}
	asset, err := u.e.assets.Get(req.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckAmountRange(asset, req.Amount); err != nil {
		return nil, nil, err
	}
	if !req.Amount.Equal(asset.Floor(req.Amount)) {
		return nil, nil, errors.Wrapf(ErrInvalidAmount, "%s amount %s exceeds %d decimals", asset.Symbol, req.Amount, asset.Decimals)
	}
	return position, asset, nil
}

func (u *unitOfWork) requireSolvent(position *Position) error {
	if !position.HasDebt() {
		return nil
	}
	valuation, err := u.valuate(position)
	if err != nil {
		return err
	}
	if !valuation.IsSolvent() {
		return errors.Wrapf(ErrPositionInsolvent, "position %s weighted ltv %d >= %d", position.Id, valuation.WeightedLTV, valuation.MaxLtvBps)
	}
	return nil
}

// Fund moves collateral from the owner's wallet into the position.
func (e *Engine) Fund(ctx context.Context, req AssetRequest) error {
	return e.run(ctx, OpFund, func(u *unitOfWork) error {
		position, asset, err := u.prepare(req)
		if err != nil {
			return err
		}
		if err := u.debitWallet(position.Owner, asset, req.Amount); err != nil {
			return err
		}
		if err := position.ChangeBalance(asset, req.Amount); err != nil {
			return err
		}
		if err := u.increaseExposure(asset, req.Amount); err != nil {
			return err
		}
		position.Touch(e.clk)
		u.record(NewOperate(e.clk, req.Caller, position.Id, OpFund, ActionDetail{Actor: req.Caller, ActionType: ActionDeposit, Symbol: asset.Symbol, Amount: req.Amount}))
		e.log.Info().Msgf("fund position %s %s %s", position.Id, req.Amount, asset.Symbol)
		return nil
	})
}

// Withdraw moves collateral back to the owner's wallet. The position must stay solvent.
func (e *Engine) Withdraw(ctx context.Context, req AssetRequest) error {
	return e.run(ctx, OpWithdraw, func(u *unitOfWork) error {
		position, asset, err := u.prepare(req)
		if err != nil {
			return err
		}
		if err := position.ChangeBalance(asset, req.Amount.Neg()); err != nil {
			return err
		}
		if err := u.creditWallet(position.Owner, asset, req.Amount); err != nil {
			return err
		}
		if err := u.decreaseExposure(asset, req.Amount); err != nil {
			return err
		}
		if err := u.requireSolvent(position); err != nil {
			return err
		}
		position.Touch(e.clk)
		u.record(NewOperate(e.clk, req.Caller, position.Id, OpWithdraw, ActionDetail{Actor: req.Caller, ActionType: ActionWithdraw, Symbol: asset.Symbol, Amount: req.Amount}))
		e.log.Info().Msgf("withdraw position %s %s %s", position.Id, req.Amount, asset.Symbol)
		return nil
	})
}

// Borrow draws from the asset's pool into the position's balances. The
// position must stay solvent.
func (e *Engine) Borrow(ctx context.Context, req AssetRequest) error {
	return e.run(ctx, OpBorrow, func(u *unitOfWork) error {
		position, asset, err := u.prepare(req)
		if err != nil {
			return err
		}
		pool, err := u.pool(asset.Symbol)
		if err != nil {
			return err
		}
		if err := pool.RecordBorrow(position.Loan(pool, true), req.Amount); err != nil {
			return err
		}
		if err := position.ChangeBalance(asset, req.Amount); err != nil {
			return err
		}
		if err := u.increaseExposure(asset, req.Amount); err != nil {
			return err
		}
		if err := u.requireSolvent(position); err != nil {
			return err
		}
		position.Touch(e.clk)
		u.record(NewOperate(e.clk, req.Caller, position.Id, OpBorrow, ActionDetail{Actor: req.Caller, ActionType: ActionBorrow, Symbol: asset.Symbol, Amount: req.Amount}))
		e.log.Info().Msgf("borrow position %s %s %s", position.Id, req.Amount, asset.Symbol)
		return nil
	})
}

// Repay pays a loan from the position's own balance of the same asset.
// Amount is clamped to the outstanding debt.
func (e *Engine) Repay(ctx context.Context, req AssetRequest) (decimal.Decimal, error) {
	var repaid decimal.Decimal
	err := e.run(ctx, OpRepay, func(u *unitOfWork) error {
		position, asset, err := u.prepare(req)
		if err != nil {
			return err
		}
		pool, err := u.pool(asset.Symbol)
		if err != nil {
			return err
		}
		loan := position.Loan(pool, false)
		if loan.IsEmpty() {
			return errors.Wrapf(ErrNoDebt, "position %s %s", position.Id, asset.Symbol)
		}
		amount := decimal.Min(req.Amount, position.Balance(asset.Symbol))
		if !amount.IsPositive() {
			return errors.Wrapf(ErrInsufficientBalance, "position %s holds no %s", position.Id, asset.Symbol)
		}
		repaid, err = pool.RecordRepay(loan, amount)
		if err != nil {
			return err
		}
		if err := position.ChangeBalance(asset, repaid.Neg()); err != nil {
			return err
		}
		if err := u.decreaseExposure(asset, repaid); err != nil {
			return err
		}
		position.Touch(e.clk)
		u.record(NewOperate(e.clk, req.Caller, position.Id, OpRepay, ActionDetail{Actor: req.Caller, ActionType: ActionRepay, Symbol: asset.Symbol, Amount: repaid}))
		e.log.Info().Msgf("repay position %s %s %s", position.Id, repaid, asset.Symbol)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return repaid, nil
}

// Supply lends from the owner's wallet into the asset's pool.
func (e *Engine) Supply(ctx context.Context, req AssetRequest) error {
	return e.run(ctx, OpSupply, func(u *unitOfWork) error {
		position, asset, err := u.prepare(req)
		if err != nil {
			return err
		}
		pool, err := u.pool(asset.Symbol)
		if err != nil {
			return err
		}
		if err := u.debitWallet(position.Owner, asset, req.Amount); err != nil {
			return err
		}
		if err := pool.RecordDeposit(position.Supply(pool, true), req.Amount); err != nil {
			return err
		}
		position.Touch(e.clk)
		u.record(NewOperate(e.clk, req.Caller, position.Id, OpSupply, ActionDetail{Actor: req.Caller, ActionType: ActionDeposit, Symbol: asset.Symbol, Amount: req.Amount}))
		e.log.Info().Msgf("supply position %s %s %s", position.Id, req.Amount, asset.Symbol)
		return nil
	})
}

// Redeem withdraws lent funds plus interest back to the owner's wallet.
func (e *Engine) Redeem(ctx context.Context, req AssetRequest) error {
	return e.run(ctx, OpRedeem, func(u *unitOfWork) error {
		position, asset, err := u.prepare(req)
		if err != nil {
			return err
		}
		pool, err := u.pool(asset.Symbol)
		if err != nil {
			return err
		}
		supply := position.Supply(pool, false)
		if supply == nil {
			return errors.Wrapf(ErrInsufficientBalance, "position %s has no %s supply", position.Id, asset.Symbol)
		}
		if err := pool.RecordWithdraw(supply, req.Amount); err != nil {
			return err
		}
		if err := u.creditWallet(position.Owner, asset, req.Amount); err != nil {
			return err
		}
		position.Touch(e.clk)
		u.record(NewOperate(e.clk, req.Caller, position.Id, OpRedeem, ActionDetail{Actor: req.Caller, ActionType: ActionWithdraw, Symbol: asset.Symbol, Amount: req.Amount}))
		e.log.Info().Msgf("redeem position %s %s %s", position.Id, req.Amount, asset.Symbol)
		return nil
	})
}

// AccrueAll brings every pool up to the current time.
func (e *Engine) AccrueAll(ctx context.Context) error {
	return e.run(ctx, OpAccrue, func(u *unitOfWork) error {
		for _, p := range e.pools.List() {
			if _, err := u.pool(p.Symbol); err != nil {
				return err
			}
		}
		e.log.Info().Msgf("accrued %d pools at %d", len(u.pools), u.now)
		return nil
	})
}

// ConfigurePool replaces the non-zero rate parameters of a pool. Interest up
// to now accrues under the old curve.
func (e *Engine) ConfigurePool(ctx context.Context, actor, symbol string, irConfig *InterestRateConfig) error {
	return e.run(ctx, OpConfigure, func(u *unitOfWork) error {
		pool, err := u.pool(symbol)
		if err != nil {
			return err
		}
		if err := pool.Configure(irConfig); err != nil {
			return errors.Wrapf(err, "pool %s", symbol)
		}
		u.record(NewOperate(e.clk, actor, uuid.Nil, OpConfigure))
		e.log.Info().Msgf("pool %s configured by %s: %+v", symbol, actor, pool.InterestRateConfig)
		return nil
	})
}

// Valuate prices a position against freshly accrued pools without
// persisting the accrual.
func (e *Engine) Valuate(ctx context.Context, positionId uuid.UUID) (*Valuation, error) {
	var valuation *Valuation
	err := e.view(ctx, func(u *unitOfWork) error {
		position, err := u.position(positionId)
		if err != nil {
			return err
		}
		valuation, err = u.valuate(position)
		return err
	})
	if err != nil {
		return nil, err
	}
	return valuation, nil
}

// PlanLiquidation derives per-pool repay amounts that bring the position's
// coverage-weighted LTV to weightedTargetBps with the given bonus.
func (e *Engine) PlanLiquidation(ctx context.Context, positionId uuid.UUID, weightedTargetBps, bonusBps int64) (*LiquidationPlan, error) {
	if bonusBps > e.cfg.MaxLiquidationBonusBps {
		return nil, errors.Wrapf(ErrBonusTooHigh, "bonus %d > %d", bonusBps, e.cfg.MaxLiquidationBonusBps)
	}
	var plan *LiquidationPlan
	err := e.view(ctx, func(u *unitOfWork) error {
		position, err := u.position(positionId)
		if err != nil {
			return err
		}
		valuation, err := u.valuate(position)
		if err != nil {
			return err
		}
		if !valuation.TotalDebt.IsPositive() {
			return errors.Wrapf(ErrNoDebt, "position %s", positionId)
		}
		target := TranslateWeightedTarget(valuation, weightedTargetBps)
		repayValue, err := SolveRepayValue(valuation.TotalDebt, valuation.TotalValue, target, bonusBps)
		if err != nil {
			return err
		}
		amounts, err := SplitRepayValue(valuation, repayValue, e.assets)
		if err != nil {
			return err
		}
		plan = &LiquidationPlan{
			PositionId:   positionId.String(),
			TargetBps:    weightedTargetBps,
			BonusBps:     bonusBps,
			RepayValue:   repayValue,
			SeizeValue:   repayValue.Mul(ONE.Add(decimal.NewFromInt(bonusBps).Div(BPS))),
			RepayAmounts: amounts,
			ExpectedLTV:  ExpectedLTV(valuation.TotalDebt, valuation.TotalValue, repayValue, bonusBps),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}
