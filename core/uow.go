package core

import (
	"context"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// Store persists a committed change set atomically.
	Store interface {
		Commit(ctx context.Context, cs *ChangeSet) error
	}

	ChangeSet struct {
		Pools          []*Pool          `json:"pools"`
		Positions      []*Position      `json:"positions"`
		Wallets        []WalletBalance  `json:"wallets"`
		ExposureGroups []*ExposureGroup `json:"exposureGroups"`
		Operates       []*Operate       `json:"operates"`
	}

	// State is the full engine state, as loaded from a Store.
	State struct {
		Assets         []*Asset         `json:"assets"`
		Pools          []*Pool          `json:"pools"`
		Positions      []*Position      `json:"positions"`
		Wallets        []WalletBalance  `json:"wallets"`
		ExposureGroups []*ExposureGroup `json:"exposureGroups"`
	}
)

func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.Pools) == 0 && len(cs.Positions) == 0 && len(cs.Wallets) == 0 &&
		len(cs.ExposureGroups) == 0 && len(cs.Operates) == 0
}

// unitOfWork stages one engine operation. Pools and positions are cloned on
// first touch, wallet changes are held as deltas and exposure is restored
// from a snapshot on rollback. Nothing is visible outside until commit.
type unitOfWork struct {
	ctx context.Context
	e   *Engine
	now int64

	pools     map[string]*Pool
	positions map[uuid.UUID]*Position
	wallets   map[walletKey]decimal.Decimal
	prices    Prices

	exposure        []*ExposureGroup
	exposureTouched bool

	operates []*Operate
}

func (e *Engine) begin(ctx context.Context) *unitOfWork {
	return &unitOfWork{
		ctx:       ctx,
		e:         e,
		now:       e.clk.Now().Unix(),
		pools:     make(map[string]*Pool),
		positions: make(map[uuid.UUID]*Position),
		wallets:   make(map[walletKey]decimal.Decimal),
		exposure:  e.exposure.Snapshot(),
	}
}

// pool returns the staged copy of a pool, accrued to the operation time.
func (u *unitOfWork) pool(symbol string) (*Pool, error) {
	if p, ok := u.pools[symbol]; ok {
		return p, nil
	}
	committed, err := u.e.pools.Get(symbol)
	if err != nil {
		return nil, err
	}
	p := committed.Clone()
	if err := p.AccrueInterest(u.e.log, u.now); err != nil {
		return nil, err
	}
	u.pools[symbol] = p
	return p, nil
}

// poolLookup serves staged pools to the valuator.
func (u *unitOfWork) poolLookup(symbol string) (*Pool, error) {
	return u.pool(symbol)
}

func (u *unitOfWork) position(id uuid.UUID) (*Position, error) {
	if p, ok := u.positions[id]; ok {
		return p, nil
	}
	committed, ok := u.e.positions[id]
	if !ok {
		return nil, errors.Wrapf(ErrPositionNotFound, "position %s", id)
	}
	p := committed.Clone()
	u.positions[id] = p
	return p, nil
}

func (u *unitOfWork) createPosition(p *Position) {
	u.positions[p.Id] = p
}

func (u *unitOfWork) loadPrices() (Prices, error) {
	if u.prices != nil {
		return u.prices, nil
	}
	prices, err := u.e.priceFeed.GetPrices(u.ctx, u.e.assets.Symbols())
	if err != nil {
		return nil, err
	}
	u.prices = prices
	return prices, nil
}

func (u *unitOfWork) valuate(position *Position) (*Valuation, error) {
	prices, err := u.loadPrices()
	if err != nil {
		return nil, err
	}
	// accrue every pool the position owes before reading debt
	for symbol := range position.Loans {
		if _, err := u.pool(symbol); err != nil {
			return nil, err
		}
	}
	v, err := Valuate(position, u.poolLookup, u.e.assets, prices, u.e.cfg.MaxLtvBps)
	if err != nil {
		return nil, err
	}
	if v.SolvencyMismatch() {
		u.e.log.Error().Msgf("position %s solvency views disagree: weighted ltv %d health %s max %d",
			position.Id, v.WeightedLTV, v.HealthRatio, v.MaxLtvBps)
	}
	return v, nil
}

func (u *unitOfWork) walletBalance(account, symbol string) (decimal.Decimal, error) {
	balance, err := u.e.ledger.Balance(u.ctx, account, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Add(u.wallets[walletKey{account, symbol}]), nil
}

func (u *unitOfWork) debitWallet(account string, asset *Asset, amount decimal.Decimal) error {
	balance, err := u.walletBalance(account, asset.Symbol)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "wallet %s %s balance %s < %s", account, asset.Symbol, balance, amount)
	}
	key := walletKey{account, asset.Symbol}
	u.wallets[key] = u.wallets[key].Sub(amount)
	return nil
}

func (u *unitOfWork) creditWallet(account string, asset *Asset, amount decimal.Decimal) error {
	balance, err := u.walletBalance(account, asset.Symbol)
	if err != nil {
		return err
	}
	if err := CheckAmountRange(asset, balance.Add(amount)); err != nil {
		return err
	}
	key := walletKey{account, asset.Symbol}
	u.wallets[key] = u.wallets[key].Add(amount)
	return nil
}

// increaseExposure charges amount of asset at the current price to its group.
func (u *unitOfWork) increaseExposure(asset *Asset, amount decimal.Decimal) error {
	if asset.ExposureGroup == "" || !amount.IsPositive() {
		return nil
	}
	delta, err := u.exposureDelta(asset, amount)
	if err != nil {
		return err
	}
	u.exposureTouched = true
	return u.e.exposure.Increase(asset.ExposureGroup, delta)
}

func (u *unitOfWork) decreaseExposure(asset *Asset, amount decimal.Decimal) error {
	if asset.ExposureGroup == "" || !amount.IsPositive() {
		return nil
	}
	delta, err := u.exposureDelta(asset, amount)
	if err != nil {
		return err
	}
	u.exposureTouched = true
	return u.e.exposure.Decrease(asset.ExposureGroup, delta)
}

func (u *unitOfWork) exposureDelta(asset *Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	prices, err := u.loadPrices()
	if err != nil {
		return decimal.Zero, err
	}
	price, err := prices.Get(asset.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return CalcValue(amount, price, nil)
}

func (u *unitOfWork) record(op *Operate) {
	u.operates = append(u.operates, op)
}

// checkInvariants runs just before commit.
func (u *unitOfWork) checkInvariants() error {
	for _, p := range u.pools {
		if err := p.CheckUtilizationRatio(); err != nil {
			return err
		}
	}
	for _, p := range u.positions {
		for symbol, b := range p.Balances {
			if b.IsNegative() {
				return errors.Wrapf(ErrInsufficientBalance, "position %s %s balance %s", p.Id, symbol, b)
			}
		}
	}
	return nil
}

func (u *unitOfWork) changeSet() (*ChangeSet, error) {
	cs := &ChangeSet{Operates: u.operates}

	for _, p := range u.pools {
		cs.Pools = append(cs.Pools, p)
	}
	sort.Slice(cs.Pools, func(i, j int) bool { return cs.Pools[i].Symbol < cs.Pools[j].Symbol })

	for _, p := range u.positions {
		p.Prune()
		cs.Positions = append(cs.Positions, p)
	}
	sort.Slice(cs.Positions, func(i, j int) bool { return cs.Positions[i].Id.String() < cs.Positions[j].Id.String() })

	for key, delta := range u.wallets {
		if delta.IsZero() {
			continue
		}
		balance, err := u.walletBalance(key.account, key.symbol)
		if err != nil {
			return nil, err
		}
		cs.Wallets = append(cs.Wallets, WalletBalance{Account: key.account, Symbol: key.symbol, Amount: balance})
	}
	sort.Slice(cs.Wallets, func(i, j int) bool {
		if cs.Wallets[i].Account != cs.Wallets[j].Account {
			return cs.Wallets[i].Account < cs.Wallets[j].Account
		}
		return cs.Wallets[i].Symbol < cs.Wallets[j].Symbol
	})

	if u.exposureTouched {
		cs.ExposureGroups = u.e.exposure.Snapshot()
	}
	return cs, nil
}

// commit validates, applies wallet deltas, persists and then publishes the
// staged state. Wallet deltas are reverted if the ledger or the store fails.
func (u *unitOfWork) commit() (*ChangeSet, error) {
	if err := u.checkInvariants(); err != nil {
		return nil, err
	}
	cs, err := u.changeSet()
	if err != nil {
		return nil, err
	}

	applied, err := u.applyWallets()
	if err != nil {
		u.revertWallets(applied)
		return nil, err
	}
	if u.e.store != nil && !cs.IsEmpty() {
		if err := u.e.store.Commit(u.ctx, cs); err != nil {
			u.revertWallets(applied)
			return nil, errors.Wrap(err, "persist change set")
		}
	}

	for _, p := range cs.Pools {
		u.e.pools.Replace(p)
		u.e.metrics.ObservePool(p)
	}
	for _, p := range cs.Positions {
		u.e.positions[p.Id] = p
	}
	return cs, nil
}

type walletDelta struct {
	key   walletKey
	asset *Asset
	delta decimal.Decimal
}

// applyWallets pushes the staged deltas to the ledger in account, symbol
// order and returns the ones that landed.
func (u *unitOfWork) applyWallets() ([]walletDelta, error) {
	keys := make([]walletKey, 0, len(u.wallets))
	for key, delta := range u.wallets {
		if !delta.IsZero() {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].symbol < keys[j].symbol
	})

	applied := make([]walletDelta, 0, len(keys))
	for _, key := range keys {
		asset, err := u.e.assets.Get(key.symbol)
		if err != nil {
			return applied, err
		}
		wd := walletDelta{key: key, asset: asset, delta: u.wallets[key]}
		if err := u.moveWallet(wd.key.account, asset, wd.delta); err != nil {
			return applied, errors.Wrapf(err, "ledger %s %s", key.account, key.symbol)
		}
		applied = append(applied, wd)
	}
	return applied, nil
}

// revertWallets undoes applied deltas newest first.
func (u *unitOfWork) revertWallets(applied []walletDelta) {
	for i := len(applied) - 1; i >= 0; i-- {
		wd := applied[i]
		if err := u.moveWallet(wd.key.account, wd.asset, wd.delta.Neg()); err != nil {
			u.e.log.Error().Msgf("revert wallet %s %s by %s: %v", wd.key.account, wd.key.symbol, wd.delta.Neg(), err)
		}
	}
}

func (u *unitOfWork) moveWallet(account string, asset *Asset, delta decimal.Decimal) error {
	if delta.IsNegative() {
		return u.e.ledger.Decrement(u.ctx, account, asset, delta.Neg())
	}
	return u.e.ledger.Increment(u.ctx, account, asset, delta)
}

func (u *unitOfWork) rollback() {
	u.e.exposure.Restore(u.exposure)
}
