package store

import (
	"context"
	"sort"

	"github.com/DomeLiquid/lending/core"
	"github.com/glebarez/sqlite"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists engine state in a SQL database through gorm.
type Store struct {
	db *gorm.DB
}

var (
	_ core.Store         = (*Store)(nil)
	_ core.AssetStore    = (*Store)(nil)
	_ core.PoolStore     = (*Store)(nil)
	_ core.PositionStore = (*Store)(nil)
	_ core.OperateStore  = (*Store)(nil)
)

// Open connects to a sqlite database, e.g. "lending.db" or
// "file:lending?mode=memory&cache=shared".
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", dsn)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&AssetRow{},
		&PoolRow{},
		&PositionRow{},
		&BalanceRow{},
		&LoanRow{},
		&SupplyRow{},
		&WalletRow{},
		&ExposureGroupRow{},
		&OperateRow{},
	)
}

func upsert(tx *gorm.DB, value any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

// Commit writes a change set in a single transaction.
func (s *Store) Commit(ctx context.Context, cs *core.ChangeSet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range cs.Pools {
			if err := upsert(tx, poolRow(p)); err != nil {
				return errors.Wrapf(err, "save pool %s", p.Symbol)
			}
		}
		for _, p := range cs.Positions {
			if err := savePosition(tx, p); err != nil {
				return errors.Wrapf(err, "save position %s", p.Id)
			}
		}
		for _, w := range cs.Wallets {
			if err := saveWallet(tx, w); err != nil {
				return errors.Wrapf(err, "save wallet %s %s", w.Account, w.Symbol)
			}
		}
		for _, g := range cs.ExposureGroups {
			row := &ExposureGroupRow{Name: g.Name, CurrentExposure: g.CurrentExposure, MaxExposure: g.MaxExposure}
			if err := upsert(tx, row); err != nil {
				return errors.Wrapf(err, "save exposure group %s", g.Name)
			}
		}
		for _, o := range cs.Operates {
			if err := tx.Create(operateRow(o)).Error; err != nil {
				return errors.Wrapf(err, "save operate %s", o.Op)
			}
		}
		return nil
	})
}

// savePosition replaces the position row and all of its child rows.
func savePosition(tx *gorm.DB, p *core.Position) error {
	if err := upsert(tx, positionRow(p)); err != nil {
		return err
	}
	for _, model := range []any{&BalanceRow{}, &LoanRow{}, &SupplyRow{}} {
		if err := tx.Where("position_id = ?", p.Id).Delete(model).Error; err != nil {
			return err
		}
	}

	balances := make([]*BalanceRow, 0, len(p.Balances))
	for symbol, amount := range p.Balances {
		balances = append(balances, &BalanceRow{PositionId: p.Id, Symbol: symbol, Amount: amount})
	}
	if len(balances) > 0 {
		if err := tx.Create(&balances).Error; err != nil {
			return err
		}
	}

	loans := make([]*LoanRow, 0, len(p.Loans))
	for symbol, loan := range p.Loans {
		loans = append(loans, &LoanRow{PositionId: p.Id, Symbol: symbol, Principal: loan.Principal, SnapshotIndex: loan.SnapshotIndex})
	}
	if len(loans) > 0 {
		if err := tx.Create(&loans).Error; err != nil {
			return err
		}
	}

	supplies := make([]*SupplyRow, 0, len(p.Supplies))
	for symbol, supply := range p.Supplies {
		supplies = append(supplies, &SupplyRow{PositionId: p.Id, Symbol: symbol, Principal: supply.Principal, SnapshotIndex: supply.SnapshotIndex})
	}
	if len(supplies) > 0 {
		if err := tx.Create(&supplies).Error; err != nil {
			return err
		}
	}
	return nil
}

func saveWallet(tx *gorm.DB, w core.WalletBalance) error {
	if w.Amount.IsZero() {
		return tx.Where("account = ? AND symbol = ?", w.Account, w.Symbol).Delete(&WalletRow{}).Error
	}
	return upsert(tx, &WalletRow{Account: w.Account, Symbol: w.Symbol, Amount: w.Amount})
}

// Load reads the complete engine state.
func (s *Store) Load(ctx context.Context) (*core.State, error) {
	db := s.db.WithContext(ctx)
	state := &core.State{}

	assets, err := s.ListAllAssets(ctx)
	if err != nil {
		return nil, err
	}
	state.Assets = assets

	pools, err := s.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	state.Pools = pools

	var positionRows []*PositionRow
	if err := db.Order("owner, position_index").Find(&positionRows).Error; err != nil {
		return nil, errors.Wrap(err, "load positions")
	}
	positions, err := s.hydrate(ctx, positionRows)
	if err != nil {
		return nil, err
	}
	state.Positions = positions

	var walletRows []*WalletRow
	if err := db.Order("account, symbol").Find(&walletRows).Error; err != nil {
		return nil, errors.Wrap(err, "load wallets")
	}
	for _, w := range walletRows {
		state.Wallets = append(state.Wallets, core.WalletBalance{Account: w.Account, Symbol: w.Symbol, Amount: w.Amount})
	}

	var groupRows []*ExposureGroupRow
	if err := db.Order("name").Find(&groupRows).Error; err != nil {
		return nil, errors.Wrap(err, "load exposure groups")
	}
	for _, g := range groupRows {
		state.ExposureGroups = append(state.ExposureGroups, &core.ExposureGroup{Name: g.Name, CurrentExposure: g.CurrentExposure, MaxExposure: g.MaxExposure})
	}

	return state, nil
}

// hydrate attaches balances, loans and supplies to position rows.
func (s *Store) hydrate(ctx context.Context, rows []*PositionRow) ([]*core.Position, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	db := s.db.WithContext(ctx)
	ids := make([]uuid.UUID, 0, len(rows))
	byId := make(map[uuid.UUID]*core.Position, len(rows))
	positions := make([]*core.Position, 0, len(rows))
	for _, r := range rows {
		p := r.position()
		ids = append(ids, p.Id)
		byId[p.Id] = p
		positions = append(positions, p)
	}

	var balances []*BalanceRow
	if err := db.Where("position_id IN ?", ids).Find(&balances).Error; err != nil {
		return nil, errors.Wrap(err, "load balances")
	}
	for _, b := range balances {
		if p, ok := byId[b.PositionId]; ok {
			p.Balances[b.Symbol] = b.Amount
		}
	}

	var loans []*LoanRow
	if err := db.Where("position_id IN ?", ids).Find(&loans).Error; err != nil {
		return nil, errors.Wrap(err, "load loans")
	}
	for _, l := range loans {
		if p, ok := byId[l.PositionId]; ok {
			p.Loans[l.Symbol] = &core.IndexedAmount{Principal: l.Principal, SnapshotIndex: l.SnapshotIndex}
		}
	}

	var supplies []*SupplyRow
	if err := db.Where("position_id IN ?", ids).Find(&supplies).Error; err != nil {
		return nil, errors.Wrap(err, "load supplies")
	}
	for _, sp := range supplies {
		if p, ok := byId[sp.PositionId]; ok {
			p.Supplies[sp.Symbol] = &core.IndexedAmount{Principal: sp.Principal, SnapshotIndex: sp.SnapshotIndex}
		}
	}
	return positions, nil
}

// SeedAssets upserts asset definitions.
func (s *Store) SeedAssets(ctx context.Context, assets []*core.Asset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range assets {
			if err := upsert(tx, assetRow(a)); err != nil {
				return errors.Wrapf(err, "seed asset %s", a.Symbol)
			}
		}
		return nil
	})
}

// SeedPools inserts pools that do not exist yet and keeps existing ones,
// so a re-run never resets accrued indices.
func (s *Store) SeedPools(ctx context.Context, pools []*core.Pool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pools {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(poolRow(p)).Error; err != nil {
				return errors.Wrapf(err, "seed pool %s", p.Symbol)
			}
		}
		return nil
	})
}

// SeedExposureGroups sets group caps, keeping the current exposure of
// groups that already exist.
func (s *Store) SeedExposureGroups(ctx context.Context, groups []*core.ExposureGroup) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, g := range groups {
			row := &ExposureGroupRow{Name: g.Name, CurrentExposure: decimal.Zero, MaxExposure: g.MaxExposure}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"max_exposure"}),
			}).Create(row).Error
			if err != nil {
				return errors.Wrapf(err, "seed exposure group %s", g.Name)
			}
		}
		return nil
	})
}

func (s *Store) GetAsset(ctx context.Context, symbol string) (*core.Asset, error) {
	var row AssetRow
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrUnknownAsset, "asset %s", symbol)
		}
		return nil, err
	}
	return row.asset(), nil
}

func (s *Store) ListAllAssets(ctx context.Context) ([]*core.Asset, error) {
	var rows []*AssetRow
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load assets")
	}
	assets := make([]*core.Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, r.asset())
	}
	return assets, nil
}

func (s *Store) UpsertAsset(ctx context.Context, asset *core.Asset) error {
	return upsert(s.db.WithContext(ctx), assetRow(asset))
}

func (s *Store) GetPool(ctx context.Context, symbol string) (*core.Pool, error) {
	var row PoolRow
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrUnknownPool, "pool %s", symbol)
		}
		return nil, err
	}
	return row.pool(), nil
}

func (s *Store) ListPools(ctx context.Context) ([]*core.Pool, error) {
	var rows []*PoolRow
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load pools")
	}
	pools := make([]*core.Pool, 0, len(rows))
	for _, r := range rows {
		pools = append(pools, r.pool())
	}
	return pools, nil
}

func (s *Store) UpsertPool(ctx context.Context, pool *core.Pool) error {
	return upsert(s.db.WithContext(ctx), poolRow(pool))
}

func (s *Store) GetPositionById(ctx context.Context, positionId uuid.UUID) (*core.Position, error) {
	var row PositionRow
	if err := s.db.WithContext(ctx).Where("id = ?", positionId).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrPositionNotFound, "position %s", positionId)
		}
		return nil, err
	}
	positions, err := s.hydrate(ctx, []*PositionRow{&row})
	if err != nil {
		return nil, err
	}
	return positions[0], nil
}

func (s *Store) ListPositionsByOwner(ctx context.Context, owner string) ([]*core.Position, error) {
	var rows []*PositionRow
	if err := s.db.WithContext(ctx).Where("owner = ?", owner).Order("position_index").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load positions of %s", owner)
	}
	positions, err := s.hydrate(ctx, rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Index < positions[j].Index })
	return positions, nil
}

func (s *Store) UpsertPosition(ctx context.Context, position *core.Position) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return savePosition(tx, position)
	})
}

func (s *Store) CreateOperate(ctx context.Context, operate *core.Operate) error {
	return s.db.WithContext(ctx).Create(operateRow(operate)).Error
}

// ListOperates pages through an actor's audit records, newest first. A zero
// op matches every type and a zero createdBeforeAt means no upper bound.
func (s *Store) ListOperates(ctx context.Context, actor string, op core.OperateType, createdBeforeAt, limit int64) ([]core.Operate, error) {
	query := s.db.WithContext(ctx).Where("actor = ?", actor)
	if op != 0 {
		query = query.Where("op = ?", op)
	}
	if createdBeforeAt > 0 {
		query = query.Where("created_at < ?", createdBeforeAt)
	}
	if limit > 0 {
		query = query.Limit(int(limit))
	}
	var rows []*OperateRow
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "list operates of %s", actor)
	}
	operates := make([]core.Operate, 0, len(rows))
	for _, r := range rows {
		operates = append(operates, r.operate())
	}
	return operates, nil
}
