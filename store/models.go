package store

import (
	"github.com/DomeLiquid/lending/core"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type AssetRow struct {
	Id            uuid.UUID       `gorm:"type:varchar(36);primaryKey"`
	Symbol        string          `gorm:"size:32;uniqueIndex"`
	TokenRef      string          `gorm:"size:128"`
	Decimals      int32           `gorm:"not null"`
	Coverage      decimal.Decimal `gorm:"type:text;not null"`
	ExposureGroup string          `gorm:"size:64;index"`
	CreatedAt     int64           `gorm:"autoCreateTime:false"`
}

func (AssetRow) TableName() string { return "assets" }

type PoolRow struct {
	Id       uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	Symbol   string    `gorm:"size:32;uniqueIndex"`
	Decimals int32     `gorm:"not null"`

	TotalDeposited decimal.Decimal `gorm:"type:text;not null"`
	TotalBorrowed  decimal.Decimal `gorm:"type:text;not null"`
	Reserves       decimal.Decimal `gorm:"type:text;not null"`
	DepositIndex   decimal.Decimal `gorm:"type:text;not null"`
	BorrowIndex    decimal.Decimal `gorm:"type:text;not null"`

	BaseRate               decimal.Decimal `gorm:"type:text;not null"`
	Slope1                 decimal.Decimal `gorm:"type:text;not null"`
	Slope2                 decimal.Decimal `gorm:"type:text;not null"`
	OptimalUtilizationRate decimal.Decimal `gorm:"type:text;not null"`
	ReserveFactor          decimal.Decimal `gorm:"type:text;not null"`

	CreatedAt  int64 `gorm:"autoCreateTime:false"`
	LastUpdate int64
}

func (PoolRow) TableName() string { return "pools" }

type PositionRow struct {
	Id        uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	Owner     string    `gorm:"size:128;index"`
	Slot      uint8     `gorm:"column:position_index"`
	CreatedAt int64     `gorm:"autoCreateTime:false"`
	UpdatedAt int64     `gorm:"autoUpdateTime:false"`
}

func (PositionRow) TableName() string { return "positions" }

type BalanceRow struct {
	PositionId uuid.UUID       `gorm:"type:varchar(36);primaryKey"`
	Symbol     string          `gorm:"size:32;primaryKey"`
	Amount     decimal.Decimal `gorm:"type:text;not null"`
}

func (BalanceRow) TableName() string { return "position_balances" }

type LoanRow struct {
	PositionId    uuid.UUID       `gorm:"type:varchar(36);primaryKey"`
	Symbol        string          `gorm:"size:32;primaryKey"`
	Principal     decimal.Decimal `gorm:"type:text;not null"`
	SnapshotIndex decimal.Decimal `gorm:"type:text;not null"`
}

func (LoanRow) TableName() string { return "position_loans" }

type SupplyRow struct {
	PositionId    uuid.UUID       `gorm:"type:varchar(36);primaryKey"`
	Symbol        string          `gorm:"size:32;primaryKey"`
	Principal     decimal.Decimal `gorm:"type:text;not null"`
	SnapshotIndex decimal.Decimal `gorm:"type:text;not null"`
}

func (SupplyRow) TableName() string { return "position_supplies" }

type WalletRow struct {
	Account string          `gorm:"size:128;primaryKey"`
	Symbol  string          `gorm:"size:32;primaryKey"`
	Amount  decimal.Decimal `gorm:"type:text;not null"`
}

func (WalletRow) TableName() string { return "wallets" }

type ExposureGroupRow struct {
	Name            string          `gorm:"size:64;primaryKey"`
	CurrentExposure decimal.Decimal `gorm:"type:text;not null"`
	MaxExposure     decimal.Decimal `gorm:"type:text;not null"`
}

func (ExposureGroupRow) TableName() string { return "exposure_groups" }

type OperateRow struct {
	Id         uint64             `gorm:"primaryKey;autoIncrement"`
	Actor      string             `gorm:"size:128;index"`
	PositionId uuid.UUID          `gorm:"type:varchar(36);index"`
	Op         core.OperateType   `gorm:"index"`
	Extra      core.OperateDetail `gorm:"type:text"`
	CreatedAt  int64              `gorm:"index;autoCreateTime:false"`
}

func (OperateRow) TableName() string { return "operates" }

func assetRow(a *core.Asset) *AssetRow {
	return &AssetRow{
		Id:            a.Id,
		Symbol:        a.Symbol,
		TokenRef:      a.TokenRef,
		Decimals:      a.Decimals,
		Coverage:      a.Coverage,
		ExposureGroup: a.ExposureGroup,
		CreatedAt:     a.CreatedAt,
	}
}

func (r *AssetRow) asset() *core.Asset {
	return &core.Asset{
		Id:            r.Id,
		Symbol:        r.Symbol,
		TokenRef:      r.TokenRef,
		Decimals:      r.Decimals,
		Coverage:      r.Coverage,
		ExposureGroup: r.ExposureGroup,
		CreatedAt:     r.CreatedAt,
	}
}

func poolRow(p *core.Pool) *PoolRow {
	return &PoolRow{
		Id:                     p.Id,
		Symbol:                 p.Symbol,
		Decimals:               p.Decimals,
		TotalDeposited:         p.TotalDeposited,
		TotalBorrowed:          p.TotalBorrowed,
		Reserves:               p.Reserves,
		DepositIndex:           p.DepositIndex,
		BorrowIndex:            p.BorrowIndex,
		BaseRate:               p.BaseRate,
		Slope1:                 p.Slope1,
		Slope2:                 p.Slope2,
		OptimalUtilizationRate: p.OptimalUtilizationRate,
		ReserveFactor:          p.ReserveFactor,
		CreatedAt:              p.CreatedAt,
		LastUpdate:             p.LastUpdate,
	}
}

func (r *PoolRow) pool() *core.Pool {
	return &core.Pool{
		Id:             r.Id,
		Symbol:         r.Symbol,
		Decimals:       r.Decimals,
		TotalDeposited: r.TotalDeposited,
		TotalBorrowed:  r.TotalBorrowed,
		Reserves:       r.Reserves,
		DepositIndex:   r.DepositIndex,
		BorrowIndex:    r.BorrowIndex,
		InterestRateConfig: core.InterestRateConfig{
			BaseRate:               r.BaseRate,
			Slope1:                 r.Slope1,
			Slope2:                 r.Slope2,
			OptimalUtilizationRate: r.OptimalUtilizationRate,
			ReserveFactor:          r.ReserveFactor,
		},
		CreatedAt:  r.CreatedAt,
		LastUpdate: r.LastUpdate,
	}
}

func positionRow(p *core.Position) *PositionRow {
	return &PositionRow{
		Id:        p.Id,
		Owner:     p.Owner,
		Slot:      p.Index,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (r *PositionRow) position() *core.Position {
	return &core.Position{
		Id:        r.Id,
		Owner:     r.Owner,
		Index:     r.Slot,
		Balances:  make(map[string]decimal.Decimal),
		Loans:     make(map[string]*core.IndexedAmount),
		Supplies:  make(map[string]*core.IndexedAmount),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func operateRow(o *core.Operate) *OperateRow {
	return &OperateRow{
		Actor:      o.Actor,
		PositionId: o.PositionId,
		Op:         o.Op,
		Extra:      o.Extra,
		CreatedAt:  o.CreatedAt,
	}
}

func (r *OperateRow) operate() core.Operate {
	return core.Operate{
		Actor:      r.Actor,
		PositionId: r.PositionId,
		Op:         r.Op,
		Extra:      r.Extra,
		CreatedAt:  r.CreatedAt,
	}
}
