package core

import (
	"context"
	"sort"
	"sync"

	"github.com/DomeLiquid/lending/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	AssetStore interface {
		GetAsset(ctx context.Context, symbol string) (*Asset, error)
		ListAllAssets(ctx context.Context) ([]*Asset, error)
		UpsertAsset(ctx context.Context, asset *Asset) error
	}

	Asset struct {
		Id       uuid.UUID `json:"id"`
		Symbol   string    `json:"symbol"`
		TokenRef string    `json:"tokenRef"`
		Decimals int32     `json:"decimals"`

		// Coverage scales the asset's contribution to the threshold-weighted value.
		Coverage      decimal.Decimal `json:"coverage"`
		ExposureGroup string          `json:"exposureGroup,omitempty"`

		CreatedAt int64 `json:"createdAt"`
	}
)

func NewAsset(clk clock.Clock, symbol, tokenRef string, decimals int32, coverage decimal.Decimal, exposureGroup string) *Asset {
	return &Asset{
		Id:            uuid.Must(uuid.FromString(utils.GenUuidFromStrings("asset", symbol, tokenRef))),
		Symbol:        symbol,
		TokenRef:      tokenRef,
		Decimals:      decimals,
		Coverage:      coverage,
		ExposureGroup: exposureGroup,
		CreatedAt:     clk.Now().Unix(),
	}
}

func (a *Asset) Validate() error {
	if a.Symbol == "" {
		return errors.Wrap(ErrInvalidConfig, "asset symbol is empty")
	}
	if a.Decimals < 0 || a.Decimals > MAX_ASSET_DECIMALS {
		return errors.Wrapf(ErrInvalidDecimals, "asset %s decimals %d", a.Symbol, a.Decimals)
	}
	if a.Coverage.IsNegative() || a.Coverage.GreaterThan(ONE) {
		return errors.Wrapf(ErrInvalidCoverage, "asset %s coverage %s", a.Symbol, a.Coverage)
	}
	return nil
}

// Floor truncates an amount to the asset's precision.
func (a *Asset) Floor(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundFloor(a.Decimals)
}

func (a *Asset) Ceil(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundCeil(a.Decimals)
}

func (a *Asset) Clone() *Asset {
	clone := *a
	return &clone
}

type AssetRegistry struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

func NewAssetRegistry(assets ...*Asset) (*AssetRegistry, error) {
	r := &AssetRegistry{assets: make(map[string]*Asset, len(assets))}
	for _, a := range assets {
		if err := r.Add(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *AssetRegistry) Add(asset *Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.Symbol] = asset
	return nil
}

func (r *AssetRegistry) Get(symbol string) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[symbol]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAsset, "asset %s", symbol)
	}
	return a, nil
}

func (r *AssetRegistry) List() []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list
}

func (r *AssetRegistry) Symbols() []string {
	list := r.List()
	symbols := make([]string, 0, len(list))
	for _, a := range list {
		symbols = append(symbols, a.Symbol)
	}
	return symbols
}
