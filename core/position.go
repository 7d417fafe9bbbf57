package core

import (
	"context"
	"sort"
	"strconv"

	"github.com/DomeLiquid/lending/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	PositionStore interface {
		GetPositionById(ctx context.Context, positionId uuid.UUID) (*Position, error)
		ListPositionsByOwner(ctx context.Context, owner string) ([]*Position, error)
		UpsertPosition(ctx context.Context, position *Position) error
	}

	// Position holds collateral balances in token units, loans per pool and
	// lender supplies per pool. Supplies earn the deposit index and are not collateral.
	Position struct {
		Id    uuid.UUID `json:"id"`
		Owner string    `json:"owner"`
		Index uint8     `json:"index"`

		Balances map[string]decimal.Decimal `json:"balances"`
		Loans    map[string]*IndexedAmount  `json:"loans"`
		Supplies map[string]*IndexedAmount  `json:"supplies"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}
)

// PositionId derives the id of an owner's slot. The index is joined to the
// owner because the id derivation sorts its parts.
func PositionId(owner string, index uint8) uuid.UUID {
	return uuid.Must(uuid.FromString(utils.GenUuidFromStrings("position", owner+"#"+strconv.Itoa(int(index)))))
}

func NewPosition(clk clock.Clock, owner string, index uint8) *Position {
	return &Position{
		Id:        PositionId(owner, index),
		Owner:     owner,
		Index:     index,
		Balances:  make(map[string]decimal.Decimal),
		Loans:     make(map[string]*IndexedAmount),
		Supplies:  make(map[string]*IndexedAmount),
		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
}

func (p *Position) Clone() *Position {
	clone := &Position{
		Id:        p.Id,
		Owner:     p.Owner,
		Index:     p.Index,
		Balances:  make(map[string]decimal.Decimal, len(p.Balances)),
		Loans:     make(map[string]*IndexedAmount, len(p.Loans)),
		Supplies:  make(map[string]*IndexedAmount, len(p.Supplies)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for k, v := range p.Balances {
		clone.Balances[k] = v
	}
	for k, v := range p.Loans {
		clone.Loans[k] = v.Clone()
	}
	for k, v := range p.Supplies {
		clone.Supplies[k] = v.Clone()
	}
	return clone
}

func (p *Position) Balance(symbol string) decimal.Decimal {
	return p.Balances[symbol]
}

// ChangeBalance applies delta to a collateral balance, refusing to go negative
// or past the 128-bit raw unit range of the asset.
func (p *Position) ChangeBalance(asset *Asset, delta decimal.Decimal) error {
	next := p.Balances[asset.Symbol].Add(delta)
	if next.IsNegative() {
		return errors.Wrapf(ErrInsufficientBalance, "position %s %s balance %s < %s", p.Id, asset.Symbol, p.Balances[asset.Symbol], delta.Neg())
	}
	if err := CheckAmountRange(asset, next); err != nil {
		return err
	}
	if next.IsZero() {
		delete(p.Balances, asset.Symbol)
	} else {
		p.Balances[asset.Symbol] = next
	}
	return nil
}

// Loan returns the loan record for a pool, creating it when create is set.
func (p *Position) Loan(pool *Pool, create bool) *IndexedAmount {
	loan, ok := p.Loans[pool.Symbol]
	if !ok && create {
		loan = NewIndexedAmount(pool.BorrowIndex)
		p.Loans[pool.Symbol] = loan
	}
	return loan
}

func (p *Position) Supply(pool *Pool, create bool) *IndexedAmount {
	supply, ok := p.Supplies[pool.Symbol]
	if !ok && create {
		supply = NewIndexedAmount(pool.DepositIndex)
		p.Supplies[pool.Symbol] = supply
	}
	return supply
}

// Prune drops empty loan and supply records.
func (p *Position) Prune() {
	for k, v := range p.Loans {
		if v.IsEmpty() {
			delete(p.Loans, k)
		}
	}
	for k, v := range p.Supplies {
		if v.IsEmpty() {
			delete(p.Supplies, k)
		}
	}
	for k, v := range p.Balances {
		if v.IsZero() {
			delete(p.Balances, k)
		}
	}
}

func (p *Position) HasDebt() bool {
	for _, loan := range p.Loans {
		if !loan.IsEmpty() {
			return true
		}
	}
	return false
}

func (p *Position) IsEmpty() bool {
	if p.HasDebt() {
		return false
	}
	for _, s := range p.Supplies {
		if !s.IsEmpty() {
			return false
		}
	}
	for _, b := range p.Balances {
		if !b.IsZero() {
			return false
		}
	}
	return true
}

// Symbols returns every asset the position references, sorted.
func (p *Position) Symbols() []string {
	seen := make(map[string]struct{}, len(p.Balances)+len(p.Loans))
	for k := range p.Balances {
		seen[k] = struct{}{}
	}
	for k := range p.Loans {
		seen[k] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for k := range seen {
		symbols = append(symbols, k)
	}
	sort.Strings(symbols)
	return symbols
}

// Zero clears collateral and loans after a full close. Supplies are lender
// funds and survive.
func (p *Position) Zero(clk clock.Clock) {
	p.Balances = make(map[string]decimal.Decimal)
	p.Loans = make(map[string]*IndexedAmount)
	p.UpdatedAt = clk.Now().Unix()
}

func (p *Position) Touch(clk clock.Clock) {
	p.UpdatedAt = clk.Now().Unix()
}
