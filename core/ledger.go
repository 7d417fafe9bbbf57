package core

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// Ledger is external custody: wallet balances of owners, liquidators and
	// recovery accounts, in token units.
	Ledger interface {
		Balance(ctx context.Context, account, symbol string) (decimal.Decimal, error)
		Increment(ctx context.Context, account string, asset *Asset, amount decimal.Decimal) error
		Decrement(ctx context.Context, account string, asset *Asset, amount decimal.Decimal) error
	}

	WalletBalance struct {
		Account string          `json:"account"`
		Symbol  string          `json:"symbol"`
		Amount  decimal.Decimal `json:"amount"`
	}
)

type walletKey struct {
	account string
	symbol  string
}

type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[walletKey]decimal.Decimal
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[walletKey]decimal.Decimal)}
}

func (l *MemoryLedger) Balance(ctx context.Context, account, symbol string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[walletKey{account, symbol}], nil
}

func (l *MemoryLedger) Increment(ctx context.Context, account string, asset *Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := walletKey{account, asset.Symbol}
	next := l.balances[key].Add(amount)
	if err := CheckAmountRange(asset, next); err != nil {
		return err
	}
	l.balances[key] = next
	return nil
}

func (l *MemoryLedger) Decrement(ctx context.Context, account string, asset *Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := walletKey{account, asset.Symbol}
	current := l.balances[key]
	if current.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "wallet %s %s balance %s < %s", account, asset.Symbol, current, amount)
	}
	next := current.Sub(amount)
	if next.IsZero() {
		delete(l.balances, key)
	} else {
		l.balances[key] = next
	}
	return nil
}

// Set overwrites a balance, used when loading persisted wallets.
func (l *MemoryLedger) Set(account, symbol string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.IsZero() {
		delete(l.balances, walletKey{account, symbol})
		return
	}
	l.balances[walletKey{account, symbol}] = amount
}

// Balances returns every non-zero wallet balance sorted by account then symbol.
func (l *MemoryLedger) Balances() []WalletBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := make([]WalletBalance, 0, len(l.balances))
	for k, v := range l.balances {
		list = append(list, WalletBalance{Account: k.account, Symbol: k.symbol, Amount: v})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Account != list[j].Account {
			return list[i].Account < list[j].Account
		}
		return list[i].Symbol < list[j].Symbol
	})
	return list
}
