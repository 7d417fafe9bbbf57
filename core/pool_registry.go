package core

import (
	"sort"

	"github.com/pkg/errors"
)

// PoolRegistry maps each asset symbol to its lending pool.
type PoolRegistry struct {
	pools map[string]*Pool
}

func NewPoolRegistry(pools ...*Pool) (*PoolRegistry, error) {
	r := &PoolRegistry{pools: make(map[string]*Pool, len(pools))}
	for _, p := range pools {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PoolRegistry) Add(pool *Pool) error {
	if _, ok := r.pools[pool.Symbol]; ok {
		return errors.Wrapf(ErrPoolExists, "pool %s", pool.Symbol)
	}
	if err := pool.InterestRateConfig.Validate(); err != nil {
		return errors.Wrapf(err, "pool %s", pool.Symbol)
	}
	r.pools[pool.Symbol] = pool
	return nil
}

func (r *PoolRegistry) Get(symbol string) (*Pool, error) {
	p, ok := r.pools[symbol]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPool, "pool %s", symbol)
	}
	return p, nil
}

// Replace installs a committed copy of an existing pool.
func (r *PoolRegistry) Replace(pool *Pool) {
	r.pools[pool.Symbol] = pool
}

// List returns the pools sorted by asset symbol.
func (r *PoolRegistry) List() []*Pool {
	list := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list
}

func (r *PoolRegistry) Len() int {
	return len(r.pools)
}
