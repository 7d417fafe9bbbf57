package core

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ExposureGroup caps the aggregate value held across all positions in a set
// of correlated assets.
type ExposureGroup struct {
	Name            string          `json:"name"`
	CurrentExposure decimal.Decimal `json:"currentExposure"`
	MaxExposure     decimal.Decimal `json:"maxExposure"`
}

// ExposureLimiter is the single protocol-wide owner of exposure counters.
type ExposureLimiter struct {
	mu     sync.Mutex
	groups map[string]*ExposureGroup
}

func NewExposureLimiter(groups ...*ExposureGroup) *ExposureLimiter {
	l := &ExposureLimiter{groups: make(map[string]*ExposureGroup, len(groups))}
	for _, g := range groups {
		l.groups[g.Name] = &ExposureGroup{Name: g.Name, CurrentExposure: g.CurrentExposure, MaxExposure: g.MaxExposure}
	}
	return l
}

func (l *ExposureLimiter) SetGroup(name string, maxExposure decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.groups[name]; ok {
		g.MaxExposure = maxExposure
		return
	}
	l.groups[name] = &ExposureGroup{Name: name, CurrentExposure: decimal.Zero, MaxExposure: maxExposure}
}

func (l *ExposureLimiter) Get(name string) (ExposureGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[name]
	if !ok {
		return ExposureGroup{}, errors.Wrapf(ErrUnknownGroup, "group %s", name)
	}
	return *g, nil
}

// Increase adds delta to a group, rejecting the change if it would exceed the cap.
func (l *ExposureLimiter) Increase(name string, delta decimal.Decimal) error {
	if !delta.IsPositive() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[name]
	if !ok {
		return errors.Wrapf(ErrUnknownGroup, "group %s", name)
	}
	next := g.CurrentExposure.Add(delta)
	if next.GreaterThan(g.MaxExposure) {
		return errors.Wrapf(ErrMaxExposureBreached, "group %s exposure %s + %s > %s", name, g.CurrentExposure, delta, g.MaxExposure)
	}
	g.CurrentExposure = next
	return nil
}

// Decrease subtracts delta, clamping at zero.
func (l *ExposureLimiter) Decrease(name string, delta decimal.Decimal) error {
	if !delta.IsPositive() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.groups[name]
	if !ok {
		return errors.Wrapf(ErrUnknownGroup, "group %s", name)
	}
	g.CurrentExposure = decimal.Max(decimal.Zero, g.CurrentExposure.Sub(delta))
	return nil
}

// Snapshot copies every group, sorted by name.
func (l *ExposureLimiter) Snapshot() []*ExposureGroup {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := make([]*ExposureGroup, 0, len(l.groups))
	for _, g := range l.groups {
		list = append(list, &ExposureGroup{Name: g.Name, CurrentExposure: g.CurrentExposure, MaxExposure: g.MaxExposure})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Restore replaces all counters with a snapshot.
func (l *ExposureLimiter) Restore(snapshot []*ExposureGroup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.groups = make(map[string]*ExposureGroup, len(snapshot))
	for _, g := range snapshot {
		l.groups[g.Name] = &ExposureGroup{Name: g.Name, CurrentExposure: g.CurrentExposure, MaxExposure: g.MaxExposure}
	}
}
