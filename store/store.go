// Package store persists auction records.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudx-io/escrowhouse/core"
)

// ErrNotFound is returned when no auction exists at an address.
var ErrNotFound = errors.New("auction not found")

// Store loads and saves auction records by custody address. List returns
// records in creation order.
type Store interface {
	Get(ctx context.Context, address core.Identity) (*core.AuctionRecord, error)
	Put(ctx context.Context, rec *core.AuctionRecord) error
	List(ctx context.Context) ([]*core.AuctionRecord, error)
}

// Memory is a Store backed by a map. Records are cloned on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[core.Identity]*core.AuctionRecord
	order   []core.Identity
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[core.Identity]*core.AuctionRecord)}
}

func (m *Memory) Get(_ context.Context, address core.Identity) (*core.AuctionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[address]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Put(_ context.Context, rec *core.AuctionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Address]; !ok {
		m.order = append(m.order, rec.Address)
	}
	m.records[rec.Address] = rec.Clone()
	return nil
}

func (m *Memory) List(_ context.Context) ([]*core.AuctionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.AuctionRecord, 0, len(m.order))
	for _, addr := range m.order {
		out = append(out, m.records[addr].Clone())
	}
	return out, nil
}
