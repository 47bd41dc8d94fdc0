// Package ledger provides custody backends that move escrowed holdings
// between identities.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudx-io/escrowhouse/core"
)

// Memory is an in-process ledger of holdings keyed by asset and identity.
type Memory struct {
	mu       sync.Mutex
	holdings map[core.Asset]map[core.Identity]uint64
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{holdings: make(map[core.Asset]map[core.Identity]uint64)}
}

// Credit adds amount of asset to id, as a deposit from outside the system.
func (m *Memory) Credit(_ context.Context, asset core.Asset, id core.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.holdings[asset][id]
	if held+amount < held {
		return fmt.Errorf("credit %s to %s: %w", asset, id, core.ErrAmountOverflow)
	}
	m.account(asset)[id] = held + amount
	return nil
}

// Balance returns what id holds of asset.
func (m *Memory) Balance(_ context.Context, asset core.Asset, id core.Identity) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[asset][id], nil
}

// Transfer applies batch atomically. Every leg must be authorized by its
// source, and every source must cover its legs in total.
func (m *Memory) Transfer(_ context.Context, batch ...core.Transfer) error {
	if err := checkAuthority(batch); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	debits := make(map[holding]uint64, len(batch))
	credits := make(map[holding]uint64, len(batch))
	for _, t := range batch {
		from := holding{t.Asset, t.From}
		to := holding{t.Asset, t.To}
		debits[from] += t.Amount
		if debits[from] < t.Amount || m.holdings[t.Asset][t.From] < debits[from] {
			return fmt.Errorf("%s holds too little %s: %w", t.From, t.Asset, core.ErrInsufficientFunds)
		}
		credits[to] += t.Amount
	}
	for h, amount := range credits {
		if m.holdings[h.asset][h.id]-debits[h]+amount < amount {
			return fmt.Errorf("%s balance of %s: %w", h.id, h.asset, core.ErrAmountOverflow)
		}
	}

	for h, amount := range debits {
		m.account(h.asset)[h.id] -= amount
	}
	for h, amount := range credits {
		m.account(h.asset)[h.id] += amount
	}
	return nil
}

func (m *Memory) account(asset core.Asset) map[core.Identity]uint64 {
	acct, ok := m.holdings[asset]
	if !ok {
		acct = make(map[core.Identity]uint64)
		m.holdings[asset] = acct
	}
	return acct
}

type holding struct {
	asset core.Asset
	id    core.Identity
}

func checkAuthority(batch []core.Transfer) error {
	for _, t := range batch {
		if t.Authority != t.From {
			return fmt.Errorf("%s moving funds of %s: %w", t.Authority, t.From, core.ErrUnauthorizedTransfer)
		}
	}
	return nil
}
