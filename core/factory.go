package core

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// CreateParams describes a new auction.
type CreateParams struct {
	Owner         Identity
	Title         string
	ItemAsset     Asset
	ItemAmount    uint64
	CurrencyAsset Asset
	Floor         uint64
	Increment     uint64
	StartTime     uint64
	EndTime       uint64
	BidderCap     uint64
}

// Factory validates and creates auctions, moving the item into custody.
type Factory struct {
	gate      AuthorizationGate
	custody   CustodyAdapter
	addresser CustodyAddresser
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithAddresser overrides how custody addresses are derived.
func WithAddresser(a CustodyAddresser) FactoryOption {
	return func(f *Factory) {
		if a != nil {
			f.addresser = a
		}
	}
}

// NewFactory returns a Factory that authorizes creators with gate and moves
// items through custody.
func NewFactory(gate AuthorizationGate, custody CustodyAdapter, opts ...FactoryOption) *Factory {
	f := &Factory{
		gate:      gate,
		custody:   custody,
		addresser: defaultAddresser,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validate runs the creation checks in order. The first failure wins.
func (f *Factory) Validate(p CreateParams, now uint64) error {
	if f.gate == nil || !f.gate.IsAdmin(p.Owner) {
		return ErrInvalidAdmin
	}
	if utf8.RuneCountInString(p.Title) > MaxTitleLength {
		return ErrTitleOverflow
	}
	if p.Increment == 0 {
		return ErrInvalidIncrement
	}
	if p.ItemAmount == 0 {
		return ErrInvalidTokenAmount
	}
	if p.StartTime >= p.EndTime {
		return ErrInvalidStartTime
	}
	if now >= p.StartTime {
		return ErrInvalidStartTime
	}
	if now >= p.EndTime {
		return ErrInvalidEndTime
	}
	if p.Floor == 0 {
		return ErrInvalidBidFloor
	}
	return nil
}

// Create validates p, derives the custody address and escrows the item.
// No record is returned unless the item transfer succeeded.
func (f *Factory) Create(ctx context.Context, p CreateParams, now uint64) (*AuctionRecord, error) {
	if err := f.Validate(p, now); err != nil {
		return nil, err
	}

	addr, err := f.addresser.Address(p.Owner, p.Title)
	if err != nil {
		return nil, fmt.Errorf("derive custody address: %w", err)
	}

	rec := &AuctionRecord{
		Address:         addr,
		Owner:           p.Owner,
		ItemAsset:       p.ItemAsset,
		ItemAmount:      p.ItemAmount,
		CurrencyAsset:   p.CurrencyAsset,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		Title:           p.Title,
		BidderCap:       p.BidderCap,
		Bids:            NewBidBook(reserveFor(p.BidderCap)),
		BidFloor:        p.Floor,
		MinBidIncrement: p.Increment,
		CreatedAt:       now,
	}

	err = f.custody.Transfer(ctx, Transfer{
		Asset:     p.ItemAsset,
		From:      p.Owner,
		To:        addr,
		Amount:    p.ItemAmount,
		Authority: p.Owner,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow item: %w", err)
	}

	return rec, nil
}

// maxReserve bounds up-front allocation for absurd caps; the cap itself is
// still enforced at bid time.
const maxReserve = 1024

func reserveFor(bidderCap uint64) int {
	if bidderCap > maxReserve {
		return maxReserve
	}
	return int(bidderCap)
}
