package core

import (
	"encoding/json"
	"fmt"
)

// BidEntry is one bidder's cumulative escrowed amount.
type BidEntry struct {
	Bidder Identity `json:"bidder" cbor:"1,keyasint"`
	Amount uint64   `json:"amount" cbor:"2,keyasint"`
}

// BidBook maps bidders to cumulative bids and remembers insertion order.
// Lookups are O(1); removal preserves the relative order of the rest.
type BidBook struct {
	order []Identity
	index map[Identity]int
	bids  map[Identity]uint64
}

// NewBidBook returns an empty book with room for capacity entries.
func NewBidBook(capacity int) *BidBook {
	if capacity < 0 {
		capacity = 0
	}
	return &BidBook{
		order: make([]Identity, 0, capacity),
		index: make(map[Identity]int, capacity),
		bids:  make(map[Identity]uint64, capacity),
	}
}

// Len returns the number of distinct bidders.
func (b *BidBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.order)
}

// Get returns the recorded amount for bidder.
func (b *BidBook) Get(bidder Identity) (uint64, bool) {
	if b == nil {
		return 0, false
	}
	amount, ok := b.bids[bidder]
	return amount, ok
}

// Set records amount for bidder, appending bidder if new.
func (b *BidBook) Set(bidder Identity, amount uint64) {
	if _, ok := b.index[bidder]; !ok {
		b.index[bidder] = len(b.order)
		b.order = append(b.order, bidder)
	}
	b.bids[bidder] = amount
}

// Remove deletes bidder's entry and reports whether it existed.
func (b *BidBook) Remove(bidder Identity) bool {
	i, ok := b.index[bidder]
	if !ok {
		return false
	}
	b.order = append(b.order[:i], b.order[i+1:]...)
	delete(b.index, bidder)
	delete(b.bids, bidder)
	for j := i; j < len(b.order); j++ {
		b.index[b.order[j]] = j
	}
	return true
}

// Bidders returns bidders in insertion order.
func (b *BidBook) Bidders() []Identity {
	if b == nil {
		return nil
	}
	out := make([]Identity, len(b.order))
	copy(out, b.order)
	return out
}

// Entries returns all entries in insertion order.
func (b *BidBook) Entries() []BidEntry {
	if b == nil {
		return nil
	}
	out := make([]BidEntry, 0, len(b.order))
	for _, bidder := range b.order {
		out = append(out, BidEntry{Bidder: bidder, Amount: b.bids[bidder]})
	}
	return out
}

// Max returns the first bidder in insertion order holding the largest amount.
// ok is false for an empty book.
func (b *BidBook) Max() (bidder Identity, amount uint64, ok bool) {
	if b == nil {
		return "", 0, false
	}
	for _, id := range b.order {
		if v := b.bids[id]; !ok || v > amount {
			bidder, amount, ok = id, v, true
		}
	}
	return bidder, amount, ok
}

// Clone returns a deep copy with the same spare capacity.
func (b *BidBook) Clone() *BidBook {
	if b == nil {
		return nil
	}
	c := NewBidBook(cap(b.order))
	for _, id := range b.order {
		c.Set(id, b.bids[id])
	}
	return c
}

// BidBookFromEntries rebuilds a book from entries in order. Duplicate
// bidders are rejected.
func BidBookFromEntries(entries []BidEntry, capacity int) (*BidBook, error) {
	if capacity < len(entries) {
		capacity = len(entries)
	}
	b := NewBidBook(capacity)
	for _, e := range entries {
		if _, dup := b.bids[e.Bidder]; dup {
			return nil, fmt.Errorf("duplicate bidder %q in bid book", e.Bidder)
		}
		b.Set(e.Bidder, e.Amount)
	}
	return b, nil
}

// MarshalJSON encodes the book as an ordered entry list.
func (b *BidBook) MarshalJSON() ([]byte, error) {
	entries := b.Entries()
	if entries == nil {
		entries = []BidEntry{}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes an ordered entry list.
func (b *BidBook) UnmarshalJSON(data []byte) error {
	var entries []BidEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	decoded, err := BidBookFromEntries(entries, 0)
	if err != nil {
		return err
	}
	*b = *decoded
	return nil
}
