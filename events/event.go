// Package events publishes auction lifecycle events.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudx-io/escrowhouse/core"
)

// Kind names what happened to an auction.
type Kind string

const (
	KindCreated            Kind = "created"
	KindBidPlaced          Kind = "bid_placed"
	KindBidReclaimed       Kind = "bid_reclaimed"
	KindItemWithdrawn      Kind = "item_withdrawn"
	KindWinningBidWithdrew Kind = "winning_bid_withdrawn"
	KindItemReclaimed      Kind = "item_reclaimed"
	KindCancelled          Kind = "cancelled"
)

// Event records one successful state change. Amount is the value that moved,
// if any; EndTime is the deadline after the change.
type Event struct {
	ID      string        `json:"id" cbor:"1,keyasint"`
	Kind    Kind          `json:"kind" cbor:"2,keyasint"`
	Auction core.Identity `json:"auction" cbor:"3,keyasint"`
	Actor   core.Identity `json:"actor" cbor:"4,keyasint"`
	Amount  uint64        `json:"amount,omitempty" cbor:"5,keyasint,omitempty"`
	EndTime uint64        `json:"end_time" cbor:"6,keyasint"`
	At      uint64        `json:"at" cbor:"7,keyasint"`
}

// New returns an event with a fresh ID.
func New(kind Kind, auction, actor core.Identity, amount, endTime, at uint64) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Auction: auction,
		Actor:   actor,
		Amount:  amount,
		EndTime: endTime,
		At:      at,
	}
}

// Publisher delivers events to subscribers. Publishing happens after the
// state change is committed, so a failed publish never rolls anything back.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of published events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}
