package core

import (
	"context"
	"fmt"
	"math/bits"
)

// BidResult describes an accepted bid.
type BidResult struct {
	Bidder    Identity
	Amount    uint64 // top-up moved into escrow by this call
	Total     uint64 // cumulative bid after this call
	NewBidder bool
	EndTime   uint64
	Extended  bool
}

// BiddingEngine accepts or rejects bids on open auctions.
type BiddingEngine struct {
	custody CustodyAdapter
}

// NewBiddingEngine returns an engine that escrows bids through custody.
func NewBiddingEngine(custody CustodyAdapter) *BiddingEngine {
	return &BiddingEngine{custody: custody}
}

// PlaceBid adds amount to bidder's cumulative bid on rec.
//
// Bids are cumulative: an existing bidder tops up rather than replacing
// their bid, and only the top-up is transferred. rec is left untouched
// unless both validation and the escrow transfer succeed.
func (e *BiddingEngine) PlaceBid(ctx context.Context, rec *AuctionRecord, bidder Identity, amount, now uint64) (*BidResult, error) {
	if rec.Cancelled {
		return nil, ErrAuctionCancelled
	}
	if now <= rec.StartTime {
		return nil, ErrBidBeforeStart
	}
	if now >= rec.EndTime {
		return nil, ErrBidAfterClose
	}
	if bidder == rec.Owner {
		return nil, ErrOwnerCannotBid
	}

	total := amount
	previous, known := rec.Bids.Get(bidder)
	if !known {
		if uint64(rec.Bids.Len()) >= rec.BidderCap {
			return nil, ErrBidderCapReached
		}
	} else {
		sum, carry := bits.Add64(amount, previous, 0)
		if carry != 0 {
			return nil, ErrAmountOverflow
		}
		total = sum
	}

	if total <= rec.BidFloor {
		return nil, ErrUnderBidFloor
	}
	// A required amount that does not fit in uint64 can never be met.
	required, carry := bits.Add64(rec.HighestBid, rec.MinBidIncrement, 0)
	if carry != 0 || total < required {
		return nil, ErrInsufficientBid
	}

	next := rec.Clone()
	next.Bids.Set(bidder, total)
	next.HighestBidder = bidder
	next.HighestBid = total

	extended := false
	if next.EndTime-now < AntiSnipeWindow {
		next.EndTime += AntiSnipeExtension
		extended = true
	}

	err := e.custody.Transfer(ctx, Transfer{
		Asset:     rec.CurrencyAsset,
		From:      bidder,
		To:        rec.Address,
		Amount:    amount,
		Authority: bidder,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow bid: %w", err)
	}

	*rec = *next
	return &BidResult{
		Bidder:    bidder,
		Amount:    amount,
		Total:     total,
		NewBidder: !known,
		EndTime:   rec.EndTime,
		Extended:  extended,
	}, nil
}
