package core

import (
	"context"
	"fmt"
)

// SettlementEngine runs the post-bidding paths: bid reclaims, item and
// winning-bid withdrawals, unsold item reclaims and cancellation.
type SettlementEngine struct {
	custody  CustodyAdapter
	treasury Treasury
}

// NewSettlementEngine returns an engine paying out of escrow through custody
// and charging reclaim fees to treasury.
func NewSettlementEngine(custody CustodyAdapter, treasury Treasury) *SettlementEngine {
	return &SettlementEngine{custody: custody, treasury: treasury}
}

// Treasury returns the fee configuration.
func (e *SettlementEngine) Treasury() Treasury {
	return e.treasury
}

// commit runs batch and replaces rec with next only if it succeeds.
func (e *SettlementEngine) commit(ctx context.Context, rec, next *AuctionRecord, batch ...Transfer) error {
	if len(batch) > 0 {
		if err := e.custody.Transfer(ctx, batch...); err != nil {
			return err
		}
	}
	*rec = *next
	return nil
}

// ReclaimBid returns caller's escrowed bid and removes their entry.
//
// The current leader may not reclaim unless the auction was cancelled. The
// caller also pays the treasury fee from their own holdings; refund and fee
// succeed or fail together. Returns the refunded amount.
func (e *SettlementEngine) ReclaimBid(ctx context.Context, rec *AuctionRecord, caller Identity) (uint64, error) {
	bid, ok := rec.Bids.Get(caller)
	if !ok {
		return 0, ErrNotBidder
	}
	if caller == rec.HighestBidder && !rec.Cancelled {
		return 0, ErrWinnerCannotWithdrawBid
	}

	next := rec.Clone()
	next.Bids.Remove(caller)
	if caller == next.HighestBidder {
		// Only reachable after cancellation.
		next.HighestBidder, next.HighestBid, _ = next.Bids.Max()
	}

	batch := []Transfer{{
		Asset:     rec.CurrencyAsset,
		From:      rec.Address,
		To:        caller,
		Amount:    bid,
		Authority: rec.Address,
	}}
	if e.treasury.Fee > 0 {
		batch = append(batch, Transfer{
			Asset:     e.treasury.FeeAsset,
			From:      caller,
			To:        e.treasury.Identity,
			Amount:    e.treasury.Fee,
			Authority: caller,
		})
	}

	if err := e.commit(ctx, rec, next, batch...); err != nil {
		return 0, fmt.Errorf("refund bid: %w", err)
	}
	return bid, nil
}

// WithdrawItem releases the escrowed item to the winner after close.
// Returns the amount released.
func (e *SettlementEngine) WithdrawItem(ctx context.Context, rec *AuctionRecord, caller Identity, now uint64) (uint64, error) {
	if !rec.HasLeader() {
		return 0, ErrNoWinningBid
	}
	if caller != rec.HighestBidder {
		return 0, ErrNotHighestBidder
	}
	if rec.Cancelled {
		return 0, ErrAuctionCancelled
	}
	if !rec.Ended(now) {
		return 0, ErrAuctionNotOver
	}
	if rec.ItemAmount == 0 {
		return 0, ErrItemAlreadyWithdrawn
	}

	amount := rec.ItemAmount
	next := rec.Clone()
	next.ItemAmount = 0

	err := e.commit(ctx, rec, next, Transfer{
		Asset:     rec.ItemAsset,
		From:      rec.Address,
		To:        caller,
		Amount:    amount,
		Authority: rec.Address,
	})
	if err != nil {
		return 0, fmt.Errorf("release item: %w", err)
	}
	return amount, nil
}

// WithdrawWinningBid pays the winning bid to the owner after close.
//
// The winner's entry is zeroed in place rather than removed, so the winner
// stays recorded and ReclaimBid keeps rejecting them. Returns the amount
// paid.
func (e *SettlementEngine) WithdrawWinningBid(ctx context.Context, rec *AuctionRecord, caller Identity, now uint64) (uint64, error) {
	if caller != rec.Owner {
		return 0, ErrNotOwner
	}
	if rec.Cancelled {
		return 0, ErrAuctionCancelled
	}
	if !rec.Ended(now) {
		return 0, ErrAuctionNotOver
	}

	winning, ok := rec.Bids.Get(rec.HighestBidder)
	if !rec.HasLeader() || !ok {
		return 0, ErrNoWinningBid
	}
	if winning == 0 {
		return 0, ErrAlreadyWithdrewBid
	}

	next := rec.Clone()
	next.Bids.Set(rec.HighestBidder, 0)

	err := e.commit(ctx, rec, next, Transfer{
		Asset:     rec.CurrencyAsset,
		From:      rec.Address,
		To:        rec.Owner,
		Amount:    winning,
		Authority: rec.Address,
	})
	if err != nil {
		return 0, fmt.Errorf("pay winning bid: %w", err)
	}
	return winning, nil
}

// ReclaimItem returns the item to the owner when the auction closed without
// bids or was cancelled. Returns the amount returned.
func (e *SettlementEngine) ReclaimItem(ctx context.Context, rec *AuctionRecord, caller Identity, now uint64) (uint64, error) {
	if caller != rec.Owner {
		return 0, ErrNotOwner
	}
	unsold := rec.HighestBid == 0 && rec.Ended(now)
	if !unsold && !rec.Cancelled {
		return 0, ErrAuctionNotOver
	}
	if rec.ItemAmount == 0 {
		return 0, ErrItemAlreadyWithdrawn
	}

	amount := rec.ItemAmount
	next := rec.Clone()
	next.ItemAmount = 0

	err := e.commit(ctx, rec, next, Transfer{
		Asset:     rec.ItemAsset,
		From:      rec.Address,
		To:        rec.Owner,
		Amount:    amount,
		Authority: rec.Address,
	})
	if err != nil {
		return 0, fmt.Errorf("return item: %w", err)
	}
	return amount, nil
}

// Cancel marks an open auction cancelled. There is no way back.
func (e *SettlementEngine) Cancel(_ context.Context, rec *AuctionRecord, caller Identity, now uint64) error {
	if caller != rec.Owner {
		return ErrNotOwner
	}
	if now >= rec.EndTime {
		return ErrCannotCancelAfterClose
	}
	rec.Cancelled = true
	return nil
}
