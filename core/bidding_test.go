package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestPlaceBid_AscendingScenario(t *testing.T) {
	h := newTestHarness(t)
	rec := h.createAuction(t, defaultParams())
	ctx := context.Background()

	res, err := h.bidding.PlaceBid(ctx, rec, testAlice, 150, testStart+1)
	assert.NoError(t, err)
	check.True(t, res.NewBidder)
	check.Equal(t, testAlice, rec.HighestBidder)
	check.Equal(t, uint64(150), rec.HighestBid)

	// 100 < 150 + 10
	_, err = h.bidding.PlaceBid(ctx, rec, testBob, 100, testStart+2)
	check.True(t, errors.Is(err, ErrInsufficientBid))
	check.Equal(t, 1, rec.Bids.Len())

	_, err = h.bidding.PlaceBid(ctx, rec, testBob, 200, testStart+2)
	assert.NoError(t, err)
	check.Equal(t, testBob, rec.HighestBidder)
	check.Equal(t, uint64(200), rec.HighestBid)
	check.Equal(t, []Identity{testAlice, testBob}, rec.Bids.Bidders())

	check.Equal(t, uint64(350), h.custody.balance(testCurrency, rec.Address))
	checkInvariants(t, rec)
}

func TestPlaceBid_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(rec *AuctionRecord)
		bidder Identity
		amount uint64
		now    uint64
		want   error
	}{
		{"cancelled wins over timing", func(r *AuctionRecord) { r.Cancelled = true }, testAlice, 150, testStart, ErrAuctionCancelled},
		{"at start", nil, testAlice, 150, testStart, ErrBidBeforeStart},
		{"before start", nil, testAlice, 150, testStart - 100, ErrBidBeforeStart},
		{"at end", nil, testAlice, 150, testStart + 1000, ErrBidAfterClose},
		{"after end", nil, testAlice, 150, testStart + 5000, ErrBidAfterClose},
		{"owner", nil, testOwner, 150, testStart + 1, ErrOwnerCannotBid},
		{"at floor", nil, testAlice, 100, testStart + 1, ErrUnderBidFloor},
		{"under floor", nil, testAlice, 5, testStart + 1, ErrUnderBidFloor},
		{"just over floor", nil, testAlice, 101, testStart + 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(t)
			rec := h.createAuction(t, defaultParams())
			if tt.setup != nil {
				tt.setup(rec)
			}

			_, err := h.bidding.PlaceBid(context.Background(), rec, tt.bidder, tt.amount, tt.now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			check.True(t, errors.Is(err, tt.want))
			check.Equal(t, 0, rec.Bids.Len())
			check.Equal(t, uint64(0), h.custody.balance(testCurrency, rec.Address))
		})
	}
}

func TestPlaceBid_CumulativeTopUp(t *testing.T) {
	h := newTestHarness(t)
	rec := h.createAuction(t, defaultParams())
	ctx := context.Background()

	h.bid(t, rec, testAlice, 150, testStart+1)
	h.bid(t, rec, testBob, 200, testStart+2)

	// Alice tops up by 60: 150 + 60 = 210 >= 200 + 10.
	res, err := h.bidding.PlaceBid(ctx, rec, testAlice, 60, testStart+3)
	assert.NoError(t, err)
	check.False(t, res.NewBidder)
	check.Equal(t, uint64(60), res.Amount)
	check.Equal(t, uint64(210), res.Total)

	got, _ := rec.Bids.Get(testAlice)
	check.Equal(t, uint64(210), got)
	check.Equal(t, testAlice, rec.HighestBidder)
	check.Equal(t, uint64(210), rec.HighestBid)

	// Only the increment moved.
	last := h.custody.transfers[len(h.custody.transfers)-1]
	check.Equal(t, Transfer{Asset: testCurrency, From: testAlice, To: rec.Address, Amount: 60, Authority: testAlice}, last)
	check.Equal(t, uint64(1_000_000-210), h.custody.balance(testCurrency, testAlice))

	// Insertion order is unchanged by updates.
	check.Equal(t, []Identity{testAlice, testBob}, rec.Bids.Bidders())
	checkInvariants(t, rec)
}

func TestPlaceBid_LeaderMustClearIncrement(t *testing.T) {
	h := newTestHarness(t)
	rec := h.createAuction(t, defaultParams())
	ctx := context.Background()

	h.bid(t, rec, testAlice, 150, testStart+1)

	_, err := h.bidding.PlaceBid(ctx, rec, testAlice, 9, testStart+2)
	check.True(t, errors.Is(err, ErrInsufficientBid))

	_, err = h.bidding.PlaceBid(ctx, rec, testAlice, 0, testStart+2)
	check.True(t, errors.Is(err, ErrInsufficientBid))

	h.bid(t, rec, testAlice, 10, testStart+2)
	check.Equal(t, uint64(160), rec.HighestBid)
}

func TestPlaceBid_AntiSnipe(t *testing.T) {
	h := newTestHarness(t)
	rec := h.createAuction(t, defaultParams())
	ctx := context.Background()
	end := testStart + 1000

	res, err := h.bidding.PlaceBid(ctx, rec, testAlice, 150, end-5)
	assert.NoError(t, err)
	check.True(t, res.Extended)
	check.Equal(t, end+300, rec.EndTime)
	check.Equal(t, end+300, res.EndTime)

	// Exactly 300 before the new deadline does not extend.
	res, err = h.bidding.PlaceBid(ctx, rec, testBob, 200, end)
	assert.NoError(t, err)
	check.False(t, res.Extended)
	check.Equal(t, end+300, rec.EndTime)

	// Extensions repeat.
	h.bid(t, rec, testAlice, 100, end+299)
	check.Equal(t, end+600, rec.EndTime)

	// Rejected bids never extend.
	_, err = h.bidding.PlaceBid(ctx, rec, testBob, 1, end+599)
	check.True(t, errors.Is(err, ErrInsufficientBid))
	check.Equal(t, end+600, rec.EndTime)
}

func TestPlaceBid_EarlyBidDoesNotExtend(t *testing.T) {
	h := newTestHarness(t)
	rec := h.createAuction(t, defaultParams())

	h.bid(t, rec, testAlice, 150, testStart+1)
	check.Equal(t, testStart+1000, rec.EndTime)
}

func TestPlaceBid_BidderCap(t *testing.T) {
	h := newTestHarness(t)
	p := defaultParams()
	p.BidderCap = 1
	rec := h.createAuction(t, p)
	ctx := context.Background()

	h.bid(t, rec, testAlice, 150, testStart+1)

	_, err := h.bidding.PlaceBid(ctx, rec, testBob, 500, testStart+2)
	check.True(t, errors.Is(err, ErrBidderCapReached))

	// Existing bidders can still top up.
	h.bid(t, rec, testAlice, 20, testStart+3)
	check.Equal(t, 1, rec.Bids.Len())
}

func TestPlaceBid_ZeroCapAcceptsNobody(t *testing.T) {
	h := newTestHarness(t)
	p := defaultParams()
	p.BidderCap = 0
	rec := h.createAuction(t, p)

	_, err := h.bidding.PlaceBid(context.Background(), rec, testAlice, 150, testStart+1)
	check.True(t, errors.Is(err, ErrBidderCapReached))
}

func TestPlaceBid_TransferFailureLeavesRecordUnchanged(t *testing.T) {
	h := newTestHarness(t)
	rec := h.createAuction(t, defaultParams())
	ctx := context.Background()
	end := testStart + 1000

	h.bid(t, rec, testAlice, 150, testStart+1)

	// Bob cannot cover 2,000,000 and the bid lands in the snipe window.
	_, err := h.bidding.PlaceBid(ctx, rec, testBob, 2_000_000, end-1)
	check.True(t, errors.Is(err, ErrInsufficientFunds))

	check.Equal(t, 1, rec.Bids.Len())
	_, known := rec.Bids.Get(testBob)
	check.False(t, known)
	check.Equal(t, testAlice, rec.HighestBidder)
	check.Equal(t, uint64(150), rec.HighestBid)
	check.Equal(t, end, rec.EndTime)

	h.custody.failNext = errors.New("backend down")
	_, err = h.bidding.PlaceBid(ctx, rec, testAlice, 50, testStart+2)
	check.NotNil(t, err)
	got, _ := rec.Bids.Get(testAlice)
	check.Equal(t, uint64(150), got)
	checkInvariants(t, rec)
}

func TestPlaceBid_Overflow(t *testing.T) {
	h := newTestHarness(t)
	h.custody.credit(testCurrency, testAlice, math.MaxUint64-1_000_000)
	rec := h.createAuction(t, defaultParams())
	ctx := context.Background()

	h.bid(t, rec, testAlice, math.MaxUint64-5, testStart+1)

	_, err := h.bidding.PlaceBid(ctx, rec, testAlice, 10, testStart+2)
	check.True(t, errors.Is(err, ErrAmountOverflow))

	// highest + increment overflows, so no bid can clear it.
	_, err = h.bidding.PlaceBid(ctx, rec, testBob, 500, testStart+2)
	check.True(t, errors.Is(err, ErrInsufficientBid))
}
