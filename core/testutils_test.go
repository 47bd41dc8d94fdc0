package core

import (
	"context"
	"fmt"
	"testing"
)

// fakeCustody is an in-memory CustodyAdapter with all-or-nothing batches.
type fakeCustody struct {
	balances  map[Asset]map[Identity]uint64
	transfers []Transfer
	failNext  error
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{balances: make(map[Asset]map[Identity]uint64)}
}

func (f *fakeCustody) credit(asset Asset, id Identity, amount uint64) {
	if f.balances[asset] == nil {
		f.balances[asset] = make(map[Identity]uint64)
	}
	f.balances[asset][id] += amount
}

func (f *fakeCustody) balance(asset Asset, id Identity) uint64 {
	return f.balances[asset][id]
}

func (f *fakeCustody) Transfer(_ context.Context, batch ...Transfer) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}

	type key struct {
		asset Asset
		id    Identity
	}
	debits := make(map[key]uint64)
	for _, t := range batch {
		if t.Authority != t.From {
			return ErrUnauthorizedTransfer
		}
		k := key{t.Asset, t.From}
		debits[k] += t.Amount
		if f.balance(t.Asset, t.From) < debits[k] {
			return fmt.Errorf("%s of %s: %w", t.From, t.Asset, ErrInsufficientFunds)
		}
	}
	for _, t := range batch {
		f.balances[t.Asset][t.From] -= t.Amount
		f.credit(t.Asset, t.To, t.Amount)
		f.transfers = append(f.transfers, t)
	}
	return nil
}

// fixedAddresser hands out predictable custody addresses.
type fixedAddresser struct {
	next int
}

func (a *fixedAddresser) Address(owner Identity, _ string) (Identity, error) {
	a.next++
	return Identity(fmt.Sprintf("custody-%s-%d", owner, a.next)), nil
}

const (
	testOwner    Identity = "owner"
	testAlice    Identity = "alice"
	testBob      Identity = "bob"
	testCarol    Identity = "carol"
	testTreasury Identity = "treasury"

	testItem     Asset = "NFT"
	testCurrency Asset = "USDC"
	testNative   Asset = "SOL"

	testStart uint64 = 1_000_000
	testFee   uint64 = 25_000_000
)

// testHarness wires the three components against one fake custody.
type testHarness struct {
	custody    *fakeCustody
	factory    *Factory
	bidding    *BiddingEngine
	settlement *SettlementEngine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	custody := newFakeCustody()
	custody.credit(testItem, testOwner, 10)
	for _, id := range []Identity{testAlice, testBob, testCarol} {
		custody.credit(testCurrency, id, 1_000_000)
		custody.credit(testNative, id, 1_000_000_000)
	}
	return &testHarness{
		custody:    custody,
		factory:    NewFactory(NewAllowlistGate(testOwner), custody, WithAddresser(&fixedAddresser{})),
		bidding:    NewBiddingEngine(custody),
		settlement: NewSettlementEngine(custody, Treasury{Identity: testTreasury, FeeAsset: testNative, Fee: testFee}),
	}
}

func defaultParams() CreateParams {
	return CreateParams{
		Owner:         testOwner,
		Title:         "Genesis drop",
		ItemAsset:     testItem,
		ItemAmount:    1,
		CurrencyAsset: testCurrency,
		Floor:         100,
		Increment:     10,
		StartTime:     testStart,
		EndTime:       testStart + 1000,
		BidderCap:     2,
	}
}

// createAuction creates an auction one second before it starts.
func (h *testHarness) createAuction(t *testing.T, p CreateParams) *AuctionRecord {
	t.Helper()
	rec, err := h.factory.Create(context.Background(), p, p.StartTime-1)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
	return rec
}

func (h *testHarness) bid(t *testing.T, rec *AuctionRecord, bidder Identity, amount, now uint64) {
	t.Helper()
	if _, err := h.bidding.PlaceBid(context.Background(), rec, bidder, amount, now); err != nil {
		t.Fatalf("bid %d by %s at %d: %v", amount, bidder, now, err)
	}
}

// checkInvariants verifies the record invariants that hold in every state
// reachable through bidding.
func checkInvariants(t *testing.T, rec *AuctionRecord) {
	t.Helper()
	if uint64(rec.Bids.Len()) > rec.BidderCap {
		t.Fatalf("bid book has %d entries, cap %d", rec.Bids.Len(), rec.BidderCap)
	}
	if rec.StartTime >= rec.EndTime {
		t.Fatalf("start %d not before end %d", rec.StartTime, rec.EndTime)
	}
	bidder, amount, ok := rec.Bids.Max()
	if !ok {
		if rec.HighestBid != 0 && !rec.Cancelled {
			t.Fatalf("empty book but highest bid %d", rec.HighestBid)
		}
		return
	}
	if rec.HighestBid != amount {
		t.Fatalf("highest bid %d, max of book %d", rec.HighestBid, amount)
	}
	if held, _ := rec.Bids.Get(rec.HighestBidder); held != amount {
		t.Fatalf("highest bidder %s holds %d, max %d (by %s)", rec.HighestBidder, held, amount, bidder)
	}
}
