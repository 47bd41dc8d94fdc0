package api

import (
	"encoding/json"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowhouse/core"
)

func testRecord(t *testing.T) *core.AuctionRecord {
	t.Helper()
	bids, err := core.BidBookFromEntries([]core.BidEntry{
		{Bidder: "alice", Amount: 150_000_000},
		{Bidder: "bob", Amount: 200_000_000},
	}, 2)
	assert.NoError(t, err)
	return &core.AuctionRecord{
		Address:         "auction-1",
		Owner:           "owner",
		ItemAsset:       "NFT",
		ItemAmount:      1,
		CurrencyAsset:   "USDC",
		StartTime:       1000,
		EndTime:         2000,
		Title:           "Genesis drop",
		BidderCap:       2,
		Bids:            bids,
		HighestBidder:   "bob",
		HighestBid:      200_000_000,
		BidFloor:        100_000_000,
		MinBidIncrement: 10_000_000,
		CreatedAt:       990,
	}
}

func TestNewAuctionInfo(t *testing.T) {
	codec := NewAmountCodec(map[core.Asset]int32{"USDC": 6})
	info := NewAuctionInfo(testRecord(t), codec, 1500)

	check.Equal(t, StatusOpen, info.Status)
	check.Equal(t, "1", info.ItemAmount)
	check.Equal(t, "200.000000", info.HighestBid)
	check.Equal(t, "10.000000", info.MinBidIncrement)
	check.Equal(t, []BidInfo{
		{Bidder: "alice", Amount: "150.000000"},
		{Bidder: "bob", Amount: "200.000000"},
	}, info.Bids)

	data, err := json.Marshal(info)
	assert.NoError(t, err)
	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(data, &decoded))
	check.Equal(t, "bob", decoded["highest_bidder"])
	check.Equal(t, "open", decoded["status"])
}

func TestStatus(t *testing.T) {
	rec := testRecord(t)
	check.Equal(t, StatusPending, Status(rec, 999))
	check.Equal(t, StatusPending, Status(rec, 1000))
	check.Equal(t, StatusOpen, Status(rec, 1001))
	check.Equal(t, StatusClosed, Status(rec, 2000))

	rec.Cancelled = true
	check.Equal(t, StatusCancelled, Status(rec, 1500))
}

func TestEncodeReceipt(t *testing.T) {
	check.Equal(t, "", EncodeReceipt(nil))
	check.Equal(t, "AQI=", EncodeReceipt([]byte{1, 2}))
}
