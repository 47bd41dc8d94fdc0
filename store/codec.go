package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/escrowhouse/core"
)

// snapshot is the persisted form of an auction record. Integer keys keep the
// encoding compact and stable across field renames.
type snapshot struct {
	Address         core.Identity   `cbor:"1,keyasint"`
	Owner           core.Identity   `cbor:"2,keyasint"`
	ItemAsset       core.Asset      `cbor:"3,keyasint"`
	ItemAmount      uint64          `cbor:"4,keyasint"`
	CurrencyAsset   core.Asset      `cbor:"5,keyasint"`
	StartTime       uint64          `cbor:"6,keyasint"`
	EndTime         uint64          `cbor:"7,keyasint"`
	Cancelled       bool            `cbor:"8,keyasint"`
	Title           string          `cbor:"9,keyasint"`
	BidderCap       uint64          `cbor:"10,keyasint"`
	Bids            []core.BidEntry `cbor:"11,keyasint"`
	HighestBidder   core.Identity   `cbor:"12,keyasint,omitempty"`
	HighestBid      uint64          `cbor:"13,keyasint"`
	BidFloor        uint64          `cbor:"14,keyasint"`
	MinBidIncrement uint64          `cbor:"15,keyasint"`
	CreatedAt       uint64          `cbor:"16,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor enc mode: %v", err))
	}
}

// EncodeRecord serializes rec, keeping the bid book in insertion order.
func EncodeRecord(rec *core.AuctionRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("encode nil record")
	}
	data, err := encMode.Marshal(snapshot{
		Address:         rec.Address,
		Owner:           rec.Owner,
		ItemAsset:       rec.ItemAsset,
		ItemAmount:      rec.ItemAmount,
		CurrencyAsset:   rec.CurrencyAsset,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		Cancelled:       rec.Cancelled,
		Title:           rec.Title,
		BidderCap:       rec.BidderCap,
		Bids:            rec.Bids.Entries(),
		HighestBidder:   rec.HighestBidder,
		HighestBid:      rec.HighestBid,
		BidFloor:        rec.BidFloor,
		MinBidIncrement: rec.MinBidIncrement,
		CreatedAt:       rec.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.Address, err)
	}
	return data, nil
}

// DecodeRecord restores a record written by EncodeRecord.
func DecodeRecord(data []byte) (*core.AuctionRecord, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if uint64(len(s.Bids)) > s.BidderCap {
		return nil, fmt.Errorf("record %s holds %d bids over cap %d", s.Address, len(s.Bids), s.BidderCap)
	}
	bids, err := core.BidBookFromEntries(s.Bids, len(s.Bids))
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", s.Address, err)
	}
	return &core.AuctionRecord{
		Address:         s.Address,
		Owner:           s.Owner,
		ItemAsset:       s.ItemAsset,
		ItemAmount:      s.ItemAmount,
		CurrencyAsset:   s.CurrencyAsset,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Cancelled:       s.Cancelled,
		Title:           s.Title,
		BidderCap:       s.BidderCap,
		Bids:            bids,
		HighestBidder:   s.HighestBidder,
		HighestBid:      s.HighestBid,
		BidFloor:        s.BidFloor,
		MinBidIncrement: s.MinBidIncrement,
		CreatedAt:       s.CreatedAt,
	}, nil
}
