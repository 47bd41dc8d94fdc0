// Package api defines the JSON messages exchanged with the auction house over
// vsock and HTTP.
package api

import (
	"encoding/base64"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/events"
)

// Request types carried in the "type" field.
const (
	TypePing               = "ping"
	TypeKeyRequest         = "key_request"
	TypeCreateAuction      = "create_auction"
	TypePlaceBid           = "place_bid"
	TypeReclaimBid         = "reclaim_bid"
	TypeWithdrawItem       = "withdraw_item"
	TypeWithdrawWinningBid = "withdraw_winning_bid"
	TypeReclaimItem        = "reclaim_item"
	TypeCancelAuction      = "cancel_auction"
	TypeGetAuction         = "get_auction"
	TypeListAuctions       = "list_auctions"
	TypeGetBalance         = "get_balance"
	TypeDeposit            = "deposit"
)

// Response types.
const (
	TypePong        = "pong"
	TypeKeyResponse = "key_response"
	TypeOperation   = "operation_response"
	TypeAuction     = "auction"
	TypeAuctions    = "auctions"
	TypeBalance     = "balance"
	TypeError       = "error"
)

// Status values reported for an auction at the time of the response.
const (
	StatusPending   = "pending"
	StatusOpen      = "open"
	StatusClosed    = "closed"
	StatusCancelled = "cancelled"
)

// CreateAuctionRequest asks the house to escrow an item and open an auction.
// Amounts are decimal strings in display units of their asset.
type CreateAuctionRequest struct {
	Type          string `json:"type"`
	Owner         string `json:"owner"`
	Title         string `json:"title"`
	ItemAsset     string `json:"item_asset"`
	ItemAmount    string `json:"item_amount"`
	CurrencyAsset string `json:"currency_asset"`
	Floor         string `json:"floor"`
	Increment     string `json:"increment"`
	StartTime     uint64 `json:"start_time"`
	EndTime       uint64 `json:"end_time"`
	BidderCap     uint64 `json:"bidder_cap"`
}

// BidRequest adds Amount to the bidder's cumulative bid.
type BidRequest struct {
	Type    string `json:"type"`
	Auction string `json:"auction"`
	Bidder  string `json:"bidder"`
	Amount  string `json:"amount"`
}

// ActionRequest covers the operations that only need a caller: reclaiming a
// bid, withdrawing the item or winning bid, reclaiming the item and
// cancelling.
type ActionRequest struct {
	Type    string `json:"type"`
	Auction string `json:"auction"`
	Caller  string `json:"caller"`
}

// GetAuctionRequest fetches one auction.
type GetAuctionRequest struct {
	Type    string `json:"type"`
	Auction string `json:"auction"`
}

// ListAuctionsRequest lists auctions, optionally only those of Owner.
type ListAuctionsRequest struct {
	Type  string `json:"type"`
	Owner string `json:"owner,omitempty"`
}

// BalanceRequest asks what Identity holds of Asset.
type BalanceRequest struct {
	Type     string `json:"type"`
	Asset    string `json:"asset"`
	Identity string `json:"identity"`
}

// DepositRequest credits Amount of Asset to Identity. Only honoured when the
// house runs with deposits enabled, which is meant for development ledgers.
type DepositRequest struct {
	Type     string `json:"type"`
	Asset    string `json:"asset"`
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
}

// BidInfo is one entry of the bid book.
type BidInfo struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

// AuctionInfo is the client view of an auction record.
type AuctionInfo struct {
	Address         string    `json:"address"`
	Owner           string    `json:"owner"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	ItemAsset       string    `json:"item_asset"`
	ItemAmount      string    `json:"item_amount"`
	CurrencyAsset   string    `json:"currency_asset"`
	StartTime       uint64    `json:"start_time"`
	EndTime         uint64    `json:"end_time"`
	Cancelled       bool      `json:"cancelled"`
	BidderCap       uint64    `json:"bidder_cap"`
	Bids            []BidInfo `json:"bids"`
	HighestBidder   string    `json:"highest_bidder,omitempty"`
	HighestBid      string    `json:"highest_bid"`
	BidFloor        string    `json:"bid_floor"`
	MinBidIncrement string    `json:"min_bid_increment"`
	CreatedAt       uint64    `json:"created_at"`
}

// NewAuctionInfo renders rec for clients as of now.
func NewAuctionInfo(rec *core.AuctionRecord, amounts *AmountCodec, now uint64) *AuctionInfo {
	entries := rec.Bids.Entries()
	bids := make([]BidInfo, len(entries))
	for i, e := range entries {
		bids[i] = BidInfo{Bidder: string(e.Bidder), Amount: amounts.Format(rec.CurrencyAsset, e.Amount)}
	}
	return &AuctionInfo{
		Address:         string(rec.Address),
		Owner:           string(rec.Owner),
		Title:           rec.Title,
		Status:          Status(rec, now),
		ItemAsset:       string(rec.ItemAsset),
		ItemAmount:      amounts.Format(rec.ItemAsset, rec.ItemAmount),
		CurrencyAsset:   string(rec.CurrencyAsset),
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		Cancelled:       rec.Cancelled,
		BidderCap:       rec.BidderCap,
		Bids:            bids,
		HighestBidder:   string(rec.HighestBidder),
		HighestBid:      amounts.Format(rec.CurrencyAsset, rec.HighestBid),
		BidFloor:        amounts.Format(rec.CurrencyAsset, rec.BidFloor),
		MinBidIncrement: amounts.Format(rec.CurrencyAsset, rec.MinBidIncrement),
		CreatedAt:       rec.CreatedAt,
	}
}

// Status classifies rec at now. Bids are accepted only while open.
func Status(rec *core.AuctionRecord, now uint64) string {
	switch {
	case rec.Cancelled:
		return StatusCancelled
	case now <= rec.StartTime:
		return StatusPending
	case now < rec.EndTime:
		return StatusOpen
	default:
		return StatusClosed
	}
}

// OperationResponse reports a successful mutating operation.
type OperationResponse struct {
	Type    string        `json:"type"`
	Success bool          `json:"success"`
	Auction *AuctionInfo  `json:"auction"`
	Event   *events.Event `json:"event"`
	// Amount is Event.Amount in display units of the asset that moved.
	Amount string `json:"amount,omitempty"`
	// Receipt is the base64 COSE_Sign1 receipt over Event.
	Receipt string `json:"receipt,omitempty"`
}

// EncodeReceipt renders a receipt for the wire.
func EncodeReceipt(r []byte) string {
	if len(r) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(r)
}

// AuctionResponse answers get_auction.
type AuctionResponse struct {
	Type    string       `json:"type"`
	Auction *AuctionInfo `json:"auction"`
}

// AuctionsResponse answers list_auctions.
type AuctionsResponse struct {
	Type     string         `json:"type"`
	Auctions []*AuctionInfo `json:"auctions"`
}

// BalanceResponse answers get_balance and deposit.
type BalanceResponse struct {
	Type     string `json:"type"`
	Asset    string `json:"asset"`
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
}

// KeyResponse carries the receipt verification key and, inside an enclave,
// the attestation document binding it to the enclave image.
type KeyResponse struct {
	Type           string `json:"type"`
	KeyAlgorithm   string `json:"key_algorithm"`
	PublicKey      string `json:"public_key"`                // PEM format
	KeyFingerprint string `json:"key_fingerprint"`           // hex SHA-256 of the DER key
	KeyAttestation string `json:"key_attestation,omitempty"` // base64 COSE_Sign1
}

// PingResponse answers ping.
type PingResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp uint64 `json:"timestamp"`
}

// ErrorResponse reports a failed request. Code is a stable machine-readable
// identifier such as BID_AFTER_CLOSE.
type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
