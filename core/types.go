package core

// Identity names a holder of assets: an owner, a bidder, a treasury or an
// auction's own custody address.
type Identity string

// Asset names a fungible asset. Items and currencies are both assets.
type Asset string

// MaxTitleLength is the maximum number of Unicode code points in a title.
const MaxTitleLength = 50

const (
	// AntiSnipeWindow is how close to the deadline (in seconds) a qualifying
	// bid has to land to push the deadline out.
	AntiSnipeWindow uint64 = 300

	// AntiSnipeExtension is how far (in seconds) the deadline moves per
	// qualifying bid inside the window.
	AntiSnipeExtension uint64 = 300
)

// AuctionRecord is the persistent state of one auction. It is owned by the
// auction's custody address, not by the owner or any bidder.
type AuctionRecord struct {
	// Address is the auction's custody identity. Escrowed item and currency
	// are held here.
	Address Identity `json:"address"`

	Owner Identity `json:"owner"`

	ItemAsset Asset `json:"item_asset"`
	// ItemAmount is the escrowed item quantity. Once a settlement path zeroes
	// it, it stays zero.
	ItemAmount uint64 `json:"item_amount"`

	CurrencyAsset Asset `json:"currency_asset"`

	StartTime uint64 `json:"start_time"`
	EndTime   uint64 `json:"end_time"`
	Cancelled bool   `json:"cancelled"`

	Title string `json:"title"`

	BidderCap uint64   `json:"bidder_cap"`
	Bids      *BidBook `json:"bids"`

	HighestBidder Identity `json:"highest_bidder,omitempty"`
	HighestBid    uint64   `json:"highest_bid"`

	BidFloor        uint64 `json:"bid_floor"`
	MinBidIncrement uint64 `json:"min_bid_increment"`

	CreatedAt uint64 `json:"created_at"`
}

// Clone returns a deep copy of the record. Engines mutate clones and commit
// them only after the custody batch succeeds.
func (r *AuctionRecord) Clone() *AuctionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Bids = r.Bids.Clone()
	return &c
}

// HasLeader reports whether any bid has ever been accepted and not since
// withdrawn by a cancelled leader.
func (r *AuctionRecord) HasLeader() bool {
	return r.HighestBidder != ""
}

// Ended reports whether the deadline has passed at now.
func (r *AuctionRecord) Ended(now uint64) bool {
	return now > r.EndTime
}

// Transfer is one leg of a custody movement. Authority is the identity on
// whose behalf the leg is executed: the auction address when paying out of
// escrow, the caller when paying in.
type Transfer struct {
	Asset     Asset    `json:"asset"`
	From      Identity `json:"from"`
	To        Identity `json:"to"`
	Amount    uint64   `json:"amount"`
	Authority Identity `json:"authority"`
}

// Treasury receives the fixed fee charged when a bidder reclaims a bid.
type Treasury struct {
	Identity Identity
	FeeAsset Asset
	Fee      uint64
}
