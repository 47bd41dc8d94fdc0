package core

import "errors"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown is returned by CodeOf for errors outside this package.
	CodeUnknown Code = "UNKNOWN"

	// Creation errors
	CodeInvalidAdmin       Code = "INVALID_ADMIN"
	CodeTitleOverflow      Code = "TITLE_OVERFLOW"
	CodeInvalidIncrement   Code = "INVALID_INCREMENT"
	CodeInvalidTokenAmount Code = "INVALID_TOKEN_AMOUNT"
	CodeInvalidStartTime   Code = "INVALID_START_TIME"
	CodeInvalidEndTime     Code = "INVALID_END_TIME"
	CodeInvalidBidFloor    Code = "INVALID_BID_FLOOR"

	// Bid errors
	CodeUnderBidFloor    Code = "UNDER_BID_FLOOR"
	CodeInsufficientBid  Code = "INSUFFICIENT_BID"
	CodeAuctionCancelled Code = "AUCTION_CANCELLED"
	CodeBidBeforeStart   Code = "BID_BEFORE_START"
	CodeBidAfterClose    Code = "BID_AFTER_CLOSE"
	CodeBidderCapReached Code = "BIDDER_CAP_REACHED"
	CodeOwnerCannotBid   Code = "OWNER_CANNOT_BID"
	CodeAmountOverflow   Code = "AMOUNT_OVERFLOW"

	// Settlement errors
	CodeAuctionNotOver          Code = "AUCTION_NOT_OVER"
	CodeNotBidder               Code = "NOT_BIDDER"
	CodeNoWinningBid            Code = "NO_WINNING_BID"
	CodeWinnerCannotWithdrawBid Code = "WINNER_CANNOT_WITHDRAW_BID"
	CodeAlreadyWithdrewBid      Code = "ALREADY_WITHDREW_BID"
	CodeItemAlreadyWithdrawn    Code = "ITEM_ALREADY_WITHDRAWN"
	CodeNotOwner                Code = "NOT_OWNER"
	CodeNotHighestBidder        Code = "NOT_HIGHEST_BIDDER"

	// Cancellation errors
	CodeCannotCancelAfterClose Code = "CANNOT_CANCEL_AFTER_CLOSE"

	// Custody errors
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeUnauthorizedTransfer Code = "UNAUTHORIZED_TRANSFER"

	// Sealed-bid codes. Reserved: no operation in this package returns them.
	CodeInvalidRevealPeriod      Code = "INVALID_REVEAL_PERIOD"
	CodeDuplicateSealedBid       Code = "DUPLICATE_SEALED_BID"
	CodeMustSendCurrency         Code = "MUST_SEND_CURRENCY"
	CodeRevealPeriodOver         Code = "REVEAL_PERIOD_OVER"
	CodeRevealPeriodNotOver      Code = "REVEAL_PERIOD_NOT_OVER"
	CodeHashMismatch             Code = "HASH_MISMATCH"
	CodeInsufficientEscrow       Code = "INSUFFICIENT_ESCROW"
	CodeCannotCancelRevealPeriod Code = "CANNOT_CANCEL_REVEAL_PERIOD"
)

// Error is a domain error carrying a stable code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

var (
	ErrInvalidAdmin       = newError(CodeInvalidAdmin, "creator is not an admin")
	ErrTitleOverflow      = newError(CodeTitleOverflow, "title must be at most 50 characters")
	ErrInvalidIncrement   = newError(CodeInvalidIncrement, "minimum bid increment must be greater than 0")
	ErrInvalidTokenAmount = newError(CodeInvalidTokenAmount, "item amount must be greater than 0")
	ErrInvalidStartTime   = newError(CodeInvalidStartTime, "start time must be in the future and before end time")
	ErrInvalidEndTime     = newError(CodeInvalidEndTime, "end time must be in the future")
	ErrInvalidBidFloor    = newError(CodeInvalidBidFloor, "bid floor must be at least 1")

	ErrUnderBidFloor    = newError(CodeUnderBidFloor, "bid must be higher than the floor")
	ErrInsufficientBid  = newError(CodeInsufficientBid, "bid must be at least the minimum increment above the highest bid")
	ErrAuctionCancelled = newError(CodeAuctionCancelled, "auction is cancelled; only bid and item reclaims are allowed")
	ErrBidBeforeStart   = newError(CodeBidBeforeStart, "auction has not started")
	ErrBidAfterClose    = newError(CodeBidAfterClose, "auction has closed")
	ErrBidderCapReached = newError(CodeBidderCapReached, "maximum number of bidders reached")
	ErrOwnerCannotBid   = newError(CodeOwnerCannotBid, "owner cannot bid on own auction")
	ErrAmountOverflow   = newError(CodeAmountOverflow, "cumulative bid overflows")

	ErrAuctionNotOver          = newError(CodeAuctionNotOver, "auction is not over")
	ErrNotBidder               = newError(CodeNotBidder, "no bid recorded for caller")
	ErrNoWinningBid            = newError(CodeNoWinningBid, "no winning bid")
	ErrWinnerCannotWithdrawBid = newError(CodeWinnerCannotWithdrawBid, "highest bidder cannot reclaim their bid")
	ErrAlreadyWithdrewBid      = newError(CodeAlreadyWithdrewBid, "winning bid already withdrawn")
	ErrItemAlreadyWithdrawn    = newError(CodeItemAlreadyWithdrawn, "item already withdrawn")
	ErrNotOwner                = newError(CodeNotOwner, "caller is not the auction owner")
	ErrNotHighestBidder        = newError(CodeNotHighestBidder, "caller is not the highest bidder")

	ErrCannotCancelAfterClose = newError(CodeCannotCancelAfterClose, "cannot cancel auction after it has ended")

	ErrInsufficientFunds    = newError(CodeInsufficientFunds, "insufficient funds")
	ErrUnauthorizedTransfer = newError(CodeUnauthorizedTransfer, "transfer authority does not control source holding")
)

// CodeOf extracts the code from any error. Returns CodeUnknown for errors
// that do not wrap an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
