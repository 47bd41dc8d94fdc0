package server

import (
	"errors"
	"net/http"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/store"
)

// Codes for failures outside the core catalog.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnknownType     = "UNKNOWN_REQUEST_TYPE"
	CodeAuctionNotFound = "AUCTION_NOT_FOUND"
	CodeDisabled        = "DISABLED"
	CodeInternal        = "INTERNAL"
)

var (
	errDisabled    = errors.New("operation disabled")
	errUnknownType = errors.New("unknown request type")
)

// requestError marks malformed input.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &requestError{msg: msg, err: err}
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	var reqErr *requestError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeAuctionNotFound
	case errors.Is(err, errDisabled):
		return CodeDisabled
	case errors.Is(err, errUnknownType):
		return CodeUnknownType
	case core.CodeOf(err) != core.CodeUnknown:
		return string(core.CodeOf(err))
	case errors.As(err, &reqErr):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// HTTPStatus maps a wire code to an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case CodeBadRequest, CodeUnknownType,
		string(core.CodeTitleOverflow),
		string(core.CodeInvalidIncrement),
		string(core.CodeInvalidTokenAmount),
		string(core.CodeInvalidStartTime),
		string(core.CodeInvalidEndTime),
		string(core.CodeInvalidBidFloor),
		string(core.CodeUnderBidFloor),
		string(core.CodeInsufficientBid),
		string(core.CodeAmountOverflow):
		return http.StatusBadRequest
	case CodeDisabled,
		string(core.CodeInvalidAdmin),
		string(core.CodeOwnerCannotBid),
		string(core.CodeNotOwner),
		string(core.CodeNotHighestBidder),
		string(core.CodeNotBidder),
		string(core.CodeUnauthorizedTransfer):
		return http.StatusForbidden
	case CodeAuctionNotFound:
		return http.StatusNotFound
	case string(core.CodeAuctionCancelled),
		string(core.CodeBidBeforeStart),
		string(core.CodeBidAfterClose),
		string(core.CodeBidderCapReached),
		string(core.CodeAuctionNotOver),
		string(core.CodeNoWinningBid),
		string(core.CodeWinnerCannotWithdrawBid),
		string(core.CodeAlreadyWithdrewBid),
		string(core.CodeItemAlreadyWithdrawn),
		string(core.CodeCannotCancelAfterClose):
		return http.StatusConflict
	case string(core.CodeInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
