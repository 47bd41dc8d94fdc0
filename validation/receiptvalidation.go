package validation

import (
	"encoding/base64"
	"fmt"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/events"
	"github.com/cloudx-io/escrowhouse/receipt"
)

// ReceiptValidationInput describes what a client expects a receipt to say.
// Zero-valued expectations are not checked.
type ReceiptValidationInput struct {
	Receipt   string // base64 COSE_Sign1 from an operation response
	PublicKey string // PEM receipt key, ideally checked with ValidateKeyAttestation first
	Auction   core.Identity
	Kind      events.Kind
	Actor     core.Identity
	Amount    *uint64
}

// ReceiptValidationResult reports which parts of a receipt checked out.
type ReceiptValidationResult struct {
	SignatureValid    bool
	AuctionValid      bool
	KindValid         bool
	ActorValid        bool
	AmountValid       bool
	Event             events.Event
	ValidationDetails []string
}

// IsValid returns true if the signature and every expectation checked out
func (r *ReceiptValidationResult) IsValid() bool {
	return r.SignatureValid && r.AuctionValid && r.KindValid && r.ActorValid && r.AmountValid
}

// ValidateReceipt verifies a receipt's signature and compares the event it
// carries against input.
//
// Returns an error only when the receipt cannot be decoded at all. A bad
// signature yields a result with SignatureValid false.
func ValidateReceipt(input *ReceiptValidationInput) (*ReceiptValidationResult, error) {
	raw, err := base64.StdEncoding.DecodeString(input.Receipt)
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	result := &ReceiptValidationResult{ValidationDetails: []string{}}

	ev, err := receipt.Verify(input.PublicKey, raw)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt verification failed: %v", err))
		return result, nil
	}
	result.SignatureValid = true
	result.Event = ev
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Receipt signature verified (event %s)", ev.ID))

	result.AuctionValid = validateField(result, "Auction", string(input.Auction), string(ev.Auction))
	result.KindValid = validateField(result, "Kind", string(input.Kind), string(ev.Kind))
	result.ActorValid = validateField(result, "Actor", string(input.Actor), string(ev.Actor))

	switch {
	case input.Amount == nil:
		result.AmountValid = true
	case *input.Amount == ev.Amount:
		result.AmountValid = true
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Amount validation passed: %d", ev.Amount))
	default:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Amount mismatch: expected %d, receipt has %d", *input.Amount, ev.Amount))
	}

	return result, nil
}

func validateField(result *ReceiptValidationResult, name, expected, actual string) bool {
	if expected == "" {
		return true
	}
	if expected == actual {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("%s validation passed: %s", name, actual))
		return true
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("%s mismatch: expected %s, receipt has %s", name, expected, actual))
	return false
}
