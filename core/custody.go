package core

import (
	"context"

	"github.com/google/uuid"
)

// CustodyAdapter moves assets between holdings.
//
// Implementations must treat the whole batch as one unit: either every leg
// is applied or none is. A short source balance fails with an error wrapping
// ErrInsufficientFunds.
type CustodyAdapter interface {
	Transfer(ctx context.Context, batch ...Transfer) error
}

// AuthorizationGate answers whether an identity may create auctions.
type AuthorizationGate interface {
	IsAdmin(id Identity) bool
}

// AllowlistGate authorizes a fixed set of identities.
type AllowlistGate struct {
	admins map[Identity]struct{}
}

// NewAllowlistGate builds a gate from the configured admin identities.
func NewAllowlistGate(admins ...Identity) *AllowlistGate {
	g := &AllowlistGate{admins: make(map[Identity]struct{}, len(admins))}
	for _, a := range admins {
		if a != "" {
			g.admins[a] = struct{}{}
		}
	}
	return g
}

// IsAdmin implements AuthorizationGate.
func (g *AllowlistGate) IsAdmin(id Identity) bool {
	_, ok := g.admins[id]
	return ok
}

// CustodyAddresser derives the custody identity of a new auction.
// This interface enables dependency injection for deterministic testing.
type CustodyAddresser interface {
	Address(owner Identity, title string) (Identity, error)
}

// uuidAddresser assigns every auction a fresh random custody identity.
type uuidAddresser struct{}

func (uuidAddresser) Address(Identity, string) (Identity, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return Identity("auction-" + id.String()), nil
}

// defaultAddresser is used when no CustodyAddresser is configured
var defaultAddresser CustodyAddresser = uuidAddresser{}
