// Package house hosts auctions: it loads records, runs the core engines
// against them, persists the result and announces what happened.
package house

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/events"
	"github.com/cloudx-io/escrowhouse/receipt"
	"github.com/cloudx-io/escrowhouse/store"
)

// Result is what a successful mutating operation reports back.
type Result struct {
	Auction *core.AuctionRecord
	Event   events.Event
	// Receipt is a COSE_Sign1 over Event, or nil when no signer is set.
	Receipt []byte
}

// House runs auction operations. Operations on the same auction are
// serialized; different auctions proceed independently.
type House struct {
	factory    *core.Factory
	bidding    *core.BiddingEngine
	settlement *core.SettlementEngine

	custody   core.CustodyAdapter
	store     store.Store
	clock     Clock
	publisher events.Publisher
	signer    *receipt.Signer
	logger    *zap.Logger
	locks     *addressLocks

	factoryOpts []core.FactoryOption
}

// Option configures a House.
type Option func(*House)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(h *House) { h.clock = c }
}

// WithPublisher sets where events go. Events are dropped by default.
func WithPublisher(p events.Publisher) Option {
	return func(h *House) { h.publisher = p }
}

// WithSigner enables signed receipts.
func WithSigner(s *receipt.Signer) Option {
	return func(h *House) { h.signer = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *House) { h.logger = l }
}

// WithAddresser sets how custody addresses are derived for new auctions.
func WithAddresser(a core.CustodyAddresser) Option {
	return func(h *House) { h.factoryOpts = append(h.factoryOpts, core.WithAddresser(a)) }
}

// New returns a House moving funds through custody, creating auctions only
// for identities gate admits and charging reclaim fees to treasury.
func New(gate core.AuthorizationGate, custody core.CustodyAdapter, treasury core.Treasury, st store.Store, opts ...Option) *House {
	h := &House{
		custody:   custody,
		store:     st,
		clock:     SystemClock{},
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		locks:     newAddressLocks(),
	}
	for _, opt := range opts {
		opt(h)
	}
	journaled := journaledCustody{custody}
	h.factory = core.NewFactory(gate, journaled, h.factoryOpts...)
	h.bidding = core.NewBiddingEngine(journaled)
	h.settlement = core.NewSettlementEngine(journaled, treasury)
	return h
}

// Treasury returns the fee configuration.
func (h *House) Treasury() core.Treasury {
	return h.settlement.Treasury()
}

// Now reads the house clock.
func (h *House) Now() uint64 {
	return h.clock.Now()
}

// Signer returns the receipt signer, or nil when receipts are disabled.
func (h *House) Signer() *receipt.Signer {
	return h.signer
}

// ReceiptKey returns the PEM key receipts verify against, or "" when
// receipts are disabled.
func (h *House) ReceiptKey() (string, error) {
	if h.signer == nil {
		return "", nil
	}
	return h.signer.PublicKeyPEM()
}

// CreateAuction validates p, escrows the item and saves the new auction.
func (h *House) CreateAuction(ctx context.Context, p core.CreateParams) (*Result, error) {
	now := h.clock.Now()
	jctx, j := withJournal(ctx)
	rec, err := h.factory.Create(jctx, p, now)
	if err != nil {
		h.logRejected("create", "", p.Owner, err)
		return nil, err
	}

	unlock := h.locks.lock(rec.Address)
	defer unlock()

	if err := h.save(ctx, j, rec, "create"); err != nil {
		return nil, err
	}
	h.logger.Info("auction created",
		zap.String("auction", string(rec.Address)),
		zap.String("owner", string(rec.Owner)),
		zap.Uint64("start_time", rec.StartTime),
		zap.Uint64("end_time", rec.EndTime))
	return h.finish(ctx, rec, events.New(events.KindCreated, rec.Address, rec.Owner, rec.ItemAmount, rec.EndTime, now)), nil
}

// PlaceBid adds amount to bidder's cumulative bid.
func (h *House) PlaceBid(ctx context.Context, address, bidder core.Identity, amount uint64) (*Result, error) {
	var extended bool
	res, err := h.mutate(ctx, address, "bid", bidder, events.KindBidPlaced,
		func(ctx context.Context, rec *core.AuctionRecord, now uint64) (uint64, error) {
			r, err := h.bidding.PlaceBid(ctx, rec, bidder, amount, now)
			if err != nil {
				return 0, err
			}
			extended = r.Extended
			return r.Amount, nil
		})
	if err == nil && extended {
		h.logger.Info("auction extended",
			zap.String("auction", string(address)),
			zap.Uint64("end_time", res.Auction.EndTime))
	}
	return res, err
}

// ReclaimBid refunds a losing or cancelled bid, charging the reclaim fee.
func (h *House) ReclaimBid(ctx context.Context, address, caller core.Identity) (*Result, error) {
	return h.mutate(ctx, address, "reclaim_bid", caller, events.KindBidReclaimed,
		func(ctx context.Context, rec *core.AuctionRecord, _ uint64) (uint64, error) {
			return h.settlement.ReclaimBid(ctx, rec, caller)
		})
}

// WithdrawItem releases the item to the winner.
func (h *House) WithdrawItem(ctx context.Context, address, caller core.Identity) (*Result, error) {
	return h.mutate(ctx, address, "withdraw_item", caller, events.KindItemWithdrawn,
		func(ctx context.Context, rec *core.AuctionRecord, now uint64) (uint64, error) {
			return h.settlement.WithdrawItem(ctx, rec, caller, now)
		})
}

// WithdrawWinningBid pays the winning bid to the owner.
func (h *House) WithdrawWinningBid(ctx context.Context, address, caller core.Identity) (*Result, error) {
	return h.mutate(ctx, address, "withdraw_winning_bid", caller, events.KindWinningBidWithdrew,
		func(ctx context.Context, rec *core.AuctionRecord, now uint64) (uint64, error) {
			return h.settlement.WithdrawWinningBid(ctx, rec, caller, now)
		})
}

// ReclaimItem returns an unsold or cancelled item to the owner.
func (h *House) ReclaimItem(ctx context.Context, address, caller core.Identity) (*Result, error) {
	return h.mutate(ctx, address, "reclaim_item", caller, events.KindItemReclaimed,
		func(ctx context.Context, rec *core.AuctionRecord, now uint64) (uint64, error) {
			return h.settlement.ReclaimItem(ctx, rec, caller, now)
		})
}

// CancelAuction cancels an auction that has not closed.
func (h *House) CancelAuction(ctx context.Context, address, caller core.Identity) (*Result, error) {
	return h.mutate(ctx, address, "cancel", caller, events.KindCancelled,
		func(ctx context.Context, rec *core.AuctionRecord, now uint64) (uint64, error) {
			return 0, h.settlement.Cancel(ctx, rec, caller, now)
		})
}

// GetAuction returns the auction at address.
func (h *House) GetAuction(ctx context.Context, address core.Identity) (*core.AuctionRecord, error) {
	rec, err := h.store.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("auction %s: %w", address, err)
	}
	return rec, nil
}

// ListAuctions returns auctions in creation order, only owner's when owner
// is set.
func (h *House) ListAuctions(ctx context.Context, owner core.Identity) ([]*core.AuctionRecord, error) {
	all, err := h.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	if owner == "" {
		return all, nil
	}
	out := all[:0]
	for _, rec := range all {
		if rec.Owner == owner {
			out = append(out, rec)
		}
	}
	return out, nil
}

// mutate runs op against the stored auction under its lock. op mutates rec
// only on success and returns the amount it moved.
func (h *House) mutate(
	ctx context.Context,
	address core.Identity,
	op string,
	actor core.Identity,
	kind events.Kind,
	fn func(ctx context.Context, rec *core.AuctionRecord, now uint64) (uint64, error),
) (*Result, error) {
	unlock := h.locks.lock(address)
	defer unlock()

	rec, err := h.store.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("auction %s: %w", address, err)
	}

	now := h.clock.Now()
	jctx, j := withJournal(ctx)
	amount, err := fn(jctx, rec, now)
	if err != nil {
		h.logRejected(op, address, actor, err)
		return nil, err
	}

	if err := h.save(ctx, j, rec, op); err != nil {
		return nil, err
	}
	h.logger.Info("operation applied",
		zap.String("op", op),
		zap.String("auction", string(address)),
		zap.String("actor", string(actor)),
		zap.Uint64("amount", amount))
	return h.finish(ctx, rec, events.New(kind, address, actor, amount, rec.EndTime, now)), nil
}

// save persists rec after the operation's custody legs in j have settled.
// The caller going away no longer stops it. If the record cannot be saved
// the legs are paid back, so custody and the stored record stay in step.
func (h *House) save(ctx context.Context, j *journal, rec *core.AuctionRecord, op string) error {
	ctx = context.WithoutCancel(ctx)

	err := h.store.Put(ctx, rec)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("save auction %s: %w", rec.Address, err)

	undo := j.reversal()
	if len(undo) == 0 {
		return err
	}
	if rerr := h.custody.Transfer(ctx, undo...); rerr != nil {
		h.logger.Error("auction not saved and custody legs not reversed",
			zap.String("op", op),
			zap.String("auction", string(rec.Address)),
			zap.Any("legs", undo),
			zap.Error(err),
			zap.NamedError("reverse_error", rerr))
		return err
	}
	h.logger.Warn("auction not saved, custody legs reversed",
		zap.String("op", op),
		zap.String("auction", string(rec.Address)),
		zap.Int("legs", len(undo)),
		zap.Error(err))
	return err
}

// finish publishes ev and signs its receipt. Neither can undo the committed
// change, so failures are logged and the result returned regardless.
func (h *House) finish(ctx context.Context, rec *core.AuctionRecord, ev events.Event) *Result {
	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.logger.Error("failed to publish event",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}

	res := &Result{Auction: rec, Event: ev}
	if h.signer != nil {
		sig, err := h.signer.Sign(ev)
		if err != nil {
			h.logger.Error("failed to sign receipt", zap.String("event_id", ev.ID), zap.Error(err))
		} else {
			res.Receipt = sig
		}
	}
	return res
}

func (h *House) logRejected(op string, address, actor core.Identity, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("auction", string(address)),
		zap.String("actor", string(actor)),
		zap.Error(err),
	}
	if code := core.CodeOf(err); code != core.CodeUnknown {
		h.logger.Info("operation rejected", append(fields, zap.String("code", string(code)))...)
		return
	}
	h.logger.Warn("operation failed", fields...)
}
