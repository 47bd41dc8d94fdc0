// Package server exposes the auction house over vsock and HTTP.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/api"
	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/events"
	"github.com/cloudx-io/escrowhouse/house"
	"github.com/cloudx-io/escrowhouse/receipt"
)

// Holdings reads and funds custody balances.
type Holdings interface {
	Balance(ctx context.Context, asset core.Asset, id core.Identity) (uint64, error)
	Credit(ctx context.Context, asset core.Asset, id core.Identity, amount uint64) error
}

// Dispatcher turns wire requests into house operations. It is shared by the
// vsock loop and the HTTP gateway.
type Dispatcher struct {
	house         *house.House
	amounts       *api.AmountCodec
	holdings      Holdings
	allowDeposits bool
	attester      func() (receipt.EnclaveAttester, error)
	logger        *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHoldings enables balance queries, and deposits when allowDeposits.
func WithHoldings(h Holdings, allowDeposits bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.holdings = h
		d.allowDeposits = allowDeposits
	}
}

// WithAttester replaces how the enclave attester is obtained.
func WithAttester(fn func() (receipt.EnclaveAttester, error)) DispatcherOption {
	return func(d *Dispatcher) { d.attester = fn }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns a dispatcher for h rendering amounts with amounts.
func NewDispatcher(h *house.House, amounts *api.AmountCodec, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		house:    h,
		amounts:  amounts,
		attester: receipt.GetEnclaveAttester,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes a request by its "type" field, runs it and returns the
// response to encode. Failures come back as *api.ErrorResponse.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) any {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return d.errorResponse(badRequest("decode request", err))
	}

	resp, err := d.dispatch(ctx, base.Type, raw)
	if err != nil {
		return d.errorResponse(err)
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, typ string, raw []byte) (any, error) {
	switch typ {
	case api.TypePing:
		return d.Ping(), nil

	case api.TypeKeyRequest:
		return d.Key()

	case api.TypeCreateAuction:
		var req api.CreateAuctionRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.CreateAuction(ctx, &req)

	case api.TypePlaceBid:
		var req api.BidRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.PlaceBid(ctx, &req)

	case api.TypeReclaimBid, api.TypeWithdrawItem, api.TypeWithdrawWinningBid,
		api.TypeReclaimItem, api.TypeCancelAuction:
		var req api.ActionRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.Action(ctx, &req)

	case api.TypeGetAuction:
		var req api.GetAuctionRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.GetAuction(ctx, &req)

	case api.TypeListAuctions:
		var req api.ListAuctionsRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.ListAuctions(ctx, &req)

	case api.TypeGetBalance:
		var req api.BalanceRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.Balance(ctx, &req)

	case api.TypeDeposit:
		var req api.DepositRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		return d.Deposit(ctx, &req)

	default:
		return nil, fmt.Errorf("%w: %s", errUnknownType, typ)
	}
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest("decode request", err)
	}
	return nil
}

// Ping reports liveness.
func (d *Dispatcher) Ping() *api.PingResponse {
	return &api.PingResponse{
		Type:      api.TypePong,
		Message:   "auction house is healthy",
		Timestamp: d.house.Now(),
	}
}

// Key returns the receipt verification key, attested when running inside an
// enclave.
func (d *Dispatcher) Key() (*api.KeyResponse, error) {
	signer := d.house.Signer()
	if signer == nil {
		return nil, fmt.Errorf("receipts: %w", errDisabled)
	}
	pub, err := signer.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	fp, err := signer.Fingerprint()
	if err != nil {
		return nil, err
	}
	resp := &api.KeyResponse{
		Type:           api.TypeKeyResponse,
		KeyAlgorithm:   receipt.KeyAlgorithm,
		PublicKey:      pub,
		KeyFingerprint: fp,
	}

	attester, err := d.attester()
	if err != nil {
		d.logger.Warn("serving receipt key without attestation", zap.Error(err))
		return resp, nil
	}
	doc, err := receipt.AttestKey(attester, signer)
	if err != nil {
		return nil, err
	}
	resp.KeyAttestation = base64.StdEncoding.EncodeToString(doc)
	return resp, nil
}

// CreateAuction handles create_auction.
func (d *Dispatcher) CreateAuction(ctx context.Context, req *api.CreateAuctionRequest) (*api.OperationResponse, error) {
	item := core.Asset(req.ItemAsset)
	currency := core.Asset(req.CurrencyAsset)
	if item == "" || currency == "" {
		return nil, badRequest("item_asset and currency_asset are required", nil)
	}

	itemAmount, err := d.parseAmount(item, req.ItemAmount, "item_amount")
	if err != nil {
		return nil, err
	}
	floor, err := d.parseAmount(currency, req.Floor, "floor")
	if err != nil {
		return nil, err
	}
	increment, err := d.parseAmount(currency, req.Increment, "increment")
	if err != nil {
		return nil, err
	}

	res, err := d.house.CreateAuction(ctx, core.CreateParams{
		Owner:         core.Identity(req.Owner),
		Title:         req.Title,
		ItemAsset:     item,
		ItemAmount:    itemAmount,
		CurrencyAsset: currency,
		Floor:         floor,
		Increment:     increment,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		BidderCap:     req.BidderCap,
	})
	if err != nil {
		return nil, err
	}
	return d.operationResponse(res), nil
}

// PlaceBid handles place_bid.
func (d *Dispatcher) PlaceBid(ctx context.Context, req *api.BidRequest) (*api.OperationResponse, error) {
	address := core.Identity(req.Auction)
	rec, err := d.house.GetAuction(ctx, address)
	if err != nil {
		return nil, err
	}
	amount, err := d.parseAmount(rec.CurrencyAsset, req.Amount, "amount")
	if err != nil {
		return nil, err
	}

	res, err := d.house.PlaceBid(ctx, address, core.Identity(req.Bidder), amount)
	if err != nil {
		return nil, err
	}
	return d.operationResponse(res), nil
}

// Action handles the caller-only operations named by req.Type.
func (d *Dispatcher) Action(ctx context.Context, req *api.ActionRequest) (*api.OperationResponse, error) {
	address := core.Identity(req.Auction)
	caller := core.Identity(req.Caller)

	var op func(context.Context, core.Identity, core.Identity) (*house.Result, error)
	switch req.Type {
	case api.TypeReclaimBid:
		op = d.house.ReclaimBid
	case api.TypeWithdrawItem:
		op = d.house.WithdrawItem
	case api.TypeWithdrawWinningBid:
		op = d.house.WithdrawWinningBid
	case api.TypeReclaimItem:
		op = d.house.ReclaimItem
	case api.TypeCancelAuction:
		op = d.house.CancelAuction
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownType, req.Type)
	}

	res, err := op(ctx, address, caller)
	if err != nil {
		return nil, err
	}
	return d.operationResponse(res), nil
}

// GetAuction handles get_auction.
func (d *Dispatcher) GetAuction(ctx context.Context, req *api.GetAuctionRequest) (*api.AuctionResponse, error) {
	rec, err := d.house.GetAuction(ctx, core.Identity(req.Auction))
	if err != nil {
		return nil, err
	}
	return &api.AuctionResponse{
		Type:    api.TypeAuction,
		Auction: api.NewAuctionInfo(rec, d.amounts, d.house.Now()),
	}, nil
}

// ListAuctions handles list_auctions.
func (d *Dispatcher) ListAuctions(ctx context.Context, req *api.ListAuctionsRequest) (*api.AuctionsResponse, error) {
	recs, err := d.house.ListAuctions(ctx, core.Identity(req.Owner))
	if err != nil {
		return nil, err
	}
	now := d.house.Now()
	out := make([]*api.AuctionInfo, len(recs))
	for i, rec := range recs {
		out[i] = api.NewAuctionInfo(rec, d.amounts, now)
	}
	return &api.AuctionsResponse{Type: api.TypeAuctions, Auctions: out}, nil
}

// Balance handles get_balance.
func (d *Dispatcher) Balance(ctx context.Context, req *api.BalanceRequest) (*api.BalanceResponse, error) {
	if d.holdings == nil {
		return nil, fmt.Errorf("balances: %w", errDisabled)
	}
	asset := core.Asset(req.Asset)
	n, err := d.holdings.Balance(ctx, asset, core.Identity(req.Identity))
	if err != nil {
		return nil, err
	}
	return &api.BalanceResponse{
		Type:     api.TypeBalance,
		Asset:    req.Asset,
		Identity: req.Identity,
		Amount:   d.amounts.Format(asset, n),
	}, nil
}

// Deposit handles deposit.
func (d *Dispatcher) Deposit(ctx context.Context, req *api.DepositRequest) (*api.BalanceResponse, error) {
	if d.holdings == nil || !d.allowDeposits {
		return nil, fmt.Errorf("deposits: %w", errDisabled)
	}
	if req.Asset == "" || req.Identity == "" {
		return nil, badRequest("asset and identity are required", nil)
	}
	asset := core.Asset(req.Asset)
	amount, err := d.parseAmount(asset, req.Amount, "amount")
	if err != nil {
		return nil, err
	}
	if err := d.holdings.Credit(ctx, asset, core.Identity(req.Identity), amount); err != nil {
		return nil, err
	}
	d.logger.Info("deposit credited",
		zap.String("asset", req.Asset),
		zap.String("identity", req.Identity),
		zap.Uint64("amount", amount))
	return d.Balance(ctx, &api.BalanceRequest{Type: api.TypeGetBalance, Asset: req.Asset, Identity: req.Identity})
}

func (d *Dispatcher) parseAmount(asset core.Asset, s, field string) (uint64, error) {
	v, err := d.amounts.Parse(asset, s)
	if err != nil {
		return 0, badRequest(field, err)
	}
	return v, nil
}

func (d *Dispatcher) operationResponse(res *house.Result) *api.OperationResponse {
	ev := res.Event
	resp := &api.OperationResponse{
		Type:    api.TypeOperation,
		Success: true,
		Auction: api.NewAuctionInfo(res.Auction, d.amounts, ev.At),
		Event:   &ev,
		Receipt: api.EncodeReceipt(res.Receipt),
	}
	if asset, ok := movedAsset(res.Auction, ev.Kind); ok {
		resp.Amount = d.amounts.Format(asset, ev.Amount)
	}
	return resp
}

// movedAsset returns the asset an event of kind moves.
func movedAsset(rec *core.AuctionRecord, kind events.Kind) (core.Asset, bool) {
	switch kind {
	case events.KindCreated, events.KindItemWithdrawn, events.KindItemReclaimed:
		return rec.ItemAsset, true
	case events.KindBidPlaced, events.KindBidReclaimed, events.KindWinningBidWithdrew:
		return rec.CurrencyAsset, true
	default:
		return "", false
	}
}

func (d *Dispatcher) errorResponse(err error) *api.ErrorResponse {
	code := ErrorCode(err)
	if code == CodeInternal {
		d.logger.Error("request failed", zap.Error(err))
	}
	return &api.ErrorResponse{Type: api.TypeError, Code: code, Message: err.Error()}
}
