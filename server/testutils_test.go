package server

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/api"
	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/house"
	"github.com/cloudx-io/escrowhouse/ledger"
	"github.com/cloudx-io/escrowhouse/receipt"
	"github.com/cloudx-io/escrowhouse/store"
)

const testStart uint64 = 1_000_000

type testEnv struct {
	dispatcher *Dispatcher
	house      *house.House
	ledger     *ledger.Memory
	clock      *house.ManualClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	l := ledger.NewMemory()
	assert.NoError(t, l.Credit(ctx, "NFT", "owner", 3))
	for _, id := range []core.Identity{"alice", "bob"} {
		assert.NoError(t, l.Credit(ctx, "USDC", id, 1_000_000_000))
		assert.NoError(t, l.Credit(ctx, "SOL", id, 1_000_000_000))
	}

	signer, err := receipt.NewSigner()
	assert.NoError(t, err)
	clock := house.NewManualClock(testStart - 10)

	h := house.New(core.NewAllowlistGate("owner"), l,
		core.Treasury{Identity: "treasury", FeeAsset: "SOL", Fee: 25_000_000},
		store.NewMemory(),
		house.WithClock(clock),
		house.WithSigner(signer),
		house.WithLogger(zap.NewNop()))

	amounts := api.NewAmountCodec(map[core.Asset]int32{"USDC": 6, "SOL": 9})
	d := NewDispatcher(h, amounts,
		WithHoldings(l, true),
		WithAttester(func() (receipt.EnclaveAttester, error) {
			return nil, errors.New("not in an enclave")
		}))

	return &testEnv{dispatcher: d, house: h, ledger: l, clock: clock}
}

func createRequest() *api.CreateAuctionRequest {
	return &api.CreateAuctionRequest{
		Type:          api.TypeCreateAuction,
		Owner:         "owner",
		Title:         "Genesis drop",
		ItemAsset:     "NFT",
		ItemAmount:    "1",
		CurrencyAsset: "USDC",
		Floor:         "100",
		Increment:     "10",
		StartTime:     testStart,
		EndTime:       testStart + 1000,
		BidderCap:     2,
	}
}
