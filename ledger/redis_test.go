package ledger

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// newTestRedis connects to LEDGER_TEST_REDIS_ADDR when set, and otherwise to
// an in-process miniredis, which runs the transfer script with its own Lua.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	r, err := NewRedis(addr, "", 0, zap.NewNop())
	assert.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestHoldingKey(t *testing.T) {
	check.Equal(t, "holding:{USDC}:{alice}", holdingKey("USDC", "alice"))
}

func TestRedisTransfer(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	asset := core.Asset("USDC-" + uuid.NewString())
	fee := core.Asset("SOL-" + uuid.NewString())

	assert.NoError(t, r.Credit(ctx, asset, "alice", 100))
	assert.NoError(t, r.Credit(ctx, fee, "alice", 5))

	err := r.Transfer(ctx,
		core.Transfer{Asset: asset, From: "alice", To: "escrow", Amount: 60, Authority: "alice"},
		core.Transfer{Asset: fee, From: "alice", To: "treasury", Amount: 6, Authority: "alice"},
	)
	check.True(t, errors.Is(err, core.ErrInsufficientFunds))

	got, err := r.Balance(ctx, asset, "alice")
	assert.NoError(t, err)
	check.Equal(t, uint64(100), got)

	err = r.Transfer(ctx,
		core.Transfer{Asset: asset, From: "alice", To: "escrow", Amount: 60, Authority: "alice"},
		core.Transfer{Asset: fee, From: "alice", To: "treasury", Amount: 5, Authority: "alice"},
	)
	assert.NoError(t, err)

	got, err = r.Balance(ctx, asset, "escrow")
	assert.NoError(t, err)
	check.Equal(t, uint64(60), got)
	got, err = r.Balance(ctx, fee, "treasury")
	assert.NoError(t, err)
	check.Equal(t, uint64(5), got)
}

func TestRedisTransfer_LaterLegFailureAppliesNothing(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	usdc := core.Asset("USDC-" + uuid.NewString())
	sol := core.Asset("SOL-" + uuid.NewString())

	assert.NoError(t, r.Credit(ctx, usdc, "escrow", 300))
	assert.NoError(t, r.Credit(ctx, sol, "alice", 10))

	tests := []struct {
		name  string
		batch []core.Transfer
	}{
		{"fee leg short", []core.Transfer{
			{Asset: usdc, From: "escrow", To: "alice", Amount: 150, Authority: "escrow"},
			{Asset: sol, From: "alice", To: "treasury", Amount: 11, Authority: "alice"},
		}},
		{"same source overdrawn across legs", []core.Transfer{
			{Asset: usdc, From: "escrow", To: "alice", Amount: 200, Authority: "escrow"},
			{Asset: usdc, From: "escrow", To: "owner", Amount: 101, Authority: "escrow"},
		}},
		{"unknown holder last", []core.Transfer{
			{Asset: usdc, From: "escrow", To: "alice", Amount: 1, Authority: "escrow"},
			{Asset: usdc, From: "nobody", To: "alice", Amount: 1, Authority: "nobody"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Transfer(ctx, tt.batch...)
			check.True(t, errors.Is(err, core.ErrInsufficientFunds))

			for _, want := range []struct {
				asset  core.Asset
				id     core.Identity
				amount uint64
			}{
				{usdc, "escrow", 300},
				{usdc, "alice", 0},
				{usdc, "owner", 0},
				{sol, "alice", 10},
				{sol, "treasury", 0},
			} {
				got, err := r.Balance(ctx, want.asset, want.id)
				assert.NoError(t, err)
				check.Equal(t, want.amount, got)
			}
		})
	}
}

func TestRedisTransfer_ChainedLegs(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	usdc := core.Asset("USDC-" + uuid.NewString())

	assert.NoError(t, r.Credit(ctx, usdc, "escrow", 100))

	// Legs see balances as of the start of the batch, so alice cannot
	// forward what the first leg pays her.
	err := r.Transfer(ctx,
		core.Transfer{Asset: usdc, From: "escrow", To: "alice", Amount: 100, Authority: "escrow"},
		core.Transfer{Asset: usdc, From: "alice", To: "bob", Amount: 100, Authority: "alice"},
	)
	check.True(t, errors.Is(err, core.ErrInsufficientFunds))

	got, err := r.Balance(ctx, usdc, "escrow")
	assert.NoError(t, err)
	check.Equal(t, uint64(100), got)
}

func TestRedisCredit_RejectsImpreciseAmounts(t *testing.T) {
	r := newTestRedis(t)
	err := r.Credit(context.Background(), "USDC", "alice", MaxRedisAmount+1)
	check.True(t, errors.Is(err, core.ErrAmountOverflow))
}

func TestRedisTransfer_RejectsUnauthorizedBeforeConnecting(t *testing.T) {
	r := &Redis{logger: zap.NewNop()}
	err := r.Transfer(context.Background(), core.Transfer{
		Asset: "USDC", From: "escrow", To: "mallory", Amount: 1, Authority: "mallory",
	})
	check.True(t, errors.Is(err, core.ErrUnauthorizedTransfer))
}
