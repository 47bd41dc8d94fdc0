package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// MaxRedisAmount is the largest holding the Redis ledger accepts. Lua
// numbers are doubles, so amounts stay within their exact integer range.
const MaxRedisAmount uint64 = 1 << 53

// transferScript applies a batch of legs only if every source covers its
// total debit.
//
// KEYS: source and destination key of each leg, interleaved
// ARGV: amount of each leg
// Returns 0 on success, or -i when leg i is the first whose source cannot
// cover its debits.
var transferScript = redis.NewScript(`
	local debits = {}
	for i = 1, #ARGV do
		local from = KEYS[2*i-1]
		local amount = tonumber(ARGV[i])
		debits[from] = (debits[from] or 0) + amount
		local held = tonumber(redis.call('GET', from) or '0')
		if held < debits[from] then
			return -i
		end
	end
	for i = 1, #ARGV do
		redis.call('DECRBY', KEYS[2*i-1], ARGV[i])
		redis.call('INCRBY', KEYS[2*i], ARGV[i])
	end
	return 0
`)

// Redis keeps holdings in Redis under holding:{asset}:{identity} and moves
// them with a server-side script, so a batch is applied in full or not at
// all even across processes.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to addr and checks the connection.
func NewRedis(addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: rdb, logger: logger}, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func holdingKey(asset core.Asset, id core.Identity) string {
	return fmt.Sprintf("holding:{%s}:{%s}", asset, id)
}

// Credit adds amount of asset to id, as a deposit from outside the system.
func (r *Redis) Credit(ctx context.Context, asset core.Asset, id core.Identity, amount uint64) error {
	if amount > MaxRedisAmount {
		return fmt.Errorf("credit %d: %w", amount, core.ErrAmountOverflow)
	}
	if err := r.client.IncrBy(ctx, holdingKey(asset, id), int64(amount)).Err(); err != nil {
		return fmt.Errorf("credit %s to %s: %w", asset, id, err)
	}
	return nil
}

// Balance returns what id holds of asset.
func (r *Redis) Balance(ctx context.Context, asset core.Asset, id core.Identity) (uint64, error) {
	v, err := r.client.Get(ctx, holdingKey(asset, id)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", v, err)
	}
	return n, nil
}

// Transfer applies batch atomically on the server.
func (r *Redis) Transfer(ctx context.Context, batch ...core.Transfer) error {
	if err := checkAuthority(batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	keys := make([]string, 0, 2*len(batch))
	args := make([]any, 0, len(batch))
	for _, t := range batch {
		if t.Amount > MaxRedisAmount {
			return fmt.Errorf("transfer %d: %w", t.Amount, core.ErrAmountOverflow)
		}
		keys = append(keys, holdingKey(t.Asset, t.From), holdingKey(t.Asset, t.To))
		args = append(args, t.Amount)
	}

	res, err := transferScript.Run(ctx, r.client, keys, args...).Int64()
	if err != nil {
		r.logger.Error("transfer script failed", zap.Int("legs", len(batch)), zap.Error(err))
		return fmt.Errorf("run transfer script: %w", err)
	}
	if res < 0 {
		t := batch[-res-1]
		return fmt.Errorf("%s holds too little %s: %w", t.From, t.Asset, core.ErrInsufficientFunds)
	}

	r.logger.Debug("transfer applied", zap.Int("legs", len(batch)))
	return nil
}
