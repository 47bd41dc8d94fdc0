// Command auctiond runs the escrowed auction house.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/api"
	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/events"
	"github.com/cloudx-io/escrowhouse/house"
	"github.com/cloudx-io/escrowhouse/ledger"
	"github.com/cloudx-io/escrowhouse/receipt"
	"github.com/cloudx-io/escrowhouse/server"
	"github.com/cloudx-io/escrowhouse/store"
)

// custody is what the house and the balance endpoints need from a ledger.
type custody interface {
	core.CustodyAdapter
	server.Holdings
}

func main() {
	os.Exit(serve())
}

// serve runs the daemon and returns the process exit code. Deferred cleanup
// runs before main exits.
func serve() int {
	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("ERROR: invalid configuration: %v", err)
		return 1
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Printf("ERROR: failed to build logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return exitCode(logger, run(ctx, cfg, logger))
}

func exitCode(logger *zap.Logger, err error) int {
	if err != nil {
		logger.Error("auctiond stopped", zap.Error(err))
		return 1
	}
	logger.Info("auctiond stopped")
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	decimals, err := cfg.Decimals()
	if err != nil {
		return err
	}

	ledgerBackend, closeLedger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []house.Option{house.WithLogger(logger)}

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Error("failed to close NATS publisher", zap.Error(err))
			}
		}()
		opts = append(opts, house.WithPublisher(pub))
		logger.Info("publishing events to NATS", zap.String("url", cfg.NATSURL))
	}

	if cfg.Receipts {
		signer, err := receipt.NewSigner()
		if err != nil {
			return err
		}
		opts = append(opts, house.WithSigner(signer))
		logger.Info("receipt signer initialized")
	}

	h := house.New(core.NewAllowlistGate(cfg.AdminIdentities()...), ledgerBackend, cfg.Treasury(), st, opts...)
	dispatcher := server.NewDispatcher(h, api.NewAmountCodec(decimals),
		server.WithHoldings(ledgerBackend, cfg.AllowDeposits),
		server.WithDispatcherLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	running := 1
	go func() {
		errCh <- server.NewHTTPServer(dispatcher, logger).Serve(ctx, cfg.HTTPAddr)
	}()

	if cfg.EnableVsock {
		ln, err := server.ListenVsock(cfg.VsockPort)
		if err != nil {
			return err
		}
		running++
		go func() {
			errCh <- server.NewListener(dispatcher, cfg.MaxWorkers, logger).Serve(ctx, ln)
		}()
	}

	// The first server to fail takes the others down with it.
	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func openLedger(cfg *Config, logger *zap.Logger) (custody, func(), error) {
	switch cfg.LedgerBackend {
	case "redis":
		r, err := ledger.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis ledger", zap.String("addr", cfg.RedisAddr))
		return r, func() { _ = r.Close() }, nil
	default:
		logger.Warn("using in-memory ledger; holdings are lost on restart")
		return ledger.NewMemory(), func() {}, nil
	}
}

func openStore(ctx context.Context, cfg *Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite", "postgres":
		s, err := store.OpenSQL(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}
