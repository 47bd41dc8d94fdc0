package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"go.uber.org/zap"
)

const defaultReadTimeout = 30 * time.Second

// Listener serves the JSON request protocol on a stream socket: the client
// writes one request, closes its write side and reads one response.
type Listener struct {
	dispatcher  *Dispatcher
	logger      *zap.Logger
	maxWorkers  int
	readTimeout time.Duration
}

// NewListener returns a Listener running at most maxWorkers connections at
// once. Connections beyond that are closed immediately.
func NewListener(d *Dispatcher, maxWorkers int, logger *zap.Logger) *Listener {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Listener{
		dispatcher:  d,
		logger:      logger,
		maxWorkers:  maxWorkers,
		readTimeout: defaultReadTimeout,
	}
}

// ListenVsock opens the enclave's vsock port.
func ListenVsock(port uint32) (net.Listener, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled. It closes ln.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	l.logger.Info("listener started",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_workers", l.maxWorkers))

	semaphore := make(chan struct{}, l.maxWorkers)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error("failed to accept connection", zap.Error(err))
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				l.handleConnection(ctx, c)
			}(conn)
		default:
			l.logger.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				l.logger.Error("failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic recovered in handleConnection", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			l.logger.Error("failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		l.logger.Error("failed to read request", zap.Error(err))
		return
	}

	response := l.dispatcher.Dispatch(ctx, buf.Bytes())

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		l.logger.Error("failed to encode response", zap.Error(err))
	}
}
