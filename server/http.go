package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/api"
)

const maxBodyBytes = 1 << 20

// actionTypes maps the path segment of a caller-only operation to its
// request type.
var actionTypes = map[string]string{
	"reclaim-bid":          api.TypeReclaimBid,
	"withdraw-item":        api.TypeWithdrawItem,
	"withdraw-winning-bid": api.TypeWithdrawWinningBid,
	"reclaim-item":         api.TypeReclaimItem,
	"cancel":               api.TypeCancelAuction,
}

// HTTPServer is the HTTP gateway in front of a Dispatcher.
type HTTPServer struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewHTTPServer returns a gateway for d.
func NewHTTPServer(d *Dispatcher, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{dispatcher: d, logger: logger}
}

// Handler returns a router with all routes registered.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes adds the gateway routes to r.
func (s *HTTPServer) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/receipt-key", s.handleReceiptKey)

	r.Route("/auctions", func(r chi.Router) {
		r.Post("/", s.handleCreateAuction)
		r.Get("/", s.handleListAuctions)
		r.Get("/{address}", s.handleGetAuction)
		r.Post("/{address}/bid", s.handlePlaceBid)
		r.Post("/{address}/{action}", s.handleAction)
	})

	r.Get("/holdings/{asset}/{identity}", s.handleBalance)
	r.Post("/holdings/{asset}/{identity}/deposit", s.handleDeposit)
}

// Serve runs the gateway on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *HTTPServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http gateway listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.Ping())
}

func (s *HTTPServer) handleReceiptKey(w http.ResponseWriter, _ *http.Request) {
	resp, err := s.dispatcher.Key()
	s.respond(w, resp, err)
}

func (s *HTTPServer) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAuctionRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	req.Type = api.TypeCreateAuction
	resp, err := s.dispatcher.CreateAuction(r.Context(), &req)
	if err == nil {
		s.writeJSON(w, http.StatusCreated, resp)
		return
	}
	s.respond(w, nil, err)
}

func (s *HTTPServer) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dispatcher.ListAuctions(r.Context(), &api.ListAuctionsRequest{
		Type:  api.TypeListAuctions,
		Owner: r.URL.Query().Get("owner"),
	})
	s.respond(w, resp, err)
}

func (s *HTTPServer) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dispatcher.GetAuction(r.Context(), &api.GetAuctionRequest{
		Type:    api.TypeGetAuction,
		Auction: chi.URLParam(r, "address"),
	})
	s.respond(w, resp, err)
}

func (s *HTTPServer) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req api.BidRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	req.Type = api.TypePlaceBid
	req.Auction = chi.URLParam(r, "address")
	resp, err := s.dispatcher.PlaceBid(r.Context(), &req)
	s.respond(w, resp, err)
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	typ, ok := actionTypes[chi.URLParam(r, "action")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req api.ActionRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	req.Type = typ
	req.Auction = chi.URLParam(r, "address")
	resp, err := s.dispatcher.Action(r.Context(), &req)
	s.respond(w, resp, err)
}

func (s *HTTPServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dispatcher.Balance(r.Context(), &api.BalanceRequest{
		Type:     api.TypeGetBalance,
		Asset:    chi.URLParam(r, "asset"),
		Identity: chi.URLParam(r, "identity"),
	})
	s.respond(w, resp, err)
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req api.DepositRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	req.Type = api.TypeDeposit
	req.Asset = chi.URLParam(r, "asset")
	req.Identity = chi.URLParam(r, "identity")
	resp, err := s.dispatcher.Deposit(r.Context(), &req)
	s.respond(w, resp, err)
}

func (s *HTTPServer) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respond(w, nil, badRequest("decode request", err))
		return false
	}
	return true
}

func (s *HTTPServer) respond(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		e := s.dispatcher.errorResponse(err)
		s.writeJSON(w, HTTPStatus(e.Code), e)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
