// Package server exposes read-only engine state over HTTP, prometheus
// metrics and a websocket stream of committed events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/paycore/fee"
	"github.com/vitwit/paycore/logger"
	"github.com/vitwit/paycore/settlement"
	"github.com/vitwit/paycore/types"
	"github.com/vitwit/paycore/utils"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000

	streamBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
)

// Server serves the engine's read API.
type Server struct {
	engine   *settlement.Engine
	gatherer prometheus.Gatherer
	log      logger.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g. Without it /metrics is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = logger.OrNoop(l)
	}
}

// New creates a server for engine.
func New(engine *settlement.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		log:    logger.NoopLogger{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /v1/version", s.handleVersion)
	s.mux.HandleFunc("GET /v1/config", s.handleConfig)
	s.mux.HandleFunc("GET /v1/tokens", s.handleTokens)
	s.mux.HandleFunc("GET /v1/tokens/{address}", s.handleToken)
	s.mux.HandleFunc("GET /v1/fee", s.handleFee)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)
	s.mux.HandleFunc("GET /v1/events/ws", s.handleStream)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped", nil)
	return nil
}

type healthResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Initialized: s.engine.Initialized()})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       s.engine.Version(),
		"schemaVersion": types.SchemaVersion,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Initialized() {
		writeError(w, types.ErrNotInitialized)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Config())
}

type tokensResponse struct {
	Supported []common.Address  `json:"supported"`
	Tokens    []types.TokenInfo `json:"tokens"`
}

func (s *Server) handleTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tokensResponse{
		Supported: s.engine.GetSupportedTokens(),
		Tokens:    s.engine.AllTokens(),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, types.NewError(types.ErrCodeInvalidPayment, "invalid token address", nil))
		return
	}
	info := s.engine.SupportedToken(common.HexToAddress(raw))
	if info.Address == (common.Address{}) {
		writeError(w, types.NewError(types.ErrCodeNotFound, "token is not registered", nil))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type feeResponse struct {
	Amount      string `json:"amount"`
	BasisPoints uint64 `json:"basisPoints"`
	Fee         string `json:"fee"`
	Net         string `json:"net"`
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	amount, err := utils.ValidateBigInt(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, types.NewError(types.ErrCodeInvalidPayment, "invalid amount", err))
		return
	}
	// rate and split come from one config snapshot
	cfg := s.engine.Config()
	calc, err := fee.New(cfg.FeeBasisPoints)
	if err != nil {
		writeError(w, err)
		return
	}
	f, net := calc.Split(amount)
	writeJSON(w, http.StatusOK, feeResponse{
		Amount:      amount.String(),
		BasisPoints: calc.BasisPoints,
		Fee:         f.String(),
		Net:         net.String(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.EventFilter{Kind: types.EventKind(q.Get("kind")), Limit: defaultEventLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, types.NewError(types.ErrCodeInvalidPayment, "invalid limit", err))
			return
		}
		filter.Limit = min(n, maxEventLimit)
	}

	evs, err := s.engine.Events(r.Context(), filter)
	if err != nil {
		s.log.Error("list events failed", map[string]any{"error": err})
		writeError(w, err)
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

type errorResponse struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var perr *types.PaycoreError
	if !errors.As(err, &perr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: err.Error()})
		return
	}
	writeJSON(w, statusFor(perr.Code), errorResponse{Code: perr.Code, Message: perr.Message})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrCodeNotFound:
		return http.StatusNotFound
	case types.ErrCodeUnauthorized:
		return http.StatusForbidden
	case types.ErrCodeInvalidPayment, types.ErrCodeInvalidConfiguration, types.ErrCodeUnsupportedToken:
		return http.StatusBadRequest
	case types.ErrCodeNotInitialized:
		return http.StatusServiceUnavailable
	case types.ErrCodeAlreadyInitialized:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
