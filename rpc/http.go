package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"perpstake/core/events"
	"perpstake/core/ledger"
	"perpstake/crypto"
	"perpstake/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	shutdownTimeout = 10 * time.Second
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeConflict       = -32030
	codeUnprocessable  = -32040
)

// Config wires the API server.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimit
	// FeeReporters may call fees_report and fees_reportSwap. An empty list
	// disables fee reporting over the API.
	FeeReporters []crypto.Address
	Faucet       bool
}

type Server struct {
	engine    *ledger.Engine
	stream    *events.Stream
	auth      *Authenticator
	limiter   *RateLimiter
	reporters map[crypto.Address]struct{}
	faucet    bool
	logger    *slog.Logger
	addr      string
	handler   http.Handler
}

func NewServer(engine *ledger.Engine, stream *events.Stream, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		stream:    stream,
		auth:      NewAuthenticator(cfg.Auth, logger),
		limiter:   NewRateLimiter(cfg.RateLimit),
		reporters: make(map[crypto.Address]struct{}, len(cfg.FeeReporters)),
		faucet:    cfg.Faucet,
		logger:    logger,
		addr:      cfg.ListenAddress,
	}
	for _, reporter := range cfg.FeeReporters {
		s.reporters[reporter] = struct{}{}
	}
	s.handler = otelhttp.NewHandler(s.routes(), "stakerd")
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(observe("/"), s.limiter.Middleware("/")).Post("/", s.handle)
	if s.stream != nil {
		r.Get("/ws/events", s.handleEventsWS)
	}
	return r
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("address", s.addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeEngineError reports a failed ledger operation with the status the
// error class maps to.
func (s *Server) writeEngineError(w http.ResponseWriter, req *RPCRequest, message string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("rpc: ledger operation failed", slog.String("method", req.Method), slog.Any("error", err))
	}
	writeError(w, status, req.ID, code, message, err.Error())
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "stake_getLedger":
		s.handleGetLedger(w, r, req)
	case "stake_getAccount":
		s.handleGetAccount(w, r, req)
	case "stake_pendingReward":
		s.handlePendingReward(w, r, req)
	case "stake_claimHistory":
		s.handleClaimHistory(w, r, req)
	case "stake_getBalance":
		s.handleGetBalance(w, r, req)
	case "stake_addLiquid":
		s.withActor(w, r, req, s.handleAddLiquid)
	case "stake_addLocked":
		s.withActor(w, r, req, s.handleAddLocked)
	case "stake_removeLiquid":
		s.withActor(w, r, req, s.handleRemoveLiquid)
	case "stake_finalizeLocked":
		s.withActor(w, r, req, s.handleFinalizeLocked)
	case "stake_removeLocked":
		s.withActor(w, r, req, s.handleRemoveLocked)
	case "stake_claim":
		s.withActor(w, r, req, s.handleClaim)
	case "round_resolve":
		s.withActor(w, r, req, s.handleResolveRound)
	case "fees_report":
		s.withActor(w, r, req, s.handleReportFee)
	case "fees_reportSwap":
		s.withActor(w, r, req, s.handleReportSwapFees)
	case "faucet_fund":
		if !s.faucet {
			writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "faucet disabled", nil)
			return
		}
		s.handleFund(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

type actorHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, actor crypto.Address)

func (s *Server) withActor(w http.ResponseWriter, r *http.Request, req *RPCRequest, next actorHandler) {
	actor, authErr := s.auth.Actor(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, r, req, actor)
}

// decodeParams unmarshals the single parameter object of req into dst.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object expected"}
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func observe(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			observability.API().Observe(route, r.Method, recorder.status, time.Since(start))
		})
	}
}
