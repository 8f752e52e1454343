package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	nativecommon "stablecore/native/common"
	"stablecore/native/oracle"
	"stablecore/native/stable"
	"stablecore/native/token"
	"stablecore/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
)

const (
	codeParseError        = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeUnauthorized      = -32001
	codeServerError       = -32000
	codeRateLimited       = -32020
	codeHealthFactor      = -32030
	codePositionHealthy   = -32031
	codeNoImprovement     = -32032
	codeModulePaused      = -32040
	codeOracleUnavailable = -32050
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the stable core over JSON-RPC 2.0 on a single HTTP endpoint.
type Server struct {
	engine *stable.Engine
	debt   *token.DebtToken
	assets map[string]*token.AssetToken
	feeds  map[string]*oracle.ManualFeed
	logger *slog.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
}

// NewServer wires the RPC surface. The auth token is read from
// STABLE_RPC_TOKEN; when unset, mutating methods are rejected.
func NewServer(engine *stable.Engine, debt *token.DebtToken, logger *slog.Logger) *Server {
	authToken := strings.TrimSpace(os.Getenv("STABLE_RPC_TOKEN"))
	return &Server{
		engine:       engine,
		debt:         debt,
		assets:       make(map[string]*token.AssetToken),
		feeds:        make(map[string]*oracle.ManualFeed),
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    authToken,
	}
}

// RegisterAsset exposes a collateral asset ledger under its symbol.
func (s *Server) RegisterAsset(symbol string, ledger *token.AssetToken) {
	s.assets[strings.ToUpper(strings.TrimSpace(symbol))] = ledger
}

// RegisterFeed exposes a manual price feed for operator posting.
func (s *Server) RegisterFeed(name string, feed *oracle.ManualFeed) {
	s.feeds[strings.ToLower(strings.TrimSpace(name))] = feed
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return
	}
	if mutating {
		if err := s.authorize(r); err != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error(), nil)
			return
		}
		if err := s.throttle(r); err != nil {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, err.Error(), nil)
			return
		}
	}
	handler(w, req)
}

type handlerFunc func(http.ResponseWriter, RPCRequest)

// route resolves the method name and reports whether it mutates state.
func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "stable_depositCollateral":
		return s.handleDepositCollateral, true
	case "stable_mintDebt":
		return s.handleMintDebt, true
	case "stable_burnDebt":
		return s.handleBurnDebt, true
	case "stable_redeemCollateral":
		return s.handleRedeemCollateral, true
	case "stable_depositAndMint":
		return s.handleDepositAndMint, true
	case "stable_redeemForBurn":
		return s.handleRedeemForBurn, true
	case "stable_liquidate":
		return s.handleLiquidate, true
	case "stable_getAccountInformation":
		return s.handleGetAccountInformation, false
	case "stable_getUsdValue":
		return s.handleGetUsdValue, false
	case "stable_getTokenAmountFromUsd":
		return s.handleGetTokenAmountFromUsd, false
	case "stable_getCollateralBalance":
		return s.handleGetCollateralBalance, false
	case "stable_getHealthFactor":
		return s.handleGetHealthFactor, false
	case "stable_params":
		return s.handleParams, false
	case "oracle_setPrice":
		return s.handleSetPrice, true
	case "token_fund":
		return s.handleTokenFund, true
	case "token_approve":
		return s.handleTokenApprove, true
	case "token_balanceOf":
		return s.handleTokenBalanceOf, false
	}
	return nil, false
}

func (s *Server) authorize(r *http.Request) error {
	if s.authToken == "" {
		return errors.New("rpc auth token is not configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errors.New("missing bearer token")
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return errors.New("invalid bearer token")
	}
	return nil
}

func (s *Server) throttle(r *http.Request) error {
	source, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		source = r.RemoteAddr
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxTxPerWindow {
		return errors.New("transaction rate limit exceeded")
	}
	limiter.count++
	return nil
}

// writeEngineError maps engine failures onto stable JSON-RPC error codes so
// clients can branch without string matching.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, op string, err error) {
	metrics.Stable().ObserveOperation(op, err)
	var hfErr *stable.HealthFactorError
	switch {
	case errors.As(err, &hfErr):
		writeError(w, http.StatusConflict, id, codeHealthFactor, "operation would break position health factor", hfErr.Score.String())
	case errors.Is(err, stable.ErrInvalidAmount), errors.Is(err, stable.ErrUnsupportedAsset), errors.Is(err, stable.ErrLengthMismatch):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, stable.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, stable.ErrPositionHealthy):
		writeError(w, http.StatusConflict, id, codePositionHealthy, err.Error(), nil)
	case errors.Is(err, stable.ErrLiquidationNotImproved):
		writeError(w, http.StatusConflict, id, codeNoImprovement, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeModulePaused, err.Error(), nil)
	case errors.Is(err, oracle.ErrNoFreshQuote), errors.Is(err, oracle.ErrUnknownPair):
		metrics.Stable().ObserveOracleFailure(op)
		writeError(w, http.StatusServiceUnavailable, id, codeOracleUnavailable, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}
