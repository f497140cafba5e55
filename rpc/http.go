package rpc

import (
	"bytes"
	"context"
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"omnivault/audit"
	"omnivault/core"
	"omnivault/native/valuation"
	"omnivault/observability"
	"omnivault/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// ServerConfig carries the transport hardening knobs. Zero values fall back
// to safe defaults; an empty token plus disabled JWT leaves every mutating
// method rejected rather than open.
type ServerConfig struct {
	// AuthToken is the static bearer credential. When empty, AuthTokenEnv
	// is consulted.
	AuthToken    string
	AuthTokenEnv string

	JWT JWTConfig

	// RequestsPerMinute bounds mutating calls per client source.
	RequestsPerMinute float64
	Burst             int

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type Server struct {
	vault  *core.Vault
	logger *slog.Logger

	authToken string
	jwt       *jwtVerifier
	limits    *sourceLimits
	metrics   interface {
		Observe(module, method string, status int, duration time.Duration)
		RecordThrottle(module, reason string)
	}

	vaultModule    *modules.VaultModule
	registryModule *modules.RegistryModule
	oracleModule   *modules.OracleModule
	auditModule    *modules.AuditModule

	httpServer *http.Server
	cfg        ServerConfig
}

// NewServer wires the RPC surface over a vault. The sample store and journal
// may be nil; the corresponding query methods then report not-configured.
func NewServer(vault *core.Vault, samples *valuation.SampleStore, journal *audit.Journal, cfg ServerConfig) (*Server, error) {
	if vault == nil {
		return nil, fmt.Errorf("rpc: vault required")
	}

	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" && cfg.AuthTokenEnv != "" {
		token = strings.TrimSpace(os.Getenv(cfg.AuthTokenEnv))
	}

	verifier, err := newJWTVerifier(cfg.JWT)
	if err != nil {
		return nil, err
	}

	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 600
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 30
	}

	return &Server{
		vault:          vault,
		logger:         slog.Default().With(slog.String("component", "rpc")),
		authToken:      token,
		jwt:            verifier,
		limits:         newSourceLimits(perMinute, burst),
		metrics:        observability.ModuleMetrics(),
		vaultModule:    modules.NewVaultModule(vault, journal),
		registryModule: modules.NewRegistryModule(vault),
		oracleModule:   modules.NewOracleModule(vault, samples),
		auditModule:    modules.NewAuditModule(journal),
		cfg:            cfg,
	}, nil
}

// Handler assembles the HTTP routing tree: the JSON-RPC endpoint at the
// root, Prometheus metrics, and a liveness probe.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealth)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Post("/", s.handle)
	return otelhttp.NewHandler(router, "omnivault.rpc")
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultDuration(s.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       defaultDuration(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      defaultDuration(s.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       defaultDuration(s.cfg.IdleTimeout, 2*time.Minute),
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func defaultDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
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

func writeModuleError(w http.ResponseWriter, id interface{}, err *modules.ModuleError) {
	writeError(w, err.HTTPStatus, id, err.Code, err.Message, err.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
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

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r, req)
	if s.metrics != nil {
		module, _, _ := strings.Cut(req.Method, "_")
		s.metrics.Observe(module, req.Method, recorder.status, time.Since(start))
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if mutatesState(req.Method) {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.limits.allow(clientSource(r)) {
			if s.metrics != nil {
				module, _, _ := strings.Cut(req.Method, "_")
				s.metrics.RecordThrottle(module, "rate_limit")
			}
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded for source", nil)
			return
		}
	}

	switch req.Method {
	case "vault_deposit":
		s.handleVaultDeposit(w, r, req)
	case "vault_withdraw":
		s.handleVaultWithdraw(w, r, req)
	case "vault_execute":
		s.handleVaultExecute(w, r, req)
	case "vault_accrueReward":
		s.handleVaultAccrueReward(w, r, req)
	case "vault_getTotalAssets":
		s.handleVaultGetTotalAssets(w, r, req)
	case "vault_getMarketValue":
		s.handleVaultGetMarketValue(w, r, req)
	case "vault_getSharePrice":
		s.handleVaultGetSharePrice(w, r, req)
	case "vault_convertToShares":
		s.handleVaultConvertToShares(w, r, req)
	case "vault_convertToAssets":
		s.handleVaultConvertToAssets(w, r, req)
	case "vault_getShares":
		s.handleVaultGetShares(w, r, req)
	case "vault_getBalance":
		s.handleVaultGetBalance(w, r, req)
	case "vault_getIdleBalance":
		s.handleVaultGetIdleBalance(w, r, req)
	case "vault_getLedger":
		s.handleVaultGetLedger(w, r, req)
	case "registry_createMarket":
		s.handleRegistryCreateMarket(w, r, req)
	case "registry_setBalanceFuse":
		s.handleRegistrySetBalanceFuse(w, r, req)
	case "registry_setDependencies":
		s.handleRegistrySetDependencies(w, r, req)
	case "registry_grantSubstrates":
		s.handleRegistryGrantSubstrates(w, r, req)
	case "registry_revokeSubstrates":
		s.handleRegistryRevokeSubstrates(w, r, req)
	case "registry_installFuse":
		s.handleRegistryInstallFuse(w, r, req)
	case "registry_registerAsset":
		s.handleRegistryRegisterAsset(w, r, req)
	case "registry_mintAsset":
		s.handleRegistryMintAsset(w, r, req)
	case "registry_grantRole":
		s.handleRegistryGrantRole(w, r, req)
	case "registry_revokeRole":
		s.handleRegistryRevokeRole(w, r, req)
	case "registry_listMarkets":
		s.handleRegistryListMarkets(w, r, req)
	case "registry_getMarket":
		s.handleRegistryGetMarket(w, r, req)
	case "registry_listSubstrates":
		s.handleRegistryListSubstrates(w, r, req)
	case "registry_listFuses":
		s.handleRegistryListFuses(w, r, req)
	case "registry_listAssets":
		s.handleRegistryListAssets(w, r, req)
	case "registry_listRoleMembers":
		s.handleRegistryListRoleMembers(w, r, req)
	case "oracle_submitPrice":
		s.handleOracleSubmitPrice(w, r, req)
	case "oracle_listPrices":
		s.handleOracleListPrices(w, r, req)
	case "oracle_getHistory":
		s.handleOracleGetHistory(w, r, req)
	case "audit_getRecentBatches":
		s.handleAuditGetRecentBatches(w, r, req)
	case "audit_getBatchesByDigest":
		s.handleAuditGetBatchesByDigest(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// mutatesState reports whether a method changes vault state or oracle
// quotes. These require authentication and consume the source rate budget.
func mutatesState(method string) bool {
	switch method {
	case "vault_deposit", "vault_withdraw", "vault_execute", "vault_accrueReward",
		"registry_createMarket", "registry_setBalanceFuse", "registry_setDependencies",
		"registry_grantSubstrates", "registry_revokeSubstrates", "registry_installFuse",
		"registry_registerAsset", "registry_mintAsset", "registry_grantRole", "registry_revokeRole",
		"oracle_submitPrice":
		return true
	}
	return false
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" && s.jwt == nil {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if s.authToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1 {
		return nil
	}
	if s.jwt != nil {
		if err := s.jwt.verify(token); err == nil {
			return nil
		}
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
