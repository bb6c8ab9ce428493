// Package rpc implements the JSON-RPC 2.0 server for stratus-ico.
//
// Method names and response shapes follow the Solana JSON-RPC API where a
// Solana method exists, so standard tooling can read balances and
// transactions. Sale-specific queries are added under their own names.
//
// Supported methods:
//   - Account: getAccountInfo, getBalance, getMultipleAccounts, getTokenAccountBalance
//   - Sale: getSaleState, getSaleAddresses, quoteBuy
//   - Transaction: sendTransaction, simulateTransaction, getTransaction,
//     getSignaturesForAddress, getSignatureStatuses, requestAirdrop
//   - Cluster: getSlot, getHealth, getVersion, getLatestBlockhash,
//     getMinimumBalanceForRentExemption
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
)

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8899",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 50 * 1024, // 50KB
		EnableCORS:     true,
	}
}

// Backend processes transactions on behalf of the server.
type Backend interface {
	// SendTransaction executes tx and returns its history record. A
	// transaction that ran and failed is returned with Meta.Err set; the
	// error is reserved for transactions that never executed.
	SendTransaction(ctx context.Context, tx *runtime.Transaction) (*blockstore.Transaction, error)

	// SimulateTransaction executes tx without committing or recording it.
	SimulateTransaction(tx *runtime.Transaction, verify bool) *blockstore.Transaction

	// RequestAirdrop sends lamports from the faucet.
	RequestAirdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error)

	// LatestBlockhash returns the current recent-blockhash nonce and the
	// slot it was produced at.
	LatestBlockhash() (types.Hash, uint64)
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config

	// Dependencies
	accountsDB accounts.DB
	blockstore blockstore.Store
	sale       *ico.Machine
	backend    Backend

	healthy  bool
	healthMu sync.RWMutex

	// HTTP server
	server   *http.Server
	listener net.Listener

	// Method handlers
	handlers map[string]handlerFunc

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server.
func New(config Config, accountsDB accounts.DB, store blockstore.Store, sale *ico.Machine, backend Backend) *Server {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	s := &Server{
		config:     config,
		accountsDB: accountsDB,
		blockstore: store,
		sale:       sale,
		backend:    backend,
		healthy:    true,
		handlers:   make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMultipleAccounts"] = s.getMultipleAccounts
	s.handlers["getTokenAccountBalance"] = s.getTokenAccountBalance

	// Sale methods
	s.handlers["getSaleState"] = s.getSaleState
	s.handlers["getSaleAddresses"] = s.getSaleAddresses
	s.handlers["quoteBuy"] = s.quoteBuy

	// Transaction methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["simulateTransaction"] = s.simulateTransaction
	s.handlers["getTransaction"] = s.getTransaction
	s.handlers["getSignaturesForAddress"] = s.getSignaturesForAddress
	s.handlers["getSignatureStatuses"] = s.getSignatureStatuses
	s.handlers["requestAirdrop"] = s.requestAirdrop

	// Cluster methods
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getLatestBlockhash"] = s.getLatestBlockhash
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.running = true
	server := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.RPC.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")

	err = server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, solana-client")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		s.writeJSON(w, errorResponse(nil, ErrInvalidRequest))
		return
	}

	// Read one byte past the limit to detect oversized bodies.
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil || int64(len(body)) > s.config.MaxRequestSize {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}

	s.writeJSON(w, s.serve(r.Context(), req))
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeJSON(w, errorResponse(nil, ErrParseError))
		return
	}

	if len(requests) == 0 {
		s.writeJSON(w, errorResponse(nil, ErrInvalidRequest))
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = s.serve(ctx, req)
	}
	s.writeJSON(w, responses)
}

// serve validates and dispatches one request.
func (s *Server) serve(ctx context.Context, req Request) Response {
	if req.JSONRPC != JSONRPCVersion {
		return errorResponse(req.ID, ErrInvalidRequest)
	}

	start := time.Now()
	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
	if s.config.LogRequests {
		ev := log.RPC.Info().Str("method", req.Method).Dur("took", time.Since(start))
		if rpcErr != nil {
			ev = ev.Int("code", rpcErr.Code)
		}
		ev.Msg("request")
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	return handler(ctx, params)
}

func errorResponse(id interface{}, err *RPCError) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.RPC.Debug().Err(err).Msg("write response")
	}
}
