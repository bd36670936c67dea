package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"escrowd/core"
	"escrowd/native/escrow"
	"escrowd/native/kvstore"
	"escrowd/native/ledger"
	"escrowd/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// AuthTokenEnv names the environment variable carrying the bearer token
	// required for mutating methods. Empty disables auth (local dev only).
	AuthTokenEnv = "ESCROWD_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeNotFound  = -32010
	codeForbidden = -32011
	codeConflict  = -32012
	codeOutOfFund = -32013
)

// Server exposes the node's command surface over JSON-RPC 2.0.
type Server struct {
	node      *core.Node
	authToken string
}

// NewServer creates a server bound to the node, reading the auth token from
// the environment.
func NewServer(node *core.Node) *Server {
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv(AuthTokenEnv)),
	}
}

// Start serves the RPC endpoint on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	slog.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

// Handler returns the HTTP handler, for embedding in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, 0, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, 0, codeInvalidRequest, "invalid_request", "request too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "parse_error", err.Error())
		return
	}

	module, method := splitMethod(req.Method)
	started := time.Now()
	handlerErr := s.dispatch(w, r, &req)
	observability.ModuleMetrics().Observe(module, method, handlerErr, time.Since(started))
}

func splitMethod(method string) (string, string) {
	parts := strings.SplitN(method, "_", 2)
	if len(parts) != 2 {
		return method, ""
	}
	return parts[0], parts[1]
}

// dispatch routes the request. The returned error mirrors what was written
// to the client and feeds the metrics; it is not written again.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	switch req.Method {
	case "escrow_create":
		return s.handleEscrowCreate(w, r, req)
	case "escrow_addTrustedHandlers":
		return s.handleEscrowAddTrustedHandlers(w, r, req)
	case "escrow_abort":
		return s.handleEscrowAbort(w, r, req)
	case "escrow_cancel":
		return s.handleEscrowCancel(w, r, req)
	case "escrow_complete":
		return s.handleEscrowComplete(w, r, req)
	case "escrow_noteIntermediateResults":
		return s.handleEscrowNoteIntermediateResults(w, r, req)
	case "escrow_storeFinalResults":
		return s.handleEscrowStoreFinalResults(w, r, req)
	case "escrow_bulkPayout":
		return s.handleEscrowBulkPayout(w, r, req)
	case "escrow_get":
		return s.handleEscrowGet(w, r, req)
	case "escrow_getFinalResults":
		return s.handleEscrowGetFinalResults(w, r, req)
	case "escrow_listByFactory":
		return s.handleEscrowListByFactory(w, r, req)
	case "token_transfer":
		return s.handleTokenTransfer(w, r, req)
	case "token_balanceOf":
		return s.handleTokenBalanceOf(w, r, req)
	case "token_totalSupply":
		return s.handleTokenTotalSupply(w, r, req)
	case "kv_set":
		return s.handleKVSet(w, r, req)
	case "kv_get":
		return s.handleKVGet(w, r, req)
	case "node_events":
		return s.handleNodeEvents(w, r, req)
	default:
		err := fmt.Errorf("method not found: %s", req.Method)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", err.Error())
		return err
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "bearer token required"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func writeResult(w http.ResponseWriter, id int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status, id, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

// writeDomainError maps a module error onto an HTTP status and RPC code so
// every handler reports failures uniformly.
func writeDomainError(w http.ResponseWriter, id int, err error) {
	status, code := http.StatusInternalServerError, codeServerError
	message := "server_error"
	switch {
	case errors.Is(err, escrow.ErrNonTrustedAccount):
		status, code, message = http.StatusForbidden, codeForbidden, "forbidden"
	case errors.Is(err, escrow.ErrMissingEscrow):
		status, code, message = http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, escrow.ErrOutOfFunds), errors.Is(err, ledger.ErrBalanceLow):
		status, code, message = http.StatusConflict, codeOutOfFund, "out_of_funds"
	case errors.Is(err, escrow.ErrEscrowClosed),
		errors.Is(err, escrow.ErrEscrowExpired),
		errors.Is(err, escrow.ErrEscrowNotPaid):
		status, code, message = http.StatusConflict, codeConflict, "conflict"
	case errors.Is(err, escrow.ErrStringSize),
		errors.Is(err, escrow.ErrStakeOutOfBounds),
		errors.Is(err, escrow.ErrTooManyHandlers),
		errors.Is(err, escrow.ErrMismatchBulkTransfer),
		errors.Is(err, escrow.ErrTooManyTos),
		errors.Is(err, escrow.ErrTransferTooBig),
		errors.Is(err, ledger.ErrAmountZero),
		errors.Is(err, ledger.ErrAmountNegative),
		errors.Is(err, kvstore.ErrKeyTooLong),
		errors.Is(err, kvstore.ErrValueTooLong):
		status, code, message = http.StatusBadRequest, codeInvalidParams, "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}

// decodeParams unmarshals the single parameter object every method expects.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}
