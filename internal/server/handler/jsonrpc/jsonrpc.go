// Package jsonrpc serves the ledger emulator over the subset of the
// Solana JSON-RPC API used by the GIF client.
package jsonrpc

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/middleware"
	"github.com/atinyakov/GifHub/internal/models"
	"github.com/atinyakov/GifHub/internal/service"
)

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// LedgerService defines the ledger operations exposed over JSON-RPC.
type LedgerService interface {
	Slot(ctx context.Context) (uint64, error)
	LatestBlockhash(ctx context.Context) (models.Blockhash, error)
	SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (string, error)
	SignatureStatuses(ctx context.Context, sigs []string) ([]*models.SignatureStatus, error)
	AccountInfo(ctx context.Context, address string) (*models.LedgerAccount, error)
}

// Handler dispatches JSON-RPC requests to a LedgerService.
type Handler struct {
	Ledger LedgerService
	Logger *zap.Logger
}

// NewRouter mounts the JSON-RPC endpoint at POST / and a health check
// at GET /health.
func NewRouter(h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.WithRequestID)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	r.With(chiMiddleware.AllowContentType("application/json")).Post("/", h.Serve)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type withContext struct {
	Context rpcContext `json:"context"`
	Value   any        `json:"value"`
}

// Serve handles a single JSON-RPC request.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.write(w, response{Error: &rpcError{Code: codeParseError, Message: "Parse error"}})
		return
	}
	resp := response{ID: req.ID}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &rpcError{Code: codeInvalidRequest, Message: "Invalid request"}
		h.write(w, resp)
		return
	}

	result, err := h.dispatch(r.Context(), req)
	if err != nil {
		resp.Error = h.toRPCError(r.Context(), req.Method, err)
	} else {
		resp.Result = result
	}
	h.write(w, resp)
}

func (h *Handler) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case "getHealth":
		return "ok", nil
	case "getSlot":
		return h.Ledger.Slot(ctx)
	case "getLatestBlockhash":
		b, err := h.Ledger.LatestBlockhash(ctx)
		if err != nil {
			return nil, err
		}
		return withContext{
			Context: rpcContext{Slot: b.Slot},
			Value: map[string]any{
				"blockhash":            b.Hash,
				"lastValidBlockHeight": b.LastValidBlockHeight,
			},
		}, nil
	case "sendTransaction":
		return h.sendTransaction(ctx, req.Params)
	case "getSignatureStatuses":
		return h.signatureStatuses(ctx, req.Params)
	case "getAccountInfo":
		return h.accountInfo(ctx, req.Params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "Method not found"}
	}
}

func (h *Handler) sendTransaction(ctx context.Context, params []json.RawMessage) (any, error) {
	var encoded string
	if len(params) < 1 || json.Unmarshal(params[0], &encoded) != nil {
		return nil, invalidParams("expected encoded transaction")
	}
	var cfg struct {
		Encoding      string `json:"encoding"`
		SkipPreflight bool   `json:"skipPreflight"`
	}
	if len(params) > 1 {
		if err := json.Unmarshal(params[1], &cfg); err != nil {
			return nil, invalidParams("invalid config")
		}
	}
	var (
		raw []byte
		err error
	)
	// base58 is the default encoding of sendTransaction.
	switch cfg.Encoding {
	case "", "base58":
		raw, err = base58.Decode(encoded)
	case "base64":
		raw, err = base64.StdEncoding.DecodeString(encoded)
	default:
		return nil, invalidParams("unsupported encoding " + cfg.Encoding)
	}
	if err != nil || len(raw) == 0 {
		return nil, invalidParams("invalid " + cmp.Or(cfg.Encoding, "base58") + " transaction")
	}
	return h.Ledger.SendTransaction(ctx, raw, cfg.SkipPreflight)
}

type signatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

func (h *Handler) signatureStatuses(ctx context.Context, params []json.RawMessage) (any, error) {
	var sigs []string
	if len(params) < 1 || json.Unmarshal(params[0], &sigs) != nil {
		return nil, invalidParams("expected signature list")
	}
	statuses, err := h.Ledger.SignatureStatuses(ctx, sigs)
	if err != nil {
		return nil, err
	}
	slot, err := h.Ledger.Slot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*signatureStatus, len(statuses))
	for i, st := range statuses {
		if st == nil {
			continue
		}
		s := &signatureStatus{Slot: st.Slot, ConfirmationStatus: "finalized", Err: json.RawMessage("null")}
		if st.Err != nil {
			s.Err = json.RawMessage(*st.Err)
		}
		out[i] = s
	}
	return withContext{Context: rpcContext{Slot: slot}, Value: out}, nil
}

type accountInfo struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
	Space      int       `json:"space"`
	Data       [2]string `json:"data"`
}

func (h *Handler) accountInfo(ctx context.Context, params []json.RawMessage) (any, error) {
	var address string
	if len(params) < 1 || json.Unmarshal(params[0], &address) != nil {
		return nil, invalidParams("expected account address")
	}
	acc, err := h.Ledger.AccountInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	slot, err := h.Ledger.Slot(ctx)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return withContext{Context: rpcContext{Slot: slot}, Value: nil}, nil
	}
	return withContext{
		Context: rpcContext{Slot: slot},
		Value: accountInfo{
			Lamports:   acc.Lamports,
			Owner:      acc.Owner,
			Executable: acc.Executable,
			Space:      len(acc.Data),
			Data:       [2]string{base64.StdEncoding.EncodeToString(acc.Data), "base64"},
		},
	}, nil
}

func (e *rpcError) Error() string {
	return e.Message
}

func invalidParams(msg string) error {
	return &rpcError{Code: codeInvalidParams, Message: "Invalid params: " + msg}
}

func (h *Handler) toRPCError(ctx context.Context, method string, err error) *rpcError {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var txErr *service.TxError
	if errors.As(err, &txErr) {
		return &rpcError{Code: txErr.Code, Message: txErr.Message}
	}
	h.Logger.Error("rpc call failed",
		zap.String("method", method),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Error(err))
	return &rpcError{Code: codeInternalError, Message: "Internal error"}
}

func (h *Handler) write(w http.ResponseWriter, resp response) {
	resp.JSONRPC = "2.0"
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
