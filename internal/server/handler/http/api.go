package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/client/view"
	"github.com/atinyakov/GifHub/internal/failure"
)

// APIHandler exposes the controller as JSON.
type APIHandler struct {
	Controller Controller
	Logger     *zap.Logger
}

// ErrorResponse is the body of a failed action.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	State   view.Model `json:"state"`
}

// EntryRequest is the body of POST /api/entries.
type EntryRequest struct {
	Text string `json:"text"`
}

// State handles GET /api/state.
func (h *APIHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.View())
}

// Connect handles POST /api/connect.
func (h *APIHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Controller.Connect)
}

// Initialize handles POST /api/initialize.
func (h *APIHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Controller.Initialize)
}

// Submit handles POST /api/entries with a JSON body {"text": "..."}.
func (h *APIHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	h.Controller.SetInput(req.Text)
	h.act(w, r, h.Controller.Submit)
}

// Refresh handles POST /api/refresh.
func (h *APIHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Controller.Refresh)
}

func (h *APIHandler) act(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	err := action(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, h.Controller.View())
		return
	}
	status := statusOf(err)
	resp := ErrorResponse{Error: failure.Kind(err), Message: failure.Message(err), State: h.Controller.View()}
	if errors.Is(err, view.ErrBusy) {
		resp.Error = "busy"
		resp.Message = "That action is already in progress."
	}
	writeJSON(w, status, resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, view.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, failure.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, failure.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, failure.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, failure.ErrSubmissionRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, failure.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, failure.ErrWalletUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
