package http

import (
	"context"
	"embed"
	"html/template"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/client/view"
	"github.com/atinyakov/GifHub/internal/middleware"
)

// Controller is the view controller driving the page.
type Controller interface {
	View() view.Model
	Connect(ctx context.Context) error
	Initialize(ctx context.Context) error
	SetInput(text string)
	Submit(ctx context.Context) error
	Refresh(ctx context.Context) error
	Watch(fn func(view.Model)) (unwatch func())
}

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("index.html").ParseFS(templateFS, "templates/index.html"))

// UIHandler renders the page and handles its HTML form posts. Form
// actions always redirect back to the page; failures show up as the
// notice of the next render.
type UIHandler struct {
	Controller Controller
	Logger     *zap.Logger
}

// Index renders the current view.
func (h *UIHandler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, h.Controller.View()); err != nil {
		h.Logger.Error("render page", zap.Error(err), zap.String("request_id", middleware.GetRequestID(r.Context())))
	}
}

// Connect handles the "Connect to Wallet" button.
func (h *UIHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Controller.Connect)
}

// Initialize handles the one-time initialization button.
func (h *UIHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Controller.Initialize)
}

// Submit takes the "link" form field as the pending input and appends it.
func (h *UIHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	h.Controller.SetInput(r.PostForm.Get("link"))
	h.act(w, r, h.Controller.Submit)
}

// Refresh re-reads the store.
func (h *UIHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Controller.Refresh)
}

func (h *UIHandler) act(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	if err := action(r.Context()); err != nil && !errors.Is(err, view.ErrBusy) {
		h.Logger.Debug("form action failed", zap.Error(err), zap.String("request_id", middleware.GetRequestID(r.Context())))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
