// Package http serves the GIF board to a browser: a server-rendered page
// with form actions, a JSON API and a websocket stream of view updates.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/GifHub/internal/middleware"
)

// NewRouter constructs the HTTP handler of the client UI.
//
// Routes:
//
//	GET  /                 → ui.Index
//	POST /connect          → ui.Connect
//	POST /initialize       → ui.Initialize
//	POST /entries          → ui.Submit
//	POST /refresh          → ui.Refresh
//	GET  /api/state        → api.State
//	POST /api/connect      → api.Connect
//	POST /api/initialize   → api.Initialize
//	POST /api/entries      → api.Submit
//	POST /api/refresh      → api.Refresh
//	GET  /api/events       → events.Stream (websocket)
//
// The JSON POST routes only accept Content-Type: application/json.
func NewRouter(ui *UIHandler, api *APIHandler, events *EventsHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.WithRequestID)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", ui.Index)
	r.Post("/connect", ui.Connect)
	r.Post("/initialize", ui.Initialize)
	r.Post("/entries", ui.Submit)
	r.Post("/refresh", ui.Refresh)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", api.State)
		r.Get("/events", events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/json"))
			r.Post("/connect", api.Connect)
			r.Post("/initialize", api.Initialize)
			r.Post("/entries", api.Submit)
			r.Post("/refresh", api.Refresh)
		})
	})

	return r
}
