package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API router
func NewRouter(h *Handlers, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(secret))

	r.Get("/nodes", h.handleNodes)
	r.Get("/backlog", h.handleBacklog)
	r.Get("/sinks", h.handleSinks)

	r.Route("/channels", func(r chi.Router) {
		r.Get("/", h.handleChannels)
		r.Route("/{channelID}", func(r chi.Router) {
			r.Get("/gaps", h.handleGaps)
			r.Get("/batches", h.handleBatches)
			r.Get("/stats", h.handleStats)
			r.Post("/route", h.handleRoute)
		})
	})
	return r
}

// RegisterRoutes mounts the admin API under /admin
func RegisterRoutes(mux *http.ServeMux, h *Handlers, secret string) {
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", NewRouter(h, secret)))
	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
