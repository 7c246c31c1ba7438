package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthTimeout = 2 * time.Second

var errDatabaseUnavailable = errors.New("database unavailable")

// RegisterRoutes mounts /health and the protected /api routes.
func (h *Handler) RegisterRoutes(r chi.Router, protect ...func(http.Handler) http.Handler) {
	r.Get("/health", RestHandler(h.Health))

	r.Route("/api", func(r chi.Router) {
		r.Use(protect...)

		r.Post("/user/sync", RestHandler(h.SyncUser))
		r.Get("/user/profile", RestHandler(h.GetProfile))
		r.Put("/user/profile", RestHandler(h.UpdateProfile))
		r.Get("/user/preferences", RestHandler(h.GetPreferences))
		r.Post("/user/preferences", RestHandler(h.SavePreferences))
		r.Get("/user/stats", RestHandler(h.GetStats))

		r.Get("/searches/history", RestHandler(h.GetSearchHistory))
		r.Post("/searches", RestHandler(h.SaveSearch))
		r.Delete("/searches/{id}", RestHandler(h.DeleteSearch))
		r.Delete("/searches", RestHandler(h.ClearSearchHistory))

		r.Get("/chat/messages", RestHandler(h.GetChatMessages))
		r.Get("/chat/messages/pinned", RestHandler(h.GetPinnedMessages))
		r.Post("/chat/messages/{messageId}/pin", RestHandler(h.TogglePin))
		r.Delete("/chat/messages", RestHandler(h.ClearChatMessages))
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Health reports whether the store is reachable.
func (h *Handler) Health(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		return nil, &codedError{err: errDatabaseUnavailable, code: http.StatusServiceUnavailable, cause: err}
	}

	resp := HealthResponse{Status: "ok"}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Count()
	}
	return resp, nil
}
