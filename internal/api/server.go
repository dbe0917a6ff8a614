// Package api exposes the chat assistant over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/shopassist/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP surface needs. Catalog routes are mounted only
// when both Catalog and Token are set.
type Deps struct {
	Chat    *pipeline.Chat
	Catalog CatalogAdmin
	Token   string
}

// NewHandler returns the full HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/messages", handleSendMessage(deps.Chat))
		r.Get("/sessions/latest", handleLatestSession(deps.Chat))
		r.Get("/sessions/{id}/messages", handleSessionMessages(deps.Chat))
	})

	if deps.Catalog != nil && deps.Token != "" {
		r.Route("/api/catalog", func(r chi.Router) {
			r.Use(BearerAuth(deps.Token))
			r.Post("/import", handleImportCatalog(deps.Catalog))
			r.Get("/products/{id}/availability", handleAvailability(deps.Catalog))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// internalError logs err and answers with a generic 500.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err, "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path)
	httpError(w, http.StatusInternalServerError, "api_error", "internal error")
}
