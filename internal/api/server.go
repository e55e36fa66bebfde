package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/flowreel/internal/proxy"
	"github.com/shehryarbajwa/flowreel/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. metrics may be nil.
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/batches", h.CreateBatch).Methods("POST")
	api.HandleFunc("/batches", h.ListBatches).Methods("GET")
	api.HandleFunc("/batches/{id}", h.GetBatch).Methods("GET")
	api.HandleFunc("/batches/{id}/scenes/{index:[0-9]+}", h.DeleteScene).Methods("DELETE")
	api.HandleFunc("/batches/{id}/assemble", h.AssembleBatch).Methods("POST")
	api.HandleFunc("/batches/{id}/cookies/export", h.ExportCookies).Methods("POST")

	// Endpoints that submit generations spend the workspace budget
	submitting := api.PathPrefix("").Subrouter()
	submitting.Use(RateLimitMiddleware(rateLimiter, func(r *http.Request) string {
		return h.batches.WorkspaceOf(mux.Vars(r)["id"])
	}))
	submitting.HandleFunc("/batches/{id}/run", h.RunBatch).Methods("POST")
	submitting.HandleFunc("/batches/{id}/scenes/{index:[0-9]+}/regenerate", h.RegenerateScene).Methods("POST")

	// Live view (not rate limited - frequent polling)
	api.HandleFunc("/batches/{id}/screenshot", h.GetScreenshot).Methods("GET")
	api.HandleFunc("/batches/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		proxyServer.HandleDebugConnection(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	r.Use(loggingMiddleware(h.logger))
	r.Use(corsMiddleware)

	return r
}
