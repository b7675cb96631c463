package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes binds the tracker, the dashboard API and the live feed. Only
// /api is rate limited; torrent clients are never throttled.
func RegisterRoutes(r *mux.Router, th *TrackerHandler, api *APIHandler, ws http.Handler, limiter *RateLimiter) {
	r.HandleFunc("/announce", th.Announce).Methods("GET")
	r.HandleFunc("/scrape", th.Scrape).Methods("GET")
	r.Handle("/ws", ws).Methods("GET")

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(limiter.Middleware)
	apiRouter.HandleFunc("/events", api.Events).Methods("GET")
	apiRouter.HandleFunc("/torrents", api.Torrents).Methods("GET")
	apiRouter.HandleFunc("/stats", api.Stats).Methods("GET")
	apiRouter.HandleFunc("/clear", api.Clear)
	apiRouter.HandleFunc("/export/csv", api.ExportCSV).Methods("GET")
	apiRouter.HandleFunc("/export/json", api.ExportJSON).Methods("GET")
	apiRouter.HandleFunc("/export/jsonl.gz", api.ExportJSONLGzip).Methods("GET")
}
