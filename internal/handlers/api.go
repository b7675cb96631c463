package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sdko-org/trackerspotter/internal/export"
	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sdko-org/trackerspotter/internal/store"
	"github.com/sirupsen/logrus"
)

// EventStore is the read and bulk-delete side of the event log.
type EventStore interface {
	Query(ctx context.Context, f store.Filter) ([]models.AnnounceEvent, error)
	UniqueTorrents(ctx context.Context) ([]store.TorrentSummary, error)
	EventCounts(ctx context.Context) (map[string]int64, error)
	Stats(ctx context.Context) (store.Stats, error)
	ClearAll(ctx context.Context) (int64, error)
}

// ClearNotifier is told when the log has been wiped.
type ClearNotifier interface {
	PublishCleared(deleted int64)
}

type APIHandler struct {
	log      *logrus.Entry
	events   EventStore
	notifier ClearNotifier
	now      func() time.Time
}

func NewAPIHandler(logger *logrus.Logger, events EventStore, notifier ClearNotifier) *APIHandler {
	return &APIHandler{
		log:      logger.WithField("component", "api"),
		events:   events,
		notifier: notifier,
		now:      time.Now,
	}
}

func (h *APIHandler) Events(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query(), store.DefaultLimit)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.events.Query(r.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("Event query failed")
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  models.NewEventViews(events),
		"count":   len(events),
	})
}

func (h *APIHandler) Torrents(w http.ResponseWriter, r *http.Request) {
	torrents, err := h.events.UniqueTorrents(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Torrent query failed")
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if torrents == nil {
		torrents = []store.TorrentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"torrents": torrents,
		"count":    len(torrents),
	})
}

func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.events.Stats(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Stats query failed")
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	counts, err := h.events.EventCounts(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Event count query failed")
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"stats":        st,
		"event_counts": counts,
	})
}

func (h *APIHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deleted, err := h.events.ClearAll(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Clear failed")
		writeAPIError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	h.notifier.PublishCleared(deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
	})
}

func (h *APIHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	events, ok := h.exportEvents(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", h.attachment("csv"))
	if err := export.WriteCSV(w, events); err != nil {
		h.log.WithError(err).Error("CSV export failed")
	}
}

func (h *APIHandler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	events, ok := h.exportEvents(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", h.attachment("json"))
	if err := export.WriteJSON(w, events, h.now()); err != nil {
		h.log.WithError(err).Error("JSON export failed")
	}
}

func (h *APIHandler) ExportJSONLGzip(w http.ResponseWriter, r *http.Request) {
	events, ok := h.exportEvents(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", h.attachment("jsonl.gz"))
	if err := export.WriteJSONLGzip(w, events); err != nil {
		h.log.WithError(err).Error("JSONL export failed")
	}
}

func (h *APIHandler) exportEvents(w http.ResponseWriter, r *http.Request) ([]models.AnnounceEvent, bool) {
	f, err := parseFilter(r.URL.Query(), store.MaxLimit)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	events, err := h.events.Query(r.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("Export query failed")
		writeAPIError(w, http.StatusInternalServerError, "query failed")
		return nil, false
	}
	h.log.WithField("events", len(events)).Info("Exporting events")
	return events, true
}

func (h *APIHandler) attachment(ext string) string {
	return fmt.Sprintf(`attachment; filename="trackerspotter_export_%s.%s"`,
		h.now().UTC().Format("20060102_150405"), ext)
}

// parseFilter reads the dashboard query parameters. "all" or an empty
// event_type means any kind.
func parseFilter(q url.Values, defaultLimit int) (store.Filter, error) {
	f := store.Filter{
		InfoHashHex: strings.TrimSpace(q.Get("info_hash")),
		Search:      strings.TrimSpace(q.Get("search")),
		Limit:       defaultLimit,
	}

	if et := q.Get("event_type"); et != "" && et != "all" {
		kind, ok := models.ParseEventKind(et)
		if !ok {
			return f, fmt.Errorf("unknown event_type %q", et)
		}
		f.Kind = &kind
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, fmt.Errorf("invalid since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, fmt.Errorf("invalid until: %w", err)
	}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", l)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
