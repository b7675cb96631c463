package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sdko-org/trackerspotter/internal/tracker"
	"github.com/sirupsen/logrus"
)

// Recorder persists accepted tracker events.
type Recorder interface {
	Insert(ctx context.Context, e *models.AnnounceEvent) (uint64, error)
}

// Broadcaster fans stored events out to live subscribers without blocking.
type Broadcaster interface {
	Broadcast(e models.AnnounceEvent)
}

type TrackerHandler struct {
	log         *logrus.Entry
	recorder    Recorder
	broadcaster Broadcaster
	interval    int
	trustProxy  bool
	now         func() time.Time
}

func NewTrackerHandler(logger *logrus.Logger, recorder Recorder, broadcaster Broadcaster, interval int, trustProxy bool) *TrackerHandler {
	if interval <= 0 {
		interval = tracker.DefaultInterval
	}
	return &TrackerHandler{
		log:         logger.WithField("component", "http_tracker"),
		recorder:    recorder,
		broadcaster: broadcaster,
		interval:    interval,
		trustProxy:  trustProxy,
		now:         time.Now,
	}
}

func (h *TrackerHandler) Announce(w http.ResponseWriter, r *http.Request) {
	meta := h.requestMeta(r)
	e, err := tracker.ParseAnnounce(r.URL.RawQuery, meta)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"client_ip": meta.ClientIP,
			"error":     err,
		}).Warn("Rejected announce")
		h.writeFailure(w, err.Error())
		return
	}

	h.record(r.Context(), e)

	h.log.WithFields(logrus.Fields{
		"event":      e.Kind.Label(),
		"info_hash":  e.ShortHash(),
		"client":     fmt.Sprintf("%s:%d", e.ClientIP, e.ClientPort),
		"uploaded":   e.Uploaded,
		"downloaded": e.Downloaded,
		"left":       e.Left,
	}).Info("HTTP announce")

	body, err := tracker.AnnounceResponse(h.interval, e.Compact == 1)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode announce response")
		h.writeFailure(w, "internal error")
		return
	}
	writeBencode(w, body)
}

func (h *TrackerHandler) Scrape(w http.ResponseWriter, r *http.Request) {
	meta := h.requestMeta(r)
	items := tracker.ParseScrape(r.URL.RawQuery, meta)

	hashes := make([]string, 0, len(items))
	for _, item := range items {
		if item.Skipped != nil {
			h.log.WithFields(logrus.Fields{
				"client_ip": meta.ClientIP,
				"error":     item.Skipped,
			}).Debug("Skipped scrape hash")
			continue
		}
		h.record(r.Context(), item.Event)
		hashes = append(hashes, item.RawHash)
	}

	h.log.WithFields(logrus.Fields{
		"client_ip": meta.ClientIP,
		"hashes":    len(hashes),
		"skipped":   len(items) - len(hashes),
	}).Info("HTTP scrape")

	body, err := tracker.ScrapeResponse(hashes)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode scrape response")
		h.writeFailure(w, "internal error")
		return
	}
	writeBencode(w, body)
}

// record stores e and broadcasts it. Failures stay on this side of the wire.
func (h *TrackerHandler) record(ctx context.Context, e *models.AnnounceEvent) {
	if _, err := h.recorder.Insert(ctx, e); err != nil {
		h.log.WithError(err).WithField("info_hash", e.ShortHash()).Error("Failed to store event")
		return
	}
	h.broadcaster.Broadcast(*e)
}

func (h *TrackerHandler) writeFailure(w http.ResponseWriter, reason string) {
	body, err := tracker.FailureResponse(reason)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode failure response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeBencode(w, body)
}

func (h *TrackerHandler) requestMeta(r *http.Request) tracker.RequestMeta {
	var headers bytes.Buffer
	r.Header.Write(&headers)
	return tracker.RequestMeta{
		ClientIP:   getClientIP(r, h.trustProxy),
		UserAgent:  r.UserAgent(),
		RawHeaders: headers.String(),
		ReceivedAt: h.now(),
	}
}
