// Package tracker decodes BEP 3 (HTTP) and BEP 15 (UDP) tracker requests into
// models.AnnounceEvent values and encodes the matching responses.
//
// The tracker is a passive observer: it records whatever a client sends and
// never validates hash lengths or returns real peers.
package tracker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sdko-org/trackerspotter/internal/bencode"
	"github.com/sdko-org/trackerspotter/internal/models"
)

const (
	DefaultInterval = 1800
	DefaultNumWant  = 50
	MaxNumWant      = 200
	MaxPort         = 65535
)

var (
	ErrMissingInfoHash = errors.New("missing info_hash")
	ErrMissingPeerID   = errors.New("missing peer_id")
	ErrBadEncoding     = errors.New("invalid percent-encoding")
)

// RequestMeta is what the HTTP layer observed about a request, as opposed to
// what the client claims in the query string.
type RequestMeta struct {
	ClientIP   string
	UserAgent  string
	RawHeaders string
	ReceivedAt time.Time
}

// ParseAnnounce turns a BEP 3 announce query string into an event.
//
// info_hash and peer_id are percent-decoded to raw bytes and stored hex encoded.
// A hash of any length is accepted. Numeric fields fall back to defaults when
// missing or non-numeric and are clamped to their protocol ranges otherwise.
func ParseAnnounce(raw string, meta RequestMeta) (*models.AnnounceEvent, error) {
	q := parseRawQuery(raw)

	infoHash, err := requiredBytes(q, "info_hash", ErrMissingInfoHash)
	if err != nil {
		return nil, err
	}
	peerID, err := requiredBytes(q, "peer_id", ErrMissingPeerID)
	if err != nil {
		return nil, err
	}

	return &models.AnnounceEvent{
		Timestamp:   meta.ReceivedAt,
		InfoHashHex: hex.EncodeToString([]byte(infoHash)),
		InfoHashRaw: hex.EncodeToString([]byte(infoHash)),
		PeerID:      hex.EncodeToString([]byte(peerID)),
		ClientIP:    meta.ClientIP,
		ClientPort:  int(q.intRange("port", 0, 0, MaxPort)),
		Uploaded:    q.intRange("uploaded", 0, 0, math.MaxInt64),
		Downloaded:  q.intRange("downloaded", 0, 0, math.MaxInt64),
		Left:        q.intRange("left", 0, 0, math.MaxInt64),
		Kind:        normalizeEvent(q.str("event")),
		UserAgent:   meta.UserAgent,
		NumWant:     clampNumWant(q.integer("numwant")),
		Compact:     int(q.intRange("compact", 1, 0, 1)),
		Key:         q.str("key"),
		RawQuery:    raw,
		RawHeaders:  meta.RawHeaders,
	}, nil
}

func requiredBytes(q rawQuery, key string, missing error) (string, error) {
	p, ok := q.first(key)
	if !ok {
		return "", missing
	}
	if p.err != nil {
		return "", fmt.Errorf("%s: %w", key, ErrBadEncoding)
	}
	if p.value == "" {
		return "", missing
	}
	return p.value, nil
}

// clampNumWant treats a missing or negative numwant as "client default" and caps
// the rest at MaxNumWant.
func clampNumWant(n int64, ok bool) int {
	if !ok || n < 0 {
		return DefaultNumWant
	}
	return int(clamp(n, 0, MaxNumWant))
}

// normalizeEvent keeps announces within started/completed/stopped/update.
// Anything else, including "empty" and "paused", is recorded as an update; the
// original value stays visible in the raw query.
func normalizeEvent(event string) models.EventKind {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "started":
		return models.EventStarted
	case "completed":
		return models.EventCompleted
	case "stopped":
		return models.EventStopped
	default:
		return models.EventUpdate
	}
}

// ScrapeItem is the outcome for one info_hash of a scrape request. Exactly one
// of Event and Skipped is set.
type ScrapeItem struct {
	RawHash string
	Event   *models.AnnounceEvent
	Skipped error
}

// ParseScrape returns one item per info_hash parameter in request order.
// Malformed hashes are reported as skipped items rather than failing the request.
func ParseScrape(raw string, meta RequestMeta) []ScrapeItem {
	q := parseRawQuery(raw)
	params := q.all("info_hash")
	items := make([]ScrapeItem, 0, len(params))
	for _, p := range params {
		switch {
		case p.err != nil:
			items = append(items, ScrapeItem{Skipped: fmt.Errorf("info_hash: %w", ErrBadEncoding)})
		case p.value == "":
			items = append(items, ScrapeItem{Skipped: ErrMissingInfoHash})
		default:
			items = append(items, ScrapeItem{
				RawHash: p.value,
				Event:   NewScrapeEvent([]byte(p.value), meta, raw),
			})
		}
	}
	return items
}

// NewScrapeEvent builds the record for one scraped hash. Scrape events carry no
// peer id and zero counters.
func NewScrapeEvent(hash []byte, meta RequestMeta, raw string) *models.AnnounceEvent {
	return &models.AnnounceEvent{
		Timestamp:   meta.ReceivedAt,
		InfoHashHex: hex.EncodeToString(hash),
		InfoHashRaw: hex.EncodeToString(hash),
		ClientIP:    meta.ClientIP,
		Kind:        models.EventScrape,
		UserAgent:   meta.UserAgent,
		NumWant:     0,
		Compact:     0,
		RawQuery:    raw,
		RawHeaders:  meta.RawHeaders,
	}
}

// AnnounceResponse is the bencoded reply to every accepted announce. There are
// never any peers: compact clients get an empty byte string, others an empty list.
func AnnounceResponse(interval int, compact bool) ([]byte, error) {
	resp := map[string]any{
		"interval":   interval,
		"complete":   0,
		"incomplete": 0,
	}
	if compact {
		resp["peers"] = ""
	} else {
		resp["peers"] = []any{}
	}
	return bencode.Marshal(resp)
}

// FailureResponse is the BEP 3 error body. It is sent with HTTP 200.
func FailureResponse(reason string) ([]byte, error) {
	return bencode.Marshal(map[string]any{"failure reason": reason})
}

// ScrapeResponse echoes every raw hash with zero counters.
func ScrapeResponse(rawHashes []string) ([]byte, error) {
	files := make(map[string]any, len(rawHashes))
	for _, h := range rawHashes {
		files[h] = map[string]any{
			"complete":   0,
			"downloaded": 0,
			"incomplete": 0,
		}
	}
	return bencode.Marshal(map[string]any{"files": files})
}
