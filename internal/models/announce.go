package models

import (
	"time"
)

// EventKind is the normalized tracker event. The empty kind is a periodic update.
type EventKind string

const (
	EventUpdate    EventKind = ""
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventStopped   EventKind = "stopped"
	EventScrape    EventKind = "scrape"
)

// UpdateLabel is how the empty kind is surfaced in counts and views.
const UpdateLabel = "update"

// UDPUserAgent marks events that arrived over the UDP tracker, which has no headers.
const UDPUserAgent = "UDP"

// Label returns the display name of the kind.
func (k EventKind) Label() string {
	if k == EventUpdate {
		return UpdateLabel
	}
	return string(k)
}

// ParseEventKind maps a dashboard label back to a kind. "update" and "" both map to
// the update kind.
func ParseEventKind(label string) (EventKind, bool) {
	switch label {
	case "", UpdateLabel:
		return EventUpdate, true
	case string(EventStarted):
		return EventStarted, true
	case string(EventCompleted):
		return EventCompleted, true
	case string(EventStopped):
		return EventStopped, true
	case string(EventScrape):
		return EventScrape, true
	}
	return EventUpdate, false
}

// AnnounceEvent is a single normalized tracker interaction, HTTP or UDP.
// ID is zero until the store assigns it.
type AnnounceEvent struct {
	ID          uint64    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	InfoHashHex string    `json:"info_hash_hex"`
	InfoHashRaw string    `json:"info_hash"`
	PeerID      string    `json:"peer_id"`
	ClientIP    string    `json:"client_ip"`
	ClientPort  int       `json:"client_port"`
	Uploaded    int64     `json:"uploaded"`
	Downloaded  int64     `json:"downloaded"`
	Left        int64     `json:"left"`
	Kind        EventKind `json:"event"`
	UserAgent   string    `json:"user_agent"`
	NumWant     int       `json:"numwant"`
	Compact     int       `json:"compact"`
	Key         string    `json:"key"`
	RawQuery    string    `json:"raw_query"`
	RawHeaders  string    `json:"raw_headers"`
}

// ShortHash is the first eight hex characters of the info hash.
func (e *AnnounceEvent) ShortHash() string {
	if len(e.InfoHashHex) > 8 {
		return e.InfoHashHex[:8]
	}
	return e.InfoHashHex
}

// ProgressPercent is downloaded / (downloaded + left). A zero total counts as
// complete.
func (e *AnnounceEvent) ProgressPercent() float64 {
	total := float64(e.Downloaded) + float64(e.Left)
	if total <= 0 {
		return 100
	}
	return float64(e.Downloaded) / total * 100
}
