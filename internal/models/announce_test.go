package models

import (
	"encoding/hex"
	"math"
	"testing"
)

func TestIdentifyClient(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		peerID    string
		expected  ClientInfo
	}{
		{
			name:      "User agent with version",
			userAgent: "qBittorrent/4.5.0",
			expected:  ClientInfo{Name: "qBittorrent", Version: "4.5.0"},
		},
		{
			name:      "User agent with trailing detail",
			userAgent: "Transmission/3.00 (bb6b5a062e)",
			expected:  ClientInfo{Name: "Transmission", Version: "3.00"},
		},
		{
			name:      "Azureus style peer id",
			userAgent: "UDP",
			peerID:    hex.EncodeToString([]byte("-TR3000-abcdefghijkl")),
			expected:  ClientInfo{Name: "Transmission", Version: "3000"},
		},
		{
			name:     "Unknown peer id prefix",
			peerID:   hex.EncodeToString([]byte("-ZZ1234-abcdefghijkl")),
			expected: ClientInfo{Name: "Unknown"},
		},
		{
			name:     "Short peer id",
			peerID:   "2d71",
			expected: ClientInfo{Name: "Unknown"},
		},
		{
			name:     "Peer id not hex",
			peerID:   "zzzzzzzzzzzzzzzzzz",
			expected: ClientInfo{Name: "Unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentifyClient(tt.userAgent, tt.peerID)
			if got != tt.expected {
				t.Errorf("IdentifyClient() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		downloaded, left int64
		expected         float64
	}{
		{0, 0, 100},
		{50, 50, 50},
		{0, 100, 0},
		{100, 0, 100},
		{1, math.MaxInt64, 0},
		{math.MaxInt64, 1 << 40, 99.99998807907},
		{math.MaxInt64, math.MaxInt64, 50},
	}
	for _, tt := range tests {
		e := AnnounceEvent{Downloaded: tt.downloaded, Left: tt.left}
		if got := e.ProgressPercent(); math.Abs(got-tt.expected) > 1e-6 {
			t.Errorf("ProgressPercent(%d, %d) = %v, want %v", tt.downloaded, tt.left, got, tt.expected)
		}
	}
}

func TestEventKindLabels(t *testing.T) {
	if got := EventUpdate.Label(); got != "update" {
		t.Errorf("EventUpdate.Label() = %q", got)
	}
	for _, label := range []string{"update", "started", "completed", "stopped", "scrape"} {
		kind, ok := ParseEventKind(label)
		if !ok {
			t.Errorf("ParseEventKind(%q) not ok", label)
		}
		if kind.Label() != label {
			t.Errorf("ParseEventKind(%q).Label() = %q", label, kind.Label())
		}
	}
	if _, ok := ParseEventKind("paused"); ok {
		t.Error("ParseEventKind(paused) should not be ok")
	}
}

func TestNewEventView(t *testing.T) {
	e := AnnounceEvent{ID: 7, InfoHashHex: "aa", Kind: EventUpdate, Downloaded: 1, Left: 3, UserAgent: "Deluge/2.1.1"}
	v := NewEventView(&e)
	if v.EventType != "update" || v.Event != "" {
		t.Errorf("view event = %q/%q", v.Event, v.EventType)
	}
	if v.ProgressPercent != 25 {
		t.Errorf("view progress = %v", v.ProgressPercent)
	}
	if v.Client.Name != "Deluge" {
		t.Errorf("view client = %+v", v.Client)
	}
}
