package models

import (
	"encoding/hex"
	"strings"
	"time"
)

// ClientInfo is a best-effort identification of the torrent client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var azureusClients = map[string]string{
	"qB": "qBittorrent",
	"TR": "Transmission",
	"UT": "µTorrent",
	"DE": "Deluge",
	"lt": "libtorrent",
	"LT": "libtorrent",
	"AZ": "Azureus/Vuze",
	"BI": "BiglyBT",
}

// IdentifyClient looks at a "Name/Version" User-Agent first and falls back to an
// Azureus-style peer id prefix such as "-qB4500-".
func IdentifyClient(userAgent, peerIDHex string) ClientInfo {
	info := ClientInfo{Name: "Unknown"}

	if userAgent != "" && userAgent != UDPUserAgent && strings.Contains(userAgent, "/") {
		name, rest, _ := strings.Cut(userAgent, "/")
		info.Name = name
		if fields := strings.Fields(rest); len(fields) > 0 {
			info.Version = fields[0]
		}
		return info
	}

	if len(peerIDHex) < 16 {
		return info
	}
	prefix, err := hex.DecodeString(peerIDHex[:16])
	if err != nil || prefix[0] != '-' {
		return info
	}
	if name, ok := azureusClients[string(prefix[1:3])]; ok {
		info.Name = name
		info.Version = string(prefix[3:7])
	}
	return info
}

// EventView is the dashboard representation of an event, used by the query API,
// exports and live fan-out.
type EventView struct {
	ID              uint64     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	InfoHash        string     `json:"info_hash"`
	InfoHashHex     string     `json:"info_hash_hex"`
	PeerID          string     `json:"peer_id"`
	ClientIP        string     `json:"client_ip"`
	ClientPort      int        `json:"client_port"`
	Uploaded        int64      `json:"uploaded"`
	Downloaded      int64      `json:"downloaded"`
	Left            int64      `json:"left"`
	Event           string     `json:"event"`
	EventType       string     `json:"event_type"`
	UserAgent       string     `json:"user_agent"`
	NumWant         int        `json:"numwant"`
	Compact         int        `json:"compact"`
	Key             string     `json:"key"`
	RawQuery        string     `json:"raw_query"`
	RawHeaders      string     `json:"raw_headers"`
	ProgressPercent float64    `json:"progress_percent"`
	Client          ClientInfo `json:"client"`
}

func NewEventView(e *AnnounceEvent) EventView {
	return EventView{
		ID:              e.ID,
		Timestamp:       e.Timestamp,
		InfoHash:        e.InfoHashRaw,
		InfoHashHex:     e.InfoHashHex,
		PeerID:          e.PeerID,
		ClientIP:        e.ClientIP,
		ClientPort:      e.ClientPort,
		Uploaded:        e.Uploaded,
		Downloaded:      e.Downloaded,
		Left:            e.Left,
		Event:           string(e.Kind),
		EventType:       e.Kind.Label(),
		UserAgent:       e.UserAgent,
		NumWant:         e.NumWant,
		Compact:         e.Compact,
		Key:             e.Key,
		RawQuery:        e.RawQuery,
		RawHeaders:      e.RawHeaders,
		ProgressPercent: e.ProgressPercent(),
		Client:          IdentifyClient(e.UserAgent, e.PeerID),
	}
}

func NewEventViews(events []AnnounceEvent) []EventView {
	views := make([]EventView, 0, len(events))
	for i := range events {
		views = append(views, NewEventView(&events[i]))
	}
	return views
}
