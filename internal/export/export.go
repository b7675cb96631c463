// Package export renders stored events for download and archiving.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/sdko-org/trackerspotter/internal/models"
)

var csvHeader = []string{
	"timestamp", "event", "info_hash", "client_ip", "client_port",
	"downloaded", "uploaded", "left", "user_agent",
}

// WriteCSV writes one row per event under a fixed header.
func WriteCSV(w io.Writer, events []models.AnnounceEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range events {
		e := &events[i]
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Kind.Label(),
			e.InfoHashHex,
			e.ClientIP,
			strconv.Itoa(e.ClientPort),
			strconv.FormatInt(e.Downloaded, 10),
			strconv.FormatInt(e.Uploaded, 10),
			strconv.FormatInt(e.Left, 10),
			e.UserAgent,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonExport struct {
	ExportDate  time.Time          `json:"export_date"`
	TotalEvents int                `json:"total_events"`
	Events      []models.EventView `json:"events"`
}

func WriteJSON(w io.Writer, events []models.AnnounceEvent, exportedAt time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonExport{
		ExportDate:  exportedAt.UTC(),
		TotalEvents: len(events),
		Events:      models.NewEventViews(events),
	})
}

var gzipPool = sync.Pool{
	New: func() any {
		gz, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return gz
	},
}

// WriteJSONLGzip streams one JSON object per line through gzip.
func WriteJSONLGzip(w io.Writer, events []models.AnnounceEvent) error {
	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(w)
	defer gzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(models.NewEventView(&events[i])); err != nil {
			_ = gz.Close()
			return fmt.Errorf("encode event %d: %w", events[i].ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

// EncodeJSONLGzip is WriteJSONLGzip into a caller-owned buffer.
func EncodeJSONLGzip(events []models.AnnounceEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteJSONLGzip(&buf, events); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
