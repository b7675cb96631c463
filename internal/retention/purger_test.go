package retention

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sirupsen/logrus"
)

type memLog struct {
	mu     sync.Mutex
	events []models.AnnounceEvent
}

func (m *memLog) ExpiredBefore(_ context.Context, cutoff time.Time, limit int) ([]models.AnnounceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AnnounceEvent
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLog) DeleteIDs(_ context.Context, ids []uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.events[:0]
	var n int64
	for _, e := range m.events {
		if drop[e.ID] {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

func (m *memLog) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

func (m *memLog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memArchive struct {
	objects map[string][]byte
	err     error
}

func (a *memArchive) Put(_ context.Context, key string, body []byte, _ string) error {
	if a.err != nil {
		return a.err
	}
	a.objects[key] = body
	return nil
}

var now = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func seed(n int, age time.Duration) *memLog {
	m := &memLog{}
	for i := 1; i <= n; i++ {
		m.events = append(m.events, models.AnnounceEvent{
			ID:          uint64(i),
			Timestamp:   now.Add(-age),
			InfoHashHex: "aa",
		})
	}
	m.events = append(m.events, models.AnnounceEvent{ID: uint64(n + 1), Timestamp: now, InfoHashHex: "bb"})
	return m
}

func newTestPurger(events EventLog, archiver *memArchive) *Purger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	var p *Purger
	if archiver == nil {
		p = NewPurger(logger, events, nil, 24*time.Hour, time.Hour)
	} else {
		p = NewPurger(logger, events, archiver, 24*time.Hour, time.Hour)
	}
	p.now = func() time.Time { return now }
	return p
}

func countLines(t *testing.T, body []byte) int {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	n := 0
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var v models.EventView
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("line: %v", err)
		}
		n++
	}
	return n
}

func TestPurgeWithoutArchive(t *testing.T) {
	events := seed(3, 48*time.Hour)
	p := newTestPurger(events, nil)

	n, err := p.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 3 || events.len() != 1 {
		t.Errorf("deleted %d, remaining %d", n, events.len())
	}
}

func TestPurgeArchivesInBatches(t *testing.T) {
	events := seed(5, 48*time.Hour)
	archive := &memArchive{objects: make(map[string][]byte)}
	p := newTestPurger(events, archive)
	p.batchSize = 2

	n, err := p.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 5 || events.len() != 1 {
		t.Errorf("deleted %d, remaining %d", n, events.len())
	}

	wantKeys := []string{
		"2024/05/08/announces-1-2.jsonl.gz",
		"2024/05/08/announces-3-4.jsonl.gz",
		"2024/05/08/announces-5-5.jsonl.gz",
	}
	if len(archive.objects) != len(wantKeys) {
		t.Fatalf("objects = %d, want %d", len(archive.objects), len(wantKeys))
	}
	lines := 0
	for _, k := range wantKeys {
		body, ok := archive.objects[k]
		if !ok {
			t.Errorf("missing object %s", k)
			continue
		}
		lines += countLines(t, body)
	}
	if lines != 5 {
		t.Errorf("archived %d events, want 5", lines)
	}
}

func TestPurgeKeepsEventsWhenArchiveFails(t *testing.T) {
	events := seed(3, 48*time.Hour)
	archive := &memArchive{objects: make(map[string][]byte), err: errors.New("bucket unavailable")}
	p := newTestPurger(events, archive)

	n, err := p.Purge(context.Background())
	if err == nil {
		t.Fatal("Purge() succeeded with failing archive")
	}
	if n != 0 || events.len() != 4 {
		t.Errorf("deleted %d, remaining %d", n, events.len())
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	events := seed(2, 48*time.Hour)
	p := newTestPurger(events, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for events.len() != 1 {
		select {
		case <-deadline:
			t.Fatal("initial pass did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}
