package udp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sdko-org/trackerspotter/internal/tracker"
)

// connTable maps issued connection ids to their issue time. It belongs to a
// single listener.
type connTable struct {
	mu     sync.Mutex
	ttl    time.Duration
	issued map[uint64]time.Time
}

func newConnTable(ttl time.Duration) *connTable {
	return &connTable{
		ttl:    ttl,
		issued: make(map[uint64]time.Time),
	}
}

// issue mints a random id that is not already live and records it.
func (t *connTable) issue(now time.Time) (uint64, error) {
	var b [8]byte
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("connection id: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:])
		if id == 0 || id == tracker.ProtocolID {
			continue
		}
		if _, taken := t.issued[id]; taken {
			continue
		}
		t.issued[id] = now
		return id, nil
	}
}

// valid reports whether id was issued and has not outlived the TTL, whether or
// not a sweep has run since.
func (t *connTable) valid(id uint64, now time.Time) bool {
	t.mu.Lock()
	issuedAt, ok := t.issued[id]
	t.mu.Unlock()
	return ok && now.Sub(issuedAt) <= t.ttl
}

// sweep drops expired entries and returns how many were removed.
func (t *connTable) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, issuedAt := range t.issued {
		if now.Sub(issuedAt) > t.ttl {
			delete(t.issued, id)
			removed++
		}
	}
	return removed
}

func (t *connTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.issued)
}
