// Package broadcast fans stored events out to live dashboard subscribers.
// Delivery is best effort: a subscriber whose buffer is full misses the message.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	TypeConnected   = "connected"
	TypeNewAnnounce = "new_announce"
	TypeLogsCleared = "logs_cleared"

	DefaultBuffer = 64
)

// Message is the envelope written to subscribers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ClearedData struct {
	Deleted   int64     `json:"deleted"`
	ClearedAt time.Time `json:"cleared_at"`
}

type ConnectedData struct {
	SubscriberID string `json:"subscriber_id"`
	Message      string `json:"message"`
}

// Subscription receives encoded messages on C until Close is called.
type Subscription struct {
	ID uuid.UUID
	C  <-chan []byte

	ch   chan []byte
	hub  *Hub
	once sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s.ID) })
}

type Hub struct {
	log    *logrus.Entry
	buffer int

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription

	dropped atomic.Uint64
}

func NewHub(logger *logrus.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		log:    logger.WithField("component", "broadcast"),
		buffer: buffer,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{
		ID:  uuid.New(),
		C:   ch,
		ch:  ch,
		hub: h,
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"subscriber":  sub.ID,
		"subscribers": n,
	}).Debug("Subscriber added")
	return sub
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.log.WithFields(logrus.Fields{
			"subscriber":  id,
			"subscribers": n,
		}).Debug("Subscriber removed")
	}
}

// Broadcast publishes a stored event. It never blocks and never panics.
func (h *Hub) Broadcast(e models.AnnounceEvent) {
	h.publish(Message{Type: TypeNewAnnounce, Data: models.NewEventView(&e)})
}

func (h *Hub) PublishCleared(deleted int64) {
	h.publish(Message{Type: TypeLogsCleared, Data: ClearedData{Deleted: deleted, ClearedAt: time.Now().UTC()}})
}

// Connected is the greeting a new subscriber is sent before anything else.
func Connected(id uuid.UUID) ([]byte, error) {
	return json.Marshal(Message{Type: TypeConnected, Data: ConnectedData{
		SubscriberID: id.String(),
		Message:      "Connected to tracker event stream",
	}})
}

func (h *Hub) publish(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(logrus.Fields{
				"type":  msg.Type,
				"panic": r,
			}).Error("Broadcast failed")
		}
	}()

	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("type", msg.Type).Error("Failed to encode broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			h.dropped.Add(1)
			h.log.WithFields(logrus.Fields{
				"subscriber": id,
				"type":       msg.Type,
			}).Warn("Subscriber buffer full, message dropped")
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts messages discarded because a subscriber was too slow.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
