package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sdko-org/trackerspotter/internal/broadcast"
	"github.com/sirupsen/logrus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Subscriber hands out live event subscriptions.
type Subscriber interface {
	Subscribe() *broadcast.Subscription
}

type WSHandler struct {
	log      *logrus.Entry
	hub      Subscriber
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *logrus.Logger, hub Subscriber) *WSHandler {
	return &WSHandler{
		log: logger.WithField("component", "websocket"),
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP streams "connected" followed by every broadcast until the client
// goes away. Events stored before the upgrade are not replayed.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer sub.Close()

	log := h.log.WithFields(logrus.Fields{
		"subscriber": sub.ID,
		"remote":     r.RemoteAddr,
	})
	log.Info("Dashboard subscriber connected")
	defer log.Info("Dashboard subscriber disconnected")

	hello, err := broadcast.Connected(sub.ID)
	if err != nil {
		log.WithError(err).Error("Failed to encode greeting")
		return
	}
	if err := h.write(conn, websocket.TextMessage, hello); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.write(conn, websocket.TextMessage, msg); err != nil {
				log.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-ping.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(messageType, data)
}
