// Package udp serves the BEP 15 tracker protocol. Each Server owns one socket,
// its own connection id table and a bounded pool of packet handlers.
package udp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sdko-org/trackerspotter/internal/tracker"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConnTTL     = 2 * time.Minute
	DefaultSweepEvery  = time.Minute
	DefaultReadTimeout = time.Second
	DefaultWorkers     = 8
	DefaultQueueSize   = 1024

	maxPacketSize = 2048
)

// Recorder persists accepted events.
type Recorder interface {
	Insert(ctx context.Context, e *models.AnnounceEvent) (uint64, error)
}

// Broadcaster receives every stored event. It must not block.
type Broadcaster interface {
	Broadcast(e models.AnnounceEvent)
}

// ProtocolError is answered with an error action carrying Msg.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "udp tracker: " + e.Msg
}

type Config struct {
	Network     string // udp4 or udp6
	Addr        string
	Interval    uint32
	Workers     int
	QueueSize   int
	ConnTTL     time.Duration
	SweepEvery  time.Duration
	ReadTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Network == "" {
		c.Network = "udp"
	}
	if c.Interval == 0 {
		c.Interval = tracker.DefaultInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ConnTTL <= 0 {
		c.ConnTTL = DefaultConnTTL
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = DefaultSweepEvery
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
}

type packet struct {
	data []byte
	addr net.Addr
}

type Server struct {
	cfg         Config
	log         *logrus.Entry
	recorder    Recorder
	broadcaster Broadcaster

	conns *connTable
	conn  net.PacketConn
	queue chan packet
	now   func() time.Time

	dropped atomic.Uint64
}

func New(logger *logrus.Logger, recorder Recorder, broadcaster Broadcaster, cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg: cfg,
		log: logger.WithFields(logrus.Fields{
			"component": "udp_tracker",
			"network":   cfg.Network,
		}),
		recorder:    recorder,
		broadcaster: broadcaster,
		conns:       newConnTable(cfg.ConnTTL),
		queue:       make(chan packet, cfg.QueueSize),
		now:         time.Now,
	}
}

// Listen binds the socket so that address errors surface before Run.
func (s *Server) Listen() error {
	conn, err := net.ListenPacket(s.cfg.Network, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.cfg.Network, s.cfg.Addr, err)
	}
	s.conn = conn
	s.log = s.log.WithField("addr", conn.LocalAddr().String())
	return nil
}

func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Dropped counts packets discarded because the handler queue was full.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Run serves until ctx is cancelled, then drains queued packets and closes the
// socket. Listen is called first if it has not been.
func (s *Server) Run(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.conn.Close()

	// queued packets are still recorded after shutdown starts
	workCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range s.queue {
				s.handle(workCtx, p)
			}
		}()
	}

	s.log.WithFields(logrus.Fields{
		"workers": s.cfg.Workers,
		"queue":   s.cfg.QueueSize,
	}).Info("UDP tracker listening")

	err := s.receive(ctx)

	close(s.queue)
	wg.Wait()
	s.log.WithField("dropped", s.Dropped()).Info("UDP tracker stopped")
	return err
}

func (s *Server) receive(ctx context.Context) error {
	buf := make([]byte, maxPacketSize)
	lastSweep := s.now()

	for ctx.Err() == nil {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFrom(buf)

		if now := s.now(); now.Sub(lastSweep) >= s.cfg.SweepEvery {
			if removed := s.conns.sweep(now); removed > 0 {
				s.log.WithFields(logrus.Fields{
					"removed": removed,
					"live":    s.conns.len(),
				}).Debug("Expired connection ids swept")
			}
			lastSweep = now
		}

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithError(err).Warn("UDP read failed")
			continue
		}
		if n < tracker.HeaderSize {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.enqueue(packet{data: data, addr: addr})
	}
	return nil
}

// enqueue never blocks; a full queue drops the packet.
func (s *Server) enqueue(p packet) bool {
	select {
	case s.queue <- p:
		return true
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.log.WithFields(logrus.Fields{
				"client":  p.addr.String(),
				"dropped": n,
			}).Warn("Packet queue full, dropping packets")
		}
		return false
	}
}

func (s *Server) handle(ctx context.Context, p packet) {
	resp := s.process(ctx, p)
	if resp == nil {
		return
	}
	if _, err := s.conn.WriteTo(resp, p.addr); err != nil {
		s.log.WithError(err).WithField("client", p.addr.String()).Warn("UDP write failed")
	}
}

// process returns the response for one packet, or nil when none is sent.
func (s *Server) process(ctx context.Context, p packet) []byte {
	h, err := tracker.ParseHeader(p.data)
	if err != nil {
		return nil
	}

	var resp []byte
	switch h.Action {
	case tracker.ActionConnect:
		resp, err = s.connect(h)
	case tracker.ActionAnnounce:
		resp, err = s.announce(ctx, h, p)
	case tracker.ActionScrape:
		resp, err = s.scrape(ctx, h, p)
	default:
		err = &ProtocolError{Msg: "Unknown action"}
	}

	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		s.log.WithFields(logrus.Fields{
			"client": p.addr.String(),
			"action": h.Action,
			"reason": perr.Msg,
		}).Warn("Rejected UDP request")
		return tracker.EncodeErrorResponse(h.TransactionID, perr.Msg)
	case err != nil:
		s.log.WithError(err).WithField("client", p.addr.String()).Error("UDP request failed")
		return nil
	}
	return resp
}

func (s *Server) connect(h tracker.PacketHeader) ([]byte, error) {
	if h.ConnectionID != tracker.ProtocolID {
		return nil, &ProtocolError{Msg: "Invalid protocol ID"}
	}
	id, err := s.conns.issue(s.now())
	if err != nil {
		return nil, err
	}
	s.log.WithField("transaction_id", h.TransactionID).Debug("Connection id issued")
	return tracker.EncodeConnectResponse(h.TransactionID, id), nil
}

func (s *Server) announce(ctx context.Context, h tracker.PacketHeader, p packet) ([]byte, error) {
	now := s.now()
	if !s.conns.valid(h.ConnectionID, now) {
		return nil, &ProtocolError{Msg: "Invalid connection ID"}
	}
	req, err := tracker.ParseUDPAnnounce(p.data)
	if err != nil {
		return nil, &ProtocolError{Msg: "Malformed announce"}
	}

	e := req.ToEvent(clientIP(p.addr), now, p.data)
	s.record(ctx, e)

	s.log.WithFields(logrus.Fields{
		"event":      e.Kind.Label(),
		"info_hash":  e.ShortHash(),
		"client":     fmt.Sprintf("%s:%d", e.ClientIP, e.ClientPort),
		"uploaded":   e.Uploaded,
		"downloaded": e.Downloaded,
		"left":       e.Left,
	}).Info("UDP announce")

	return tracker.EncodeAnnounceResponse(h.TransactionID, s.cfg.Interval), nil
}

func (s *Server) scrape(ctx context.Context, h tracker.PacketHeader, p packet) ([]byte, error) {
	now := s.now()
	if !s.conns.valid(h.ConnectionID, now) {
		return nil, &ProtocolError{Msg: "Invalid connection ID"}
	}

	hashes := tracker.ScrapeHashes(p.data)
	meta := tracker.RequestMeta{
		ClientIP:   clientIP(p.addr),
		UserAgent:  models.UDPUserAgent,
		ReceivedAt: now,
	}
	raw := hex.EncodeToString(p.data)
	for _, hash := range hashes {
		s.record(ctx, tracker.NewScrapeEvent(hash, meta, raw))
	}

	s.log.WithFields(logrus.Fields{
		"client": meta.ClientIP,
		"hashes": len(hashes),
	}).Info("UDP scrape")

	return tracker.EncodeScrapeResponse(h.TransactionID, len(hashes)), nil
}

// record stores e and fans it out. Store failures are logged and never reach
// the client.
func (s *Server) record(ctx context.Context, e *models.AnnounceEvent) {
	if _, err := s.recorder.Insert(ctx, e); err != nil {
		s.log.WithError(err).WithField("info_hash", e.ShortHash()).Error("Failed to store event")
		return
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(*e)
	}
}

func clientIP(addr net.Addr) string {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
