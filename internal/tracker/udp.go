package tracker

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sdko-org/trackerspotter/internal/models"
)

// BEP 15 constants.
const (
	ProtocolID uint64 = 0x41727101980

	ActionConnect  uint32 = 0
	ActionAnnounce uint32 = 1
	ActionScrape   uint32 = 2
	ActionError    uint32 = 3

	HeaderSize          = 16
	ConnectResponseSize = 16
	AnnounceRequestSize = 98
	AnnounceRespSize    = 20
	InfoHashSize        = 20
	ScrapeEntrySize     = 12
)

var ErrShortPacket = errors.New("packet too short")

// PacketHeader is the first 16 bytes common to every BEP 15 request. For connect
// requests ConnectionID holds the protocol id.
type PacketHeader struct {
	ConnectionID  uint64
	Action        uint32
	TransactionID uint32
}

func ParseHeader(pkt []byte) (PacketHeader, error) {
	if len(pkt) < HeaderSize {
		return PacketHeader{}, ErrShortPacket
	}
	return PacketHeader{
		ConnectionID:  binary.BigEndian.Uint64(pkt[0:8]),
		Action:        binary.BigEndian.Uint32(pkt[8:12]),
		TransactionID: binary.BigEndian.Uint32(pkt[12:16]),
	}, nil
}

// UDPAnnounce is the fixed 98-byte announce body.
type UDPAnnounce struct {
	PacketHeader
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      uint32
	IP         uint32
	Key        uint32
	NumWant    int32
	Port       uint16
}

func ParseUDPAnnounce(pkt []byte) (UDPAnnounce, error) {
	var a UDPAnnounce
	if len(pkt) < AnnounceRequestSize {
		return a, fmt.Errorf("announce of %d bytes: %w", len(pkt), ErrShortPacket)
	}
	h, _ := ParseHeader(pkt)
	a.PacketHeader = h
	copy(a.InfoHash[:], pkt[16:36])
	copy(a.PeerID[:], pkt[36:56])
	a.Downloaded = binary.BigEndian.Uint64(pkt[56:64])
	a.Left = binary.BigEndian.Uint64(pkt[64:72])
	a.Uploaded = binary.BigEndian.Uint64(pkt[72:80])
	a.Event = binary.BigEndian.Uint32(pkt[80:84])
	a.IP = binary.BigEndian.Uint32(pkt[84:88])
	a.Key = binary.BigEndian.Uint32(pkt[88:92])
	a.NumWant = int32(binary.BigEndian.Uint32(pkt[92:96]))
	a.Port = binary.BigEndian.Uint16(pkt[96:98])
	return a, nil
}

// udpEventKinds maps BEP 15 event codes. Unknown codes are updates.
var udpEventKinds = map[uint32]models.EventKind{
	0: models.EventUpdate,
	1: models.EventCompleted,
	2: models.EventStarted,
	3: models.EventStopped,
}

// ToEvent converts the packet into a normalized record. pkt is kept hex encoded
// as the raw capture.
func (a UDPAnnounce) ToEvent(clientIP string, receivedAt time.Time, pkt []byte) *models.AnnounceEvent {
	numWant := int(a.NumWant)
	if numWant <= 0 {
		numWant = DefaultNumWant
	} else if numWant > MaxNumWant {
		numWant = MaxNumWant
	}

	return &models.AnnounceEvent{
		Timestamp:   receivedAt,
		InfoHashHex: hex.EncodeToString(a.InfoHash[:]),
		InfoHashRaw: hex.EncodeToString(a.InfoHash[:]),
		PeerID:      hex.EncodeToString(a.PeerID[:]),
		ClientIP:    clientIP,
		ClientPort:  int(a.Port),
		Uploaded:    saturate(a.Uploaded),
		Downloaded:  saturate(a.Downloaded),
		Left:        saturate(a.Left),
		Kind:        udpEventKinds[a.Event],
		UserAgent:   models.UDPUserAgent,
		NumWant:     numWant,
		Compact:     1,
		Key:         fmt.Sprintf("%08x", a.Key),
		RawQuery:    hex.EncodeToString(pkt),
	}
}

func saturate(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

// ScrapeHashes splits the body of a scrape request into 20-byte hashes. A
// trailing partial hash is ignored.
func ScrapeHashes(pkt []byte) [][]byte {
	if len(pkt) <= HeaderSize {
		return nil
	}
	n := (len(pkt) - HeaderSize) / InfoHashSize
	hashes := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		off := HeaderSize + i*InfoHashSize
		hashes = append(hashes, pkt[off:off+InfoHashSize])
	}
	return hashes
}

func EncodeConnectRequest(transactionID uint32) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], ProtocolID)
	binary.BigEndian.PutUint32(buf[8:12], ActionConnect)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	return buf
}

func EncodeConnectResponse(transactionID uint32, connectionID uint64) []byte {
	buf := make([]byte, ConnectResponseSize)
	binary.BigEndian.PutUint32(buf[0:4], ActionConnect)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	binary.BigEndian.PutUint64(buf[8:16], connectionID)
	return buf
}

// EncodeAnnounceRequest is the client side of the announce layout, used by the
// listener tests and diagnostics.
func EncodeAnnounceRequest(a UDPAnnounce) []byte {
	buf := make([]byte, AnnounceRequestSize)
	binary.BigEndian.PutUint64(buf[0:8], a.ConnectionID)
	binary.BigEndian.PutUint32(buf[8:12], ActionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], a.TransactionID)
	copy(buf[16:36], a.InfoHash[:])
	copy(buf[36:56], a.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], a.Downloaded)
	binary.BigEndian.PutUint64(buf[64:72], a.Left)
	binary.BigEndian.PutUint64(buf[72:80], a.Uploaded)
	binary.BigEndian.PutUint32(buf[80:84], a.Event)
	binary.BigEndian.PutUint32(buf[84:88], a.IP)
	binary.BigEndian.PutUint32(buf[88:92], a.Key)
	binary.BigEndian.PutUint32(buf[92:96], uint32(a.NumWant))
	binary.BigEndian.PutUint16(buf[96:98], a.Port)
	return buf
}

func EncodeAnnounceResponse(transactionID uint32, interval uint32) []byte {
	buf := make([]byte, AnnounceRespSize)
	binary.BigEndian.PutUint32(buf[0:4], ActionAnnounce)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	binary.BigEndian.PutUint32(buf[8:12], interval)
	// leechers and seeders stay zero
	return buf
}

func EncodeScrapeRequest(connectionID uint64, transactionID uint32, hashes [][]byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(hashes)*InfoHashSize)
	binary.BigEndian.PutUint64(buf[0:8], connectionID)
	binary.BigEndian.PutUint32(buf[8:12], ActionScrape)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	for _, h := range hashes {
		var fixed [InfoHashSize]byte
		copy(fixed[:], h)
		buf = append(buf, fixed[:]...)
	}
	return buf
}

// EncodeScrapeResponse writes one zeroed seeders/completed/leechers triple per hash.
func EncodeScrapeResponse(transactionID uint32, hashCount int) []byte {
	buf := make([]byte, 8+hashCount*ScrapeEntrySize)
	binary.BigEndian.PutUint32(buf[0:4], ActionScrape)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	return buf
}

func EncodeErrorResponse(transactionID uint32, message string) []byte {
	buf := make([]byte, 8, 8+len(message))
	binary.BigEndian.PutUint32(buf[0:4], ActionError)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	return append(buf, message...)
}
