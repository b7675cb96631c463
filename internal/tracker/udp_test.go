package tracker

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/sdko-org/trackerspotter/internal/models"
)

func TestConnectPackets(t *testing.T) {
	req := EncodeConnectRequest(42)
	want := []byte{0, 0, 0x04, 0x17, 0x27, 0x10, 0x19, 0x80, 0, 0, 0, 0, 0, 0, 0, 42}
	if !bytes.Equal(req, want) {
		t.Errorf("EncodeConnectRequest() = %x, want %x", req, want)
	}

	h, err := ParseHeader(req)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.ConnectionID != ProtocolID || h.Action != ActionConnect || h.TransactionID != 42 {
		t.Errorf("ParseHeader() = %+v", h)
	}

	resp := EncodeConnectResponse(42, 0x0102030405060708)
	wantResp := []byte{0, 0, 0, 0, 0, 0, 0, 0x2a, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(resp, wantResp) {
		t.Errorf("EncodeConnectResponse() = %x, want %x", resp, wantResp)
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 15)); !errors.Is(err, ErrShortPacket) {
		t.Errorf("ParseHeader() error = %v, want ErrShortPacket", err)
	}
}

func TestAnnounceOffsets(t *testing.T) {
	in := UDPAnnounce{
		PacketHeader: PacketHeader{ConnectionID: 0xdeadbeef, Action: ActionAnnounce, TransactionID: 7},
		Downloaded:   1000,
		Left:         2000,
		Uploaded:     3000,
		Event:        2,
		IP:           0x7f000001,
		Key:          0xabc,
		NumWant:      -1,
		Port:         6881,
	}
	copy(in.InfoHash[:], bytes.Repeat([]byte{0x11}, 20))
	copy(in.PeerID[:], "-TR3000-abcdefghijkl")

	pkt := EncodeAnnounceRequest(in)
	if len(pkt) != AnnounceRequestSize {
		t.Fatalf("len(pkt) = %d", len(pkt))
	}
	checks := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"connection_id", binary.BigEndian.Uint64(pkt[0:8]), 0xdeadbeef},
		{"action", uint64(binary.BigEndian.Uint32(pkt[8:12])), 1},
		{"transaction_id", uint64(binary.BigEndian.Uint32(pkt[12:16])), 7},
		{"downloaded", binary.BigEndian.Uint64(pkt[56:64]), 1000},
		{"left", binary.BigEndian.Uint64(pkt[64:72]), 2000},
		{"uploaded", binary.BigEndian.Uint64(pkt[72:80]), 3000},
		{"event", uint64(binary.BigEndian.Uint32(pkt[80:84])), 2},
		{"ip", uint64(binary.BigEndian.Uint32(pkt[84:88])), 0x7f000001},
		{"key", uint64(binary.BigEndian.Uint32(pkt[88:92])), 0xabc},
		{"num_want", uint64(binary.BigEndian.Uint32(pkt[92:96])), 0xffffffff},
		{"port", uint64(binary.BigEndian.Uint16(pkt[96:98])), 6881},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	out, err := ParseUDPAnnounce(pkt)
	if err != nil {
		t.Fatalf("ParseUDPAnnounce() error = %v", err)
	}
	if out != in {
		t.Errorf("ParseUDPAnnounce() = %+v, want %+v", out, in)
	}
}

func TestParseUDPAnnounceShort(t *testing.T) {
	if _, err := ParseUDPAnnounce(make([]byte, 97)); !errors.Is(err, ErrShortPacket) {
		t.Errorf("ParseUDPAnnounce() error = %v", err)
	}
}

func TestUDPAnnounceToEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   uint32
		numWant int32
		kind    models.EventKind
		wantNW  int
	}{
		{"none", 0, 10, models.EventUpdate, 10},
		{"completed", 1, 0, models.EventCompleted, 50},
		{"started", 2, -1, models.EventStarted, 50},
		{"stopped", 3, 500, models.EventStopped, 200},
		{"unknown code", 9, 1, models.EventUpdate, 1},
	}

	now := time.Now()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := UDPAnnounce{Event: tt.event, NumWant: tt.numWant, Key: 0x1f, Port: 51413, Left: 1 << 63}
			copy(a.InfoHash[:], bytes.Repeat([]byte{0xab}, 20))
			pkt := EncodeAnnounceRequest(a)
			ev := a.ToEvent("198.51.100.4", now, pkt)

			if ev.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", ev.Kind, tt.kind)
			}
			if ev.NumWant != tt.wantNW {
				t.Errorf("NumWant = %d, want %d", ev.NumWant, tt.wantNW)
			}
			if ev.InfoHashHex != hex.EncodeToString(bytes.Repeat([]byte{0xab}, 20)) {
				t.Errorf("InfoHashHex = %s", ev.InfoHashHex)
			}
			if ev.Key != "0000001f" || ev.UserAgent != "UDP" || ev.Compact != 1 {
				t.Errorf("bookkeeping = %q %q %d", ev.Key, ev.UserAgent, ev.Compact)
			}
			if ev.ClientPort != 51413 || ev.ClientIP != "198.51.100.4" {
				t.Errorf("endpoint = %s:%d", ev.ClientIP, ev.ClientPort)
			}
			if ev.Left != 1<<63-1 {
				t.Errorf("Left = %d, want saturated", ev.Left)
			}
			if ev.RawQuery != hex.EncodeToString(pkt) {
				t.Error("RawQuery should capture the packet")
			}
		})
	}
}

func TestScrapeHashes(t *testing.T) {
	a := bytes.Repeat([]byte{1}, 20)
	b := bytes.Repeat([]byte{2}, 20)
	pkt := EncodeScrapeRequest(99, 5, [][]byte{a, b})
	pkt = append(pkt, 0xff, 0xff, 0xff) // partial trailing hash

	hashes := ScrapeHashes(pkt)
	if len(hashes) != 2 {
		t.Fatalf("len(hashes) = %d, want 2", len(hashes))
	}
	if !bytes.Equal(hashes[0], a) || !bytes.Equal(hashes[1], b) {
		t.Errorf("hashes = %x", hashes)
	}
	if got := ScrapeHashes(pkt[:16]); len(got) != 0 {
		t.Errorf("header-only scrape = %d hashes", len(got))
	}
}

func TestResponses(t *testing.T) {
	ann := EncodeAnnounceResponse(9, 1800)
	if len(ann) != 20 || binary.BigEndian.Uint32(ann[0:4]) != 1 || binary.BigEndian.Uint32(ann[4:8]) != 9 ||
		binary.BigEndian.Uint32(ann[8:12]) != 1800 || binary.BigEndian.Uint64(ann[12:20]) != 0 {
		t.Errorf("EncodeAnnounceResponse() = %x", ann)
	}

	scrape := EncodeScrapeResponse(9, 3)
	if len(scrape) != 8+3*12 || binary.BigEndian.Uint32(scrape[0:4]) != 2 {
		t.Errorf("EncodeScrapeResponse() = %x", scrape)
	}
	if !bytes.Equal(scrape[8:], make([]byte, 36)) {
		t.Errorf("scrape counters not zero: %x", scrape[8:])
	}

	errResp := EncodeErrorResponse(9, "Unknown action")
	if binary.BigEndian.Uint32(errResp[0:4]) != 3 || binary.BigEndian.Uint32(errResp[4:8]) != 9 || string(errResp[8:]) != "Unknown action" {
		t.Errorf("EncodeErrorResponse() = %x", errResp)
	}
}
