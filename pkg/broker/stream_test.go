package broker

import (
	"encoding/binary"
	"testing"
	"time"

	"signal-systemv1/internal/markethours"
)

// buildQuoteFrame constructs a minimal Quote-mode binary frame.
func buildQuoteFrame(mode byte, seg byte, token string, tsMillis, ltp, cumVol int64) []byte {
	b := make([]byte, 123)
	b[0] = mode
	b[1] = seg
	copy(b[2:27], token)
	binary.LittleEndian.PutUint64(b[35:43], uint64(tsMillis))
	binary.LittleEndian.PutUint64(b[43:51], uint64(ltp))
	binary.LittleEndian.PutUint64(b[67:75], uint64(cumVol))
	return b
}

func TestParseQuoteFrame(t *testing.T) {
	ts := time.Date(2026, 8, 25, 10, 30, 0, 0, markethours.IST)
	frame := buildQuoteFrame(ModeQuote, SegNSEFO, "50123", ts.UnixMilli(), 2452340, 182000)

	tick, ok := parseQuoteFrame(frame)
	if !ok {
		t.Fatal("expected frame to parse")
	}
	if tick.Token != "50123" || tick.Exchange != "NFO" {
		t.Errorf("unexpected instrument: %s %s", tick.Exchange, tick.Token)
	}
	if tick.Price != 2452340 {
		t.Errorf("expected price 2452340, got %d", tick.Price)
	}
	if tick.CumVolume != 182000 {
		t.Errorf("expected cum volume 182000, got %d", tick.CumVolume)
	}
	if !tick.TickTS.Equal(ts) {
		t.Errorf("expected ts %v, got %v", ts, tick.TickTS)
	}
}

func TestParseQuoteFrame_LTPModeHasNoVolume(t *testing.T) {
	frame := buildQuoteFrame(ModeLTP, SegNSECM, "26000", 0, 2452000, 999)[:51]

	tick, ok := parseQuoteFrame(frame)
	if !ok {
		t.Fatal("expected LTP frame to parse")
	}
	if tick.CumVolume != 0 {
		t.Errorf("LTP mode carries no volume, got %d", tick.CumVolume)
	}
	if tick.Exchange != "NSE" {
		t.Errorf("expected NSE, got %s", tick.Exchange)
	}
}

func TestParseQuoteFrame_Rejects(t *testing.T) {
	if _, ok := parseQuoteFrame([]byte{1, 2, 3}); ok {
		t.Error("short frame should not parse")
	}

	bad := buildQuoteFrame(9, SegNSEFO, "50123", 0, 100, 0)
	if _, ok := parseQuoteFrame(bad); ok {
		t.Error("unknown mode should not parse")
	}

	badSeg := buildQuoteFrame(ModeQuote, 99, "50123", 0, 100, 0)
	if _, ok := parseQuoteFrame(badSeg); ok {
		t.Error("unknown segment should not parse")
	}
}
