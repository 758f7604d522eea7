package indicator

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signal-systemv1/internal/markethours"
)

// TokenSnapshot holds the serialized indicator state for one instrument.
type TokenSnapshot struct {
	Key     string  `json:"key"` // "exchange:token"
	CumPV   float64 `json:"cum_pv"`
	CumVol  int64   `json:"cum_vol"`
	ORHigh  int64   `json:"or_high"`
	ORLow   int64   `json:"or_low"`
	ORSeen  bool    `json:"or_seen"`
	ORFinal bool    `json:"or_final"`
}

// SessionSnapshot holds the full indicator engine state for one session.
type SessionSnapshot struct {
	Session string          `json:"session"` // IST date "2006-01-02"
	Tokens  []TokenSnapshot `json:"tokens"`
	Version int             `json:"version"` // schema version for forward compat
}

// Snapshot captures the engine's session state. Returns nil when cold.
func (e *Engine) Snapshot() *SessionSnapshot {
	if e.session == "" {
		return nil
	}
	snap := &SessionSnapshot{Session: e.session, Version: 1}
	for key, b := range e.state {
		snap.Tokens = append(snap.Tokens, TokenSnapshot{
			Key:     key,
			CumPV:   b.vwap.cumPV,
			CumVol:  b.vwap.cumVol,
			ORHigh:  b.or.high,
			ORLow:   b.or.low,
			ORSeen:  b.or.seen,
			ORFinal: b.or.finalized,
		})
	}
	return snap
}

// SnapshotJSON returns the JSON-encoded session snapshot, nil when cold.
func (e *Engine) SnapshotJSON() []byte {
	snap := e.Snapshot()
	if snap == nil {
		return nil
	}
	b, _ := json.Marshal(snap)
	return b
}

// MergeSnapshotJSON combines the session state of several engines into one
// snapshot document, so a process owning one engine per instrument can
// persist them as a unit. Engines on a different session date than the
// first warm one are skipped. Returns nil when every engine is cold.
func MergeSnapshotJSON(engines ...*Engine) []byte {
	var merged *SessionSnapshot
	for _, e := range engines {
		snap := e.Snapshot()
		if snap == nil {
			continue
		}
		if merged == nil {
			merged = &SessionSnapshot{Session: snap.Session, Version: snap.Version}
		}
		if snap.Session != merged.Session {
			continue
		}
		merged.Tokens = append(merged.Tokens, snap.Tokens...)
	}
	if merged == nil {
		return nil
	}
	b, _ := json.Marshal(merged)
	return b
}

// RestoreJSON rebuilds engine state from a snapshot taken earlier the same
// session. A snapshot from a different session date is rejected; the engine
// then cold-starts and relies on backfill seeding instead.
func (e *Engine) RestoreJSON(data []byte, now time.Time) error {
	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Session != markethours.SessionDate(now) {
		return fmt.Errorf("stale snapshot: session %s, today %s", snap.Session, markethours.SessionDate(now))
	}

	e.ResetSession()
	e.session = snap.Session
	day, err := time.ParseInLocation("2006-01-02", snap.Session, markethours.IST)
	if err != nil {
		return fmt.Errorf("bad session date %q: %w", snap.Session, err)
	}
	for _, ts := range snap.Tokens {
		b := &bundle{vwap: NewVWAP(), or: NewOpeningRange(day, e.ORMinutes)}
		b.vwap.cumPV = ts.CumPV
		b.vwap.cumVol = ts.CumVol
		b.or.high = ts.ORHigh
		b.or.low = ts.ORLow
		b.or.seen = ts.ORSeen
		b.or.finalized = ts.ORFinal
		e.state[ts.Key] = b
	}
	log.Printf("[indicator] restored session %s state for %d instruments", snap.Session, len(snap.Tokens))
	return nil
}
