package indicator

import (
	"time"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// View is a read-only snapshot of one instrument's indicator values, handed
// to strategies and exit rules at candle close.
type View struct {
	VWAP    float64 // paise
	VWAPOK  bool
	ORHigh  int64 // paise
	ORLow   int64 // paise
	OROK    bool
	ORFinal bool
}

// bundle holds the live indicator instances for one instrument.
type bundle struct {
	vwap *VWAP
	or   *OpeningRange
}

// Engine computes session indicators per instrument from completed base
// candles. Designed for single-goroutine usage, no locks needed.
type Engine struct {
	// ORMinutes is the opening-range window length from session open.
	// Zero uses the default. Set before the session's first candle.
	ORMinutes int

	session string // IST session date the state belongs to
	state   map[string]*bundle
}

// NewEngine creates an empty indicator engine.
func NewEngine() *Engine {
	return &Engine{state: make(map[string]*bundle, 16)}
}

// Update feeds one completed base candle into the instrument's indicators,
// creating them on first sight. A candle from a new session date resets the
// whole engine first.
func (e *Engine) Update(c model.Candle) {
	session := markethours.SessionDate(c.TS)
	if e.session != "" && e.session != session {
		e.state = make(map[string]*bundle, 16)
	}
	e.session = session

	b := e.bundleFor(c.Key(), c.TS)
	b.vwap.Update(c)
	b.or.Update(c)
}

// View returns the current indicator values for an instrument key.
func (e *Engine) View(key string) View {
	b, ok := e.state[key]
	if !ok {
		return View{}
	}
	return View{
		VWAP:    b.vwap.Value(),
		VWAPOK:  b.vwap.Ready(),
		ORHigh:  b.or.High(),
		ORLow:   b.or.Low(),
		OROK:    b.or.Ready(),
		ORFinal: b.or.Final(),
	}
}

// Session returns the IST session date of the current state, "" when cold.
func (e *Engine) Session() string { return e.session }

// ResetSession drops all indicator state.
func (e *Engine) ResetSession() {
	e.session = ""
	e.state = make(map[string]*bundle, 16)
}

func (e *Engine) bundleFor(key string, ts time.Time) *bundle {
	b, ok := e.state[key]
	if !ok {
		b = &bundle{vwap: NewVWAP(), or: NewOpeningRange(ts, e.ORMinutes)}
		e.state[key] = b
	}
	return b
}
