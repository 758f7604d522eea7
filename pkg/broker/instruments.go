package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// scripMasterURL serves the full instrument dump as a public JSON file.
const scripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// scripEntry mirrors one row of the instrument master. Strike comes as
// a string of paise with two trailing zeroes ("2450000.000000").
type scripEntry struct {
	Token      string `json:"token"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Expiry     string `json:"expiry"` // "28AUG2026"
	Strike     string `json:"strike"`
	LotSize    string `json:"lotsize"`
	InstType   string `json:"instrumenttype"` // FUTIDX, OPTIDX, ...
	ExchSeg    string `json:"exch_seg"`       // NFO, NSE, ...
	TickSize   string `json:"tick_size"`
}

// InstrumentMaster holds the parsed scrip master, indexed for future
// and ATM option lookup.
type InstrumentMaster struct {
	mu       sync.RWMutex
	futures  map[string][]scripEntry // underlying name -> FUTIDX entries
	options  map[string][]scripEntry // underlying name -> OPTIDX entries
	bySymbol map[string]scripEntry   // trading symbol -> entry
	loaded   time.Time
}

// NewInstrumentMaster creates an empty master. Call Refresh before use.
func NewInstrumentMaster() *InstrumentMaster {
	return &InstrumentMaster{
		futures:  make(map[string][]scripEntry),
		options:  make(map[string][]scripEntry),
		bySymbol: make(map[string]scripEntry),
	}
}

// Refresh downloads and indexes the scrip master. The dump is large
// (~100MB), so this should run once at startup and at most daily after.
func (m *InstrumentMaster) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scripMasterURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker: fetch scrip master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker: scrip master status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var entries []scripEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("broker: parse scrip master: %w", err)
	}

	futures := make(map[string][]scripEntry)
	options := make(map[string][]scripEntry)
	bySymbol := make(map[string]scripEntry)
	for _, e := range entries {
		if e.ExchSeg != "NFO" {
			continue
		}
		switch e.InstType {
		case "FUTIDX":
			futures[e.Name] = append(futures[e.Name], e)
			bySymbol[e.Symbol] = e
		case "OPTIDX":
			options[e.Name] = append(options[e.Name], e)
			bySymbol[e.Symbol] = e
		}
	}

	m.mu.Lock()
	m.futures = futures
	m.options = options
	m.bySymbol = bySymbol
	m.loaded = time.Now()
	m.mu.Unlock()

	log.Printf("[broker] scrip master loaded: %d index futures, %d index option chains",
		len(futures), len(options))
	return nil
}

// TokenFor looks up the exchange token for an NFO trading symbol. The
// quote poller uses this to translate resolved contract symbols into
// the tokens the market data API wants.
func (m *InstrumentMaster) TokenFor(symbol string) (string, bool) {
	m.mu.RLock()
	e, ok := m.bySymbol[symbol]
	m.mu.RUnlock()
	return e.Token, ok
}

// CurrentFuture returns the nearest-expiry index future for an
// underlying (NIFTY, BANKNIFTY) as a model.Instrument.
func (m *InstrumentMaster) CurrentFuture(underlying string, now time.Time) (model.Instrument, error) {
	m.mu.RLock()
	entries := m.futures[underlying]
	m.mu.RUnlock()

	best, ok := nearestExpiry(entries, now)
	if !ok {
		return model.Instrument{}, fmt.Errorf("broker: no live future for %s", underlying)
	}

	lot, _ := strconv.Atoi(best.LotSize)
	return model.Instrument{
		Token:          best.Token,
		Exchange:       "NFO",
		TradingSymbol:  best.Symbol,
		Name:           best.Name,
		Index:          underlying,
		InstrumentType: "FUT",
		LotSize:        lot,
		StrikeStep:     strikeStepFor(underlying),
		Expiry:         best.Expiry,
	}, nil
}

// ResolveOption picks the ATM option contract for a signal: nearest
// expiry, strike rounded to the underlying's step, CE for long and PE
// for short. underlying is the index price in paise.
func (m *InstrumentMaster) ResolveOption(inst model.Instrument, direction string, underlying int64) (string, bool) {
	step := inst.StrikeStep
	if step <= 0 {
		step = strikeStepFor(inst.Index)
	}
	atm := ((underlying + step/2) / step) * step

	optType := "CE"
	if direction == model.DirShort {
		optType = "PE"
	}

	m.mu.RLock()
	entries := m.options[inst.Index]
	m.mu.RUnlock()

	now := time.Now().In(markethours.IST)
	var candidates []scripEntry
	for _, e := range entries {
		if !matchesStrike(e.Strike, atm) {
			continue
		}
		if len(e.Symbol) < 2 || e.Symbol[len(e.Symbol)-2:] != optType {
			continue
		}
		candidates = append(candidates, e)
	}

	best, ok := nearestExpiry(candidates, now)
	if !ok {
		return "", false
	}
	return best.Symbol, true
}

// nearestExpiry returns the entry with the earliest expiry on or after
// now's date.
func nearestExpiry(entries []scripEntry, now time.Time) (scripEntry, bool) {
	type dated struct {
		entry  scripEntry
		expiry time.Time
	}
	var live []dated

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, markethours.IST)
	for _, e := range entries {
		exp, err := time.ParseInLocation("02Jan2006", normalizeExpiry(e.Expiry), markethours.IST)
		if err != nil {
			continue
		}
		if exp.Before(today) {
			continue
		}
		live = append(live, dated{e, exp})
	}
	if len(live) == 0 {
		return scripEntry{}, false
	}
	sort.Slice(live, func(i, j int) bool { return live[i].expiry.Before(live[j].expiry) })
	return live[0].entry, true
}

// normalizeExpiry converts "28AUG2026" into Go-parseable "28Aug2026".
func normalizeExpiry(s string) string {
	if len(s) != 9 {
		return s
	}
	return s[:3] + lower(s[3:4]) + lower(s[4:5]) + s[5:]
}

func lower(s string) string {
	if len(s) == 1 && s[0] >= 'A' && s[0] <= 'Z' {
		return string(s[0] + 32)
	}
	return s
}

// matchesStrike compares a scrip master strike string (paise with
// decimals) to a target strike in paise.
func matchesStrike(s string, target int64) bool {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return int64(f) == target
}

// strikeStepFor returns the option strike spacing in paise for the
// supported index underlyings.
func strikeStepFor(index string) int64 {
	switch index {
	case "BANKNIFTY":
		return 10000 // 100 rupees
	default:
		return 5000 // 50 rupees (NIFTY)
	}
}
