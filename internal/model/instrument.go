package model

// Instrument represents a tradeable instrument/symbol. For index futures the
// Index field names the underlying (NIFTY, BANKNIFTY) and StrikeStep the
// option strike spacing in paise used for ATM resolution.
type Instrument struct {
	Token          string `json:"token"`
	Exchange       string `json:"exchange"`
	TradingSymbol  string `json:"trading_symbol"`
	Name           string `json:"name"`
	Index          string `json:"index"`
	InstrumentType string `json:"instrument_type"` // EQ, FUT, CE, PE
	LotSize        int    `json:"lot_size"`
	TickSize       int64  `json:"tick_size"`   // minimum price movement in paise
	StrikeStep     int64  `json:"strike_step"` // option strike spacing in paise
	Expiry         string `json:"expiry,omitempty"`
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
