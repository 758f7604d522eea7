package model

import "time"

// RawTick is a market data tick as received from the broker WebSocket.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
// CumVolume is the exchange's cumulative traded volume for the session.
type RawTick struct {
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	Price     int64     `json:"price"`      // paise (LTP)
	CumVolume int64     `json:"cum_volume"` // session-cumulative quantity
	TickTS    time.Time `json:"tick_ts"`    // exchange timestamp
}

// Key returns a unique key for this tick's instrument: "exchange:token".
func (t *RawTick) Key() string {
	return t.Exchange + ":" + t.Token
}

// Tick is a normalized tick: timestamps converted to IST and the cumulative
// volume replaced by the differential volume traded since the previous tick.
type Tick struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	Price    int64     `json:"price"`   // paise (LTP)
	Volume   int64     `json:"volume"`  // differential quantity
	TickTS   time.Time `json:"tick_ts"` // IST timestamp
}

// Key returns "exchange:token".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Token
}
