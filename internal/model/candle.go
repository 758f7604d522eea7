package model

import (
	"encoding/json"
	"time"
)

// Candle represents an OHLC candle for a single instrument.
// TF is the timeframe in seconds (60 = 1 minute, 300 = 5 minutes).
// All prices are in paise (int64) to avoid floating-point drift.
type Candle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`     // timeframe in seconds
	TS       time.Time `json:"ts"`     // bucket start time (IST, TF-aligned)
	Open     int64     `json:"open"`   // paise
	High     int64     `json:"high"`   // paise
	Low      int64     `json:"low"`    // paise
	Close    int64     `json:"close"`  // paise
	Volume   int64     `json:"volume"` // quantity traded in this bucket
	Count    int       `json:"count"`  // ticks (base TF) or constituents (rollup)
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// CloseTime returns the bucket end, i.e. the instant the candle completes.
func (c *Candle) CloseTime() time.Time {
	return c.TS.Add(time.Duration(c.TF) * time.Second)
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{token}".
func (c *Candle) StreamKey() string {
	return "candle:" + Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
