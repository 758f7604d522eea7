package notification

import (
	"fmt"
	"strconv"

	"signal-systemv1/internal/model"
)

// rupees formats a paise amount as a rupee string with two decimals.
func rupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}

// SignalAlert builds an alert for a newly routed signal.
func SignalAlert(s model.Signal) Alert {
	level := AlertInfo
	if s.Status == model.SignalSuppressed {
		level = AlertWarning
	}
	msg := fmt.Sprintf("%s %s %s @ %s", s.Strategy, s.Direction, s.Index, rupees(s.Price))
	if s.RefSymbol != "" {
		msg += fmt.Sprintf(" via %s @ %s", s.RefSymbol, rupees(s.RefPrice))
	}
	fields := []Field{
		{Key: "signal", Value: s.ID},
		{Key: "strategy", Value: s.Strategy},
		{Key: "direction", Value: s.Direction},
		{Key: "status", Value: s.Status},
	}
	if s.Reason != "" {
		fields = append(fields, Field{Key: "reason", Value: s.Reason})
	}
	return Alert{
		Level:   level,
		Title:   "Signal " + s.Index,
		Message: msg,
		Fields:  fields,
	}
}

// ExitAlert builds an alert for a completed trade.
func ExitAlert(t model.Trade) Alert {
	level := AlertInfo
	if t.PnL < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: "Exit " + t.Index,
		Message: fmt.Sprintf("%s %s qty=%d entry=%s exit=%s",
			t.Strategy, t.Direction, t.Qty, rupees(t.Entry), rupees(t.Exit)),
		Fields: []Field{
			{Key: "trade", Value: t.TradeID},
			{Key: "strategy", Value: t.Strategy},
			{Key: "exit_reason", Value: t.ExitReason},
			{Key: "pnl", Value: rupees(t.PnL)},
		},
	}
}

// GapAlert builds an alert for a rollup gap. Gaps mean the instrument
// lost base candles and its signal timeframe restarted.
func GapAlert(key string, missedTS int64) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   "Candle gap: " + key,
		Message: "signal window restarted after a missing base candle",
		Fields: []Field{
			{Key: "instrument", Value: key},
			{Key: "missed_ts", Value: strconv.FormatInt(missedTS, 10)},
		},
	}
}
