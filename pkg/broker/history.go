package broker

import (
	"context"
	"fmt"
	"time"

	"signal-systemv1/internal/markethours"
	"signal-systemv1/internal/model"
)

// tfToInterval maps candle timeframes in seconds to SmartAPI interval names.
var tfToInterval = map[int]string{
	60:   "ONE_MINUTE",
	180:  "THREE_MINUTE",
	300:  "FIVE_MINUTE",
	600:  "TEN_MINUTE",
	900:  "FIFTEEN_MINUTE",
	1800: "THIRTY_MINUTE",
	3600: "ONE_HOUR",
}

// ReadCandles fetches today's historical candles for an instrument with
// ts strictly after afterTS. Satisfies the backfill candle source, so a
// cold start can seed indicators straight from the broker.
func (c *Client) ReadCandles(exchange, token string, tf int, afterTS int64) ([]model.Candle, error) {
	interval, ok := tfToInterval[tf]
	if !ok {
		return nil, fmt.Errorf("broker: unsupported candle timeframe %ds", tf)
	}

	now := time.Now().In(markethours.IST)
	from := markethours.SessionOpen(now)
	if after := time.Unix(afterTS, 0).In(markethours.IST); after.After(from) {
		from = after
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	// Candle rows come back as [timestamp, open, high, low, close, volume].
	var rows [][]interface{}
	err := c.post(ctx, "candles", map[string]any{
		"exchange":    exchange,
		"symboltoken": token,
		"interval":    interval,
		"fromdate":    from.Format("2006-01-02 15:04"),
		"todate":      now.Format("2006-01-02 15:04"),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("broker: candle history: %w", err)
	}

	out := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		tsStr, _ := row[0].(string)
		ts, err := time.Parse("2006-01-02T15:04:05-07:00", tsStr)
		if err != nil {
			continue
		}
		ts = ts.In(markethours.IST)
		if ts.Unix() <= afterTS {
			continue
		}
		out = append(out, model.Candle{
			Token:    token,
			Exchange: exchange,
			TF:       tf,
			TS:       ts,
			Open:     toPaise(asFloat(row[1])),
			High:     toPaise(asFloat(row[2])),
			Low:      toPaise(asFloat(row[3])),
			Close:    toPaise(asFloat(row[4])),
			Volume:   int64(asFloat(row[5])),
		})
	}
	return out, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
