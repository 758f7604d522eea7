package broker

import (
	"context"
	"fmt"
	"math"
)

// LTP fetches the last traded price for one instrument, in paise.
func (c *Client) LTP(ctx context.Context, exchange, symbol, token string) (int64, error) {
	var data struct {
		LTP float64 `json:"ltp"`
	}
	err := c.post(ctx, "ltp", map[string]any{
		"exchange":      exchange,
		"tradingsymbol": symbol,
		"symboltoken":   token,
	}, &data)
	if err != nil {
		return 0, err
	}
	return toPaise(data.LTP), nil
}

// Quotes fetches last traded prices for a batch of tokens grouped by
// exchange. Returns a map keyed "exchange:token", prices in paise.
// Instruments missing from the response are simply absent from the map.
func (c *Client) Quotes(ctx context.Context, tokensByExchange map[string][]string) (map[string]int64, error) {
	var data struct {
		Fetched []struct {
			Exchange    string  `json:"exchange"`
			SymbolToken string  `json:"symbolToken"`
			LTP         float64 `json:"ltp"`
		} `json:"fetched"`
	}
	err := c.post(ctx, "market.data", map[string]any{
		"mode":           "LTP",
		"exchangeTokens": tokensByExchange,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("broker: quote batch: %w", err)
	}

	out := make(map[string]int64, len(data.Fetched))
	for _, q := range data.Fetched {
		out[q.Exchange+":"+q.SymbolToken] = toPaise(q.LTP)
	}
	return out, nil
}

// toPaise converts a rupee price from the API into integer paise.
func toPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
