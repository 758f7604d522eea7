package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-systemv1/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute

	// Stream trimming: a full session of 1m candles is 375 entries,
	// so even a generous buffer stays tiny.
	signalStreamMaxLen   = 500
	positionStreamMaxLen = 1000
	gapStreamMaxLen      = 200
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer writes candles and publishes signal, position, and gap events
// to Redis streams and pubsub channels.
type Writer struct {
	client *goredis.Client

	// OnWrite reports candle pipeline latency (for metrics). Optional.
	OnWrite func(time.Duration)
}

// Client returns the underlying Redis client for health checks and
// config persistence.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Run reads completed candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, candle)
		}
	}
}

// writeCandle performs pipelined writes for a completed candle.
func (w *Writer) writeCandle(ctx context.Context, candle model.Candle) {
	tf := strconv.Itoa(candle.TF)
	latestKey := "candle:" + tf + "s:latest:" + candle.Exchange + ":" + candle.Token
	streamKey := candle.StreamKey()
	pubsubCh := "pub:candle:" + tf + "s:" + candle.Exchange + ":" + candle.Token
	jsonData := string(candle.JSON())

	// Proportional MAXLEN: one session of candles plus buffer
	maxLen := int64(22500/candle.TF) + 50
	if maxLen < 100 {
		maxLen = 100
	}

	pipe := w.client.Pipeline()

	// SET latest candle with TTL
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, pubsubCh, jsonData)

	start := time.Now()
	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", candle.Key(), err)
	}
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
}

// PublishSignal writes a signal event: XADD to the per-instrument
// stream, SET latest, and PUBLISH for live subscribers.
func (w *Writer) PublishSignal(ctx context.Context, s model.Signal) {
	jsonData := string(s.JSON())
	latestKey := "signal:latest:" + s.Exchange + ":" + s.Token
	pubsubCh := "pub:signal:" + s.Exchange + ":" + s.Token

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.StreamKey(),
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] signal pipeline error for %s: %v", s.ID, err)
	}
}

// PublishPosition writes a position transition (open, exit-requested,
// closed) to the shared position stream and pubsub channel.
func (w *Writer) PublishPosition(ctx context.Context, p model.Position) {
	jsonData := string(p.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "position:events",
		MaxLen: positionStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, "position:latest:"+p.Key(), jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:position", jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] position pipeline error for %s: %v", p.TradeID, err)
	}
}

// PublishGap records a rollup gap event so operators can see which
// instruments lost base candles.
func (w *Writer) PublishGap(ctx context.Context, key string, missedTS int64) {
	err := w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: "events:gaps",
		MaxLen: gapStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"instrument": key,
			"missed_ts":  missedTS,
		},
	}).Err()
	if err != nil {
		log.Printf("[redis] gap event error for %s: %v", key, err)
	}
}

const snapshotKey = "signal:indicator_snapshot"

// SaveSnapshotJSON mirrors the indicator session snapshot to Redis so a
// restart can recover session state even when the SQLite file is lost.
// Implements model.SnapshotStore.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return w.client.Set(ctx, snapshotKey, data, 24*time.Hour).Err()
}

// ReadLatestSnapshotJSON returns the mirrored snapshot, nil when absent.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := w.client.Get(ctx, snapshotKey).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
