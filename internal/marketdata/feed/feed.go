// Package feed bridges the broker market data stream into the signal
// pipeline. A lock-free ring buffer sits between the WebSocket read
// goroutine and the drain loop so tick bursts never block the socket.
package feed

import (
	"context"
	"log"
	"time"

	"signal-systemv1/internal/model"
	"signal-systemv1/internal/ringbuf"
	"signal-systemv1/pkg/broker"
)

const (
	defaultRingSize = 4096
	drainIdleSleep  = 500 * time.Microsecond
)

// exchangeSegment maps exchange names to wire segment codes.
var exchangeSegment = map[string]int{
	"NSE": broker.SegNSECM,
	"NFO": broker.SegNSEFO,
	"BSE": broker.SegBSECM,
	"MCX": broker.SegMCXFO,
}

// Config holds the feed session parameters.
type Config struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	Instruments []model.Instrument
	RingSize    int
}

// Ingest connects the broker stream and drains ticks into a submit
// function (normally Pipeline.Submit).
type Ingest struct {
	cfg    Config
	stream *broker.Stream
	ring   *ringbuf.Ring

	// Metrics hooks (optional, non-blocking).
	OnReconnect func()
	OnOverflow  func()
}

// New creates the feed for a set of instruments.
func New(cfg Config) (*Ingest, error) {
	size := cfg.RingSize
	if size <= 0 {
		size = defaultRingSize
	}

	stream, err := broker.NewStream(broker.StreamConfig{
		AuthToken:  cfg.AuthToken,
		APIKey:     cfg.APIKey,
		ClientCode: cfg.ClientCode,
		FeedToken:  cfg.FeedToken,
	})
	if err != nil {
		return nil, err
	}

	return &Ingest{
		cfg:    cfg,
		stream: stream,
		ring:   ringbuf.New(size),
	}, nil
}

// Start connects, subscribes, and runs until ctx is cancelled. submit
// is called for every tick in arrival order; a false return means the
// pipeline dropped it and is already counted there.
func (ing *Ingest) Start(ctx context.Context, submit func(model.RawTick) bool) error {
	ing.stream.OnTick = func(raw model.RawTick) {
		if !ing.ring.Push(raw) {
			if ing.OnOverflow != nil {
				ing.OnOverflow()
			}
		}
	}
	ing.stream.OnReconnect = func() {
		log.Printf("[feed] stream reconnected")
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}

	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	go ing.drain(drainCtx, submit)

	// Subscribe once connected; Connect blocks for the session.
	go func() {
		// Small delay gives the dial time to finish before the first
		// subscribe write. Reconnects replay subscriptions internally.
		time.Sleep(time.Second)
		if err := ing.stream.Subscribe("feed", broker.ModeQuote, ing.tokenLists()); err != nil {
			log.Printf("[feed] subscribe: %v", err)
		}
	}()

	return ing.stream.Connect(ctx)
}

// drain pops ticks from the ring and hands them to the pipeline.
func (ing *Ingest) drain(ctx context.Context, submit func(model.RawTick) bool) {
	for {
		raw, ok := ing.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(drainIdleSleep):
			}
			continue
		}
		submit(raw)
	}
}

// tokenLists groups the configured instruments by exchange segment.
func (ing *Ingest) tokenLists() []broker.TokenList {
	bySeg := make(map[int][]string)
	for _, inst := range ing.cfg.Instruments {
		seg, ok := exchangeSegment[inst.Exchange]
		if !ok {
			log.Printf("[feed] skipping %s: unknown exchange %q", inst.Token, inst.Exchange)
			continue
		}
		bySeg[seg] = append(bySeg[seg], inst.Token)
	}

	out := make([]broker.TokenList, 0, len(bySeg))
	for seg, tokens := range bySeg {
		out = append(out, broker.TokenList{ExchangeType: seg, Tokens: tokens})
	}
	return out
}

// Overflow reports the ring buffer's dropped tick count.
func (ing *Ingest) Overflow() uint64 {
	return ing.ring.Overflow()
}
