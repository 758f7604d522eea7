package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"signal-systemv1/internal/model"
)

// pendingWrite represents a write that was buffered during circuit-open state.
type pendingWrite struct {
	WriteType string // "candle", "signal", "position"
	Data      []byte // JSON-encoded payload
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// During circuit-open state, writes are buffered locally and flushed
// when the circuit closes again. Candles and events survive a Redis
// outage up to the buffer cap; gap events are fire-and-forget.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// Run reads completed candles from candleCh and writes them through
// the circuit breaker. Satisfies model.CandleWriter.
func (bw *BufferedWriter) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			bw.writeCandle(candle)
		}
	}
}

func (bw *BufferedWriter) writeCandle(c model.Candle) {
	err := bw.cb.Execute(func() error {
		return bw.writer.client.Ping(bw.ctx).Err()
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("candle", &c)
		return
	}
	bw.writer.writeCandle(bw.ctx, c)
}

// PublishSignal publishes a signal through the circuit breaker,
// buffering it if Redis is down.
func (bw *BufferedWriter) PublishSignal(ctx context.Context, s model.Signal) {
	err := bw.cb.Execute(func() error {
		return bw.writer.client.Ping(ctx).Err()
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("signal", &s)
		return
	}
	bw.writer.PublishSignal(ctx, s)
}

// PublishPosition publishes a position transition through the circuit
// breaker, buffering it if Redis is down.
func (bw *BufferedWriter) PublishPosition(ctx context.Context, p model.Position) {
	err := bw.cb.Execute(func() error {
		return bw.writer.client.Ping(ctx).Err()
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("position", &p)
		return
	}
	bw.writer.PublishPosition(ctx, p)
}

// PublishGap forwards a gap event without buffering. A gap event lost
// during an outage is recoverable from metrics.
func (bw *BufferedWriter) PublishGap(ctx context.Context, key string, missedTS int64) {
	if bw.cb.CurrentState() == StateOpen {
		return
	}
	bw.writer.PublishGap(ctx, key, missedTS)
}

func (bw *BufferedWriter) bufferWrite(writeType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-writer] marshal error: %v", err)
		return
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full, drop oldest
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{WriteType: writeType, Data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		switch pw.WriteType {
		case "candle":
			var c model.Candle
			if json.Unmarshal(pw.Data, &c) == nil {
				bw.writer.writeCandle(bw.ctx, c)
			}
		case "signal":
			var s model.Signal
			if json.Unmarshal(pw.Data, &s) == nil {
				bw.writer.PublishSignal(bw.ctx, s)
			}
		case "position":
			var p model.Position
			if json.Unmarshal(pw.Data, &p) == nil {
				bw.writer.PublishPosition(bw.ctx, p)
			}
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Redis writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}

// Close closes the underlying writer. Satisfies model.CandleWriter and
// model.EventPublisher.
func (bw *BufferedWriter) Close() error {
	return bw.writer.Close()
}
