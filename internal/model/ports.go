package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from concrete storage
// implementations (Redis, SQLite). Each implementation satisfies one or more.

// CandleWriter persists completed candles.
type CandleWriter interface {
	// Run reads candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// CandleReader reads completed candles for backfill and replay.
type CandleReader interface {
	// ReadCandles reads candles for one instrument and TF after a timestamp.
	ReadCandles(exchange, token string, tf int, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// JournalWriter records signals and completed trades.
type JournalWriter interface {
	RecordSignal(s Signal) error
	RecordTrade(t Trade) error
	Close() error
}

// EventPublisher pushes pipeline events (signals, position transitions,
// rollup gaps) to downstream consumers.
type EventPublisher interface {
	PublishSignal(ctx context.Context, s Signal)
	PublishPosition(ctx context.Context, p Position)
	PublishGap(ctx context.Context, key string, missedTS int64)
	Close() error
}

// SnapshotStore reads and writes indicator session snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded session snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}
