// Package configstore manages the strategy runtime configuration: daily
// signal caps, trailing distances, trade windows and the session's exit and
// opening-range timings. The active config is cached per IST session date,
// reloaded on a background goroutine when the session rolls or a reload is
// forced, and mirrored to Redis so a restart keeps the last good snapshot
// when the upstream source is unavailable.
package configstore

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-systemv1/internal/markethours"
)

const activeConfigRedisKey = "signal:active_config"

// Config is the strategy runtime configuration.
type Config struct {
	// MaxTradesPerDirection caps ACTIVE signals per (index, direction) per
	// session. IndexMaxTrades overrides it for specific indices.
	MaxTradesPerDirection int            `json:"max_trades_per_direction"`
	IndexMaxTrades        map[string]int `json:"index_max_trades,omitempty"`

	// TrailPoints is the trailing-stop retrace distance in paise, by index.
	TrailPoints map[string]int64 `json:"trail_points"`

	// Trade window, "HH:MM" IST. Signals outside it are suppressed.
	TradeAfter  string `json:"trade_after"`
	TradeBefore string `json:"trade_before"`

	// HardExitTime is the forced-exit cutoff, "HH:MM" IST. All open
	// positions close at this time regardless of the other exit rules.
	HardExitTime string `json:"hard_exit_time"`

	// ORWindowMinutes is the opening-range window length from session open.
	ORWindowMinutes int `json:"or_window_minutes"`

	// Enabled toggles strategies by name; absent names default to enabled.
	Enabled map[string]bool `json:"enabled,omitempty"`

	Qty int64 `json:"qty"` // paper position quantity
}

// Default returns the built-in configuration used when no source is set.
func Default() Config {
	return Config{
		MaxTradesPerDirection: 2,
		TrailPoints: map[string]int64{
			"NIFTY":     4000,  // 40.00 INR
			"BANKNIFTY": 12000, // 120.00 INR
		},
		TradeAfter:      "09:45",
		TradeBefore:     "15:00",
		HardExitTime:    "15:20",
		ORWindowMinutes: 30,
		Qty:             1,
	}
}

// MaxFor returns the signal cap for an index, applying the override.
func (c Config) MaxFor(index string) int {
	if n, ok := c.IndexMaxTrades[index]; ok {
		return n
	}
	return c.MaxTradesPerDirection
}

// TrailFor returns the trailing distance in paise for an index, 0 if unset.
func (c Config) TrailFor(index string) int64 {
	return c.TrailPoints[index]
}

// StrategyEnabled reports whether a strategy may emit signals.
func (c Config) StrategyEnabled(name string) bool {
	if v, ok := c.Enabled[name]; ok {
		return v
	}
	return true
}

// Loader fetches the configuration from its upstream source.
type Loader interface {
	Load(ctx context.Context) (Config, error)
}

// Store caches the active config per session date. Loads run on a
// background goroutine started by Start; Get only reads the cached
// snapshot and never blocks on the loader, so the pipeline's candle-close
// unit stays free of I/O.
type Store struct {
	loader  Loader
	rdb     *goredis.Client
	pending chan string // session dates awaiting a refresh

	// RetryDelay holds off re-enqueuing after a failed load so the loader
	// is not hammered on every candle close. Set before Start.
	RetryDelay time.Duration

	mu      sync.RWMutex
	cfg     Config
	session string // IST date the cached config belongs to
	forced  bool
	retryAt time.Time // earliest next load attempt after a failure
}

// New creates a Store. loader may be nil (defaults only); rdb may be nil
// (no persistence).
func New(loader Loader, rdb *goredis.Client) *Store {
	return &Store{
		loader:     loader,
		rdb:        rdb,
		pending:    make(chan string, 1),
		RetryDelay: 30 * time.Second,
		cfg:        Default(),
	}
}

// Restore loads the last persisted config from Redis. Called once during
// startup, before the first Get. Returns true if a snapshot was restored.
func (s *Store) Restore(ctx context.Context) bool {
	if s.rdb == nil {
		return false
	}
	data, err := s.rdb.Get(ctx, activeConfigRedisKey).Result()
	if err != nil {
		return false
	}
	var cfg Config
	if json.Unmarshal([]byte(data), &cfg) != nil {
		return false
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	log.Printf("[configstore] restored active config from Redis")
	return true
}

// Start launches the background refresher. Without it (tests, replay runs)
// Get serves whichever snapshot Refresh or Restore left behind.
func (s *Store) Start(ctx context.Context) {
	if s.loader == nil {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case session := <-s.pending:
				s.refresh(ctx, session)
			}
		}
	}()
}

// Refresh loads the config synchronously for now's session. Called once at
// startup, before the pipeline runs; every later reload goes through the
// background goroutine.
func (s *Store) Refresh(ctx context.Context, now time.Time) error {
	if s.loader == nil {
		return nil
	}
	return s.refresh(ctx, markethours.SessionDate(now))
}

// Get returns the cached config for now's session. A session rollover or a
// forced reload only queues a background refresh; the previous snapshot
// stays authoritative until the load succeeds, and a swapped-in config is
// first observed at the next candle-close boundary, never mid-candle.
func (s *Store) Get(now time.Time) Config {
	session := markethours.SessionDate(now)

	s.mu.RLock()
	cfg := s.cfg
	stale := s.session != session || s.forced
	holdoff := time.Now().Before(s.retryAt)
	s.mu.RUnlock()

	if stale && !holdoff && s.loader != nil {
		select {
		case s.pending <- session:
		default:
		}
	}
	return cfg
}

// refresh runs one load and swaps in the result. A failing load keeps the
// previous snapshot and leaves the cache marked stale, so the next Get
// after RetryDelay queues another attempt.
func (s *Store) refresh(ctx context.Context, session string) error {
	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	loaded, err := s.loader.Load(lctx)
	cancel()

	s.mu.Lock()
	if err != nil {
		log.Printf("[configstore] WARNING: reload failed, keeping previous config: %v", err)
		s.retryAt = time.Now().Add(s.RetryDelay)
		s.mu.Unlock()
		return err
	}
	s.cfg = loaded
	s.session = session
	s.forced = false
	s.retryAt = time.Time{}
	s.mu.Unlock()

	s.persist(loaded)
	log.Printf("[configstore] config refreshed for session %s", session)
	return nil
}

// ForceReload marks the cache stale and queues a refresh; the reloaded
// config is picked up at a following candle-close boundary.
func (s *Store) ForceReload() {
	s.mu.Lock()
	s.forced = true
	session := s.session
	s.mu.Unlock()
	if s.loader != nil {
		select {
		case s.pending <- session:
		default:
		}
	}
	log.Printf("[configstore] forced reload requested")
}

// Snapshot returns the current cached config without any staleness checks.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// persist writes the last good config to Redis. Fire-and-forget.
func (s *Store) persist(cfg Config) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Set(ctx, activeConfigRedisKey, data, 0).Err(); err != nil {
		log.Printf("[configstore] WARNING: failed to persist config to Redis: %v", err)
	}
}
