package configstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"signal-systemv1/internal/markethours"
)

func day(d int) time.Time {
	return time.Date(2026, time.August, d, 10, 0, 0, 0, markethours.IST)
}

func TestGetNeverCallsLoader(t *testing.T) {
	var calls int32
	loader := loaderFunc(func(ctx context.Context) (Config, error) {
		atomic.AddInt32(&calls, 1)
		cfg := Default()
		cfg.MaxTradesPerDirection = 5
		return cfg, nil
	})

	s := New(loader, nil)
	if err := s.Refresh(context.Background(), day(25)); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// without the background refresher, Get only queues and serves the
	// cached snapshot regardless of how stale it looks
	for i := 0; i < 3; i++ {
		if got := s.Get(day(26)); got.MaxTradesPerDirection != 5 {
			t.Fatalf("max = %d, want 5", got.MaxTradesPerDirection)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("loader calls = %d, want 1 (startup refresh only)", n)
	}
}

func TestBackgroundRefreshOnSessionRollover(t *testing.T) {
	var calls int32
	loader := loaderFunc(func(ctx context.Context) (Config, error) {
		n := atomic.AddInt32(&calls, 1)
		cfg := Default()
		cfg.MaxTradesPerDirection = int(n)
		return cfg, nil
	})

	s := New(loader, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Refresh(ctx, day(25)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	s.Start(ctx)

	if got := s.Get(day(25)); got.MaxTradesPerDirection != 1 {
		t.Fatalf("same-session max = %d, want 1", got.MaxTradesPerDirection)
	}

	// rollover: the first Get still serves yesterday's snapshot and only
	// queues a refresh; the reload lands on a later Get
	if got := s.Get(day(26)); got.MaxTradesPerDirection != 1 {
		t.Fatalf("rollover Get blocked on loader: max = %d", got.MaxTradesPerDirection)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Get(day(26)).MaxTradesPerDirection < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("background refresh never applied, loader calls = %d", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForceReloadInvalidatesCache(t *testing.T) {
	var calls int32
	loader := loaderFunc(func(ctx context.Context) (Config, error) {
		n := atomic.AddInt32(&calls, 1)
		cfg := Default()
		cfg.Qty = int64(n)
		return cfg, nil
	})

	s := New(loader, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Refresh(ctx, day(25)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	s.Start(ctx)

	s.ForceReload()
	deadline := time.Now().Add(2 * time.Second)
	for s.Get(day(25)).Qty < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("forced reload never applied, loader calls = %d", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReloadFailureKeepsPreviousConfig(t *testing.T) {
	good := Default()
	good.MaxTradesPerDirection = 7
	failing := false
	loader := loaderFunc(func(ctx context.Context) (Config, error) {
		if failing {
			return Config{}, errors.New("sheet unreachable")
		}
		return good, nil
	})

	s := New(loader, nil)
	ctx := context.Background()
	if err := s.Refresh(ctx, day(25)); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	failing = true
	if err := s.Refresh(ctx, day(26)); err == nil {
		t.Fatal("failed reload reported success")
	}
	if got := s.Get(day(26)); got.MaxTradesPerDirection != 7 {
		t.Errorf("max after failed reload = %d, want 7", got.MaxTradesPerDirection)
	}
}

func TestFailedRolloverReloadRetriedOnNextTrigger(t *testing.T) {
	var failing int32 = 0
	var calls int32
	loader := loaderFunc(func(ctx context.Context) (Config, error) {
		n := atomic.AddInt32(&calls, 1)
		if atomic.LoadInt32(&failing) == 1 {
			return Config{}, errors.New("sheet unreachable")
		}
		cfg := Default()
		cfg.Qty = int64(n)
		return cfg, nil
	})

	s := New(loader, nil)
	s.RetryDelay = 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Refresh(ctx, day(25)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	atomic.StoreInt32(&failing, 1)
	s.Start(ctx)

	// rollover with the source down: the attempt fails and the snapshot
	// from day 25 stays authoritative
	s.Get(day(26))
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("rollover never attempted a reload")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Snapshot(); got.Qty != 1 {
		t.Fatalf("qty after failed reload = %d, want 1", got.Qty)
	}

	// the cache stays marked stale, so a later close in the SAME session
	// triggers another attempt once the source recovers
	atomic.StoreInt32(&failing, 0)
	deadline = time.Now().Add(2 * time.Second)
	for s.Get(day(26)).Qty < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reload never retried, loader calls = %d", atomic.LoadInt32(&calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRetryDelayHoldsOffLoader(t *testing.T) {
	var calls int32
	loader := loaderFunc(func(ctx context.Context) (Config, error) {
		atomic.AddInt32(&calls, 1)
		return Config{}, errors.New("sheet unreachable")
	})

	s := New(loader, nil)
	s.RetryDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	s.Get(day(26))
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("reload never attempted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// every close in the holdoff window serves the cache without another
	// loader hit
	for i := 0; i < 20; i++ {
		s.Get(day(26))
		time.Sleep(2 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("loader calls during holdoff = %d, want 1", n)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.HardExitTime != "15:20" {
		t.Errorf("hard exit = %s, want 15:20", cfg.HardExitTime)
	}
	if cfg.ORWindowMinutes != 30 {
		t.Errorf("or window = %d, want 30", cfg.ORWindowMinutes)
	}
}

func TestIndexOverrides(t *testing.T) {
	cfg := Default()
	cfg.MaxTradesPerDirection = 2
	cfg.IndexMaxTrades = map[string]int{"BANKNIFTY": 4}

	if got := cfg.MaxFor("NIFTY"); got != 2 {
		t.Errorf("NIFTY max = %d, want 2", got)
	}
	if got := cfg.MaxFor("BANKNIFTY"); got != 4 {
		t.Errorf("BANKNIFTY max = %d, want 4", got)
	}
	if got := cfg.TrailFor("BANKNIFTY"); got != 12000 {
		t.Errorf("BANKNIFTY trail = %d, want 12000", got)
	}
	if !cfg.StrategyEnabled("orb") {
		t.Error("unlisted strategy reported disabled")
	}
	cfg.Enabled = map[string]bool{"orb": false}
	if cfg.StrategyEnabled("orb") {
		t.Error("disabled strategy reported enabled")
	}
}

type loaderFunc func(ctx context.Context) (Config, error)

func (f loaderFunc) Load(ctx context.Context) (Config, error) { return f(ctx) }
