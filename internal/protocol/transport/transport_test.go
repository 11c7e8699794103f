package transport

import (
	"math/rand"
	"testing"
	"time"
)

func TestDefaultBackoffIsFixed(t *testing.T) {
	cfg := DefaultConfig().Backoff
	for attempt := 1; attempt <= 10; attempt++ {
		if got := NextBackoffDelay(cfg, attempt, nil); got != 5*time.Second {
			t.Fatalf("attempt %d: expected fixed 5s, got %s", attempt, got)
		}
	}
}

func TestBackoffGrowthCapsAtMax(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}
	if got := NextBackoffDelay(cfg, 1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: %s", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 200*time.Millisecond {
		t.Fatalf("attempt 2: %s", got)
	}
	if got := NextBackoffDelay(cfg, 5, nil); got != 300*time.Millisecond {
		t.Fatalf("attempt 5: %s", got)
	}
}

func TestBackoffJitterWithinBounds(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 1, Jitter: true}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(cfg, 1, rng)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", got)
		}
	}
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{HeartbeatInterval: time.Second}.WithDefaults()
	if cfg.HeartbeatInterval != time.Second {
		t.Fatalf("explicit heartbeat overwritten: %s", cfg.HeartbeatInterval)
	}
	if cfg.WriteTimeout != 5*time.Second || cfg.ReadBufferSize != 4096 || cfg.MaxMessageBytes != 128*1024 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Backoff.InitialDelay != 5*time.Second {
		t.Fatalf("backoff default not applied: %+v", cfg.Backoff)
	}
}
