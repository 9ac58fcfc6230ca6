package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/conference-hall/scheduler/internal/sessions"
)

func TestUnreachableRedisDisablesCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	if c.IsAvailable() {
		t.Fatal("cache should be disabled when Redis is unreachable")
	}

	ctx := context.Background()
	if _, ok := c.SessionsVersion(ctx, "sched"); ok {
		t.Fatal("disabled cache must not report a sessions version")
	}
	if err := c.SetSessions(ctx, "sched", 0, []sessions.Session{{ID: "s1"}}); err != nil {
		t.Fatalf("set on disabled cache should be a no-op, got %v", err)
	}
	if _, ok := c.GetSessions(ctx, "sched", 0); ok {
		t.Fatal("disabled cache must miss")
	}
	if err := c.InvalidateSchedule(ctx, "sched"); err != nil {
		t.Fatalf("invalidate on disabled cache: %v", err)
	}
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *Cache
	if c.IsAvailable() {
		t.Fatal("nil cache must report unavailable")
	}
	if _, ok := c.GetSchedule(context.Background(), "sched"); ok {
		t.Fatal("nil cache must miss")
	}
	if err := c.FlushAll(context.Background()); err != nil {
		t.Fatalf("flush nil cache: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil cache: %v", err)
	}
}

func TestDefaultsFillZeroTTLs(t *testing.T) {
	c := NewWithClient(nil, Config{}, zerolog.Nop())
	if c.config.SessionsTTL != DefaultSessionsTTL || c.config.ScheduleTTL != DefaultScheduleTTL {
		t.Fatalf("ttl defaults not applied: %+v", c.config)
	}
	if c.IsAvailable() {
		t.Fatal("cache without client must be unavailable")
	}
}

// liveCache connects to CONFERENCE_HALL_REDIS_ADDR (default localhost:6379)
// and skips the test when nothing answers.
func liveCache(t *testing.T) *Cache {
	t.Helper()
	cfg := DefaultConfig()
	if addr := os.Getenv("CONFERENCE_HALL_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if !c.IsAvailable() {
		t.Skip("redis unavailable")
	}
	return c
}

func TestSessionsWrittenBeforeInvalidationAreNotServed(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()
	scheduleID := "cache-test-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { _ = c.InvalidateSchedule(ctx, scheduleID) })

	// a reader takes the version, then loads from the database
	stale, ok := c.SessionsVersion(ctx, scheduleID)
	if !ok {
		t.Fatal("version unavailable")
	}
	// a writer commits and invalidates before the reader fills the cache
	if err := c.InvalidateSessions(ctx, scheduleID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.SetSessions(ctx, scheduleID, stale, []sessions.Session{}); err != nil {
		t.Fatalf("set stale: %v", err)
	}

	current, _ := c.SessionsVersion(ctx, scheduleID)
	if current == stale {
		t.Fatalf("version not bumped: %d", current)
	}
	if _, ok := c.GetSessions(ctx, scheduleID, current); ok {
		t.Fatal("list loaded before the invalidation was served")
	}

	fresh := []sessions.Session{{ID: "b", TrackID: "t1"}}
	if err := c.SetSessions(ctx, scheduleID, current, fresh); err != nil {
		t.Fatalf("set fresh: %v", err)
	}
	got, ok := c.GetSessions(ctx, scheduleID, current)
	if !ok || len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("cached = %+v, %v; want fresh list", got, ok)
	}
}

func TestFlushAllDropsCachedEntries(t *testing.T) {
	c := liveCache(t)
	ctx := context.Background()
	scheduleID := "cache-flush-" + time.Now().Format("150405.000000000")

	if err := c.SetSchedule(ctx, &CachedSchedule{ID: scheduleID, Name: "DevFest"}); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	version, _ := c.SessionsVersion(ctx, scheduleID)
	if err := c.SetSessions(ctx, scheduleID, version, []sessions.Session{{ID: "a"}}); err != nil {
		t.Fatalf("set sessions: %v", err)
	}

	if err := c.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := c.GetSchedule(ctx, scheduleID); ok {
		t.Fatal("schedule survived flush")
	}
	if _, ok := c.GetSessions(ctx, scheduleID, version); ok {
		t.Fatal("sessions survived flush")
	}
}
