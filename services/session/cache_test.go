package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"faceseek/services/provider"
)

func testResult() *provider.SearchResult {
	return &provider.SearchResult{
		IDSearch: "abc123",
		Progress: 100,
		Output: provider.Output{
			Items: []provider.Item{{Score: 90, URL: "https://example.com/p1"}},
		},
	}
}

func TestStoreAndGet(t *testing.T) {
	c := NewCache(0, 0)
	defer c.Close()

	c.Store("abc123", 42, true, testResult())

	e, err := c.Get("abc123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.UserID != 42 || !e.WasFree || e.Unlocked {
		t.Errorf("entry = %+v, want user 42, free, locked", e)
	}
	if e.Result == nil || e.Result.IDSearch != "abc123" {
		t.Errorf("result not stored: %+v", e.Result)
	}

	if _, err := c.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestIsExpired(t *testing.T) {
	c := NewCache(0, 0)
	defer c.Close()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetNow(func() time.Time { return current })

	c.Store("abc123", 42, false, testResult())

	if c.IsExpired("abc123") {
		t.Error("fresh session reported expired")
	}

	// Exactly at the TTL boundary is still live.
	current = current.Add(DefaultTTL)
	if c.IsExpired("abc123") {
		t.Error("session at TTL boundary reported expired")
	}

	current = current.Add(time.Second)
	if !c.IsExpired("abc123") {
		t.Error("session past TTL reported live")
	}

	if !c.IsExpired("missing") {
		t.Error("unknown session reported live")
	}

	// The entry survives expiry; only its revealability ends.
	if _, err := c.Get("abc123"); err != nil {
		t.Errorf("expired entry evicted: %v", err)
	}
}

func TestMarkUnlocked(t *testing.T) {
	c := NewCache(0, 0)
	defer c.Close()

	c.Store("abc123", 42, false, testResult())

	if err := c.MarkUnlocked("abc123"); err != nil {
		t.Fatalf("MarkUnlocked() error = %v", err)
	}
	e, _ := c.Get("abc123")
	if !e.Unlocked {
		t.Error("entry not marked unlocked")
	}

	if err := c.MarkUnlocked("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkUnlocked(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLastSearchID(t *testing.T) {
	c := NewCache(0, 0)
	defer c.Close()

	if _, ok := c.LastSearchID(42); ok {
		t.Error("LastSearchID reported a session before any store")
	}

	c.Store("first", 42, true, testResult())
	c.Store("second", 42, false, testResult())

	id, ok := c.LastSearchID(42)
	if !ok || id != "second" {
		t.Errorf("LastSearchID = (%q, %v), want (second, true)", id, ok)
	}
}

func TestReminderFires(t *testing.T) {
	c := NewCache(60*time.Millisecond, 40*time.Millisecond)
	defer c.Close()

	c.Store("abc123", 42, true, testResult())

	fired := make(chan string, 1)
	if err := c.ScheduleReminder("abc123", func(id string) { fired <- id }); err != nil {
		t.Fatalf("ScheduleReminder() error = %v", err)
	}

	select {
	case id := <-fired:
		if id != "abc123" {
			t.Errorf("reminder fired for %q, want abc123", id)
		}
	case <-time.After(time.Second):
		t.Fatal("reminder did not fire")
	}
}

func TestReminderSuppressedAfterUnlock(t *testing.T) {
	c := NewCache(60*time.Millisecond, 40*time.Millisecond)
	defer c.Close()

	c.Store("abc123", 42, true, testResult())

	var fired atomic.Int32
	if err := c.ScheduleReminder("abc123", func(string) { fired.Add(1) }); err != nil {
		t.Fatalf("ScheduleReminder() error = %v", err)
	}
	if err := c.MarkUnlocked("abc123"); err != nil {
		t.Fatalf("MarkUnlocked() error = %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("reminder fired %d times after unlock", n)
	}
}

func TestReminderArmedOnce(t *testing.T) {
	c := NewCache(60*time.Millisecond, 40*time.Millisecond)
	defer c.Close()

	c.Store("abc123", 42, true, testResult())

	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		if err := c.ScheduleReminder("abc123", func(string) { fired.Add(1) }); err != nil {
			t.Fatalf("ScheduleReminder() #%d error = %v", i, err)
		}
	}

	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("reminder fired %d times, want 1", n)
	}
}

func TestReminderUnknownSession(t *testing.T) {
	c := NewCache(0, 0)
	defer c.Close()

	err := c.ScheduleReminder("missing", func(string) {})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ScheduleReminder(missing) error = %v, want ErrNotFound", err)
	}
}
