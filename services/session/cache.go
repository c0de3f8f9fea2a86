package session

import (
	"errors"
	"sync"
	"time"

	"faceseek/services/provider"
)

const (
	// DefaultTTL is how long a delivered result stays revealable.
	DefaultTTL = 1800 * time.Second

	// DefaultReminderLead is how long before expiry the reminder fires.
	DefaultReminderLead = 5 * time.Minute
)

var (
	// ErrNotFound is returned for unknown search ids.
	ErrNotFound = errors.New("search session not found")
)

// Entry is one cached search session. Result payloads are held only in
// memory; a process restart loses them.
type Entry struct {
	SearchID  string
	UserID    int64
	WasFree   bool
	Result    *provider.SearchResult
	CreatedAt time.Time
	Unlocked  bool
}

type entry struct {
	Entry
	reminder *time.Timer
}

// Cache maps search ids to their result payloads with a fixed TTL and at
// most one pending reminder timer per session. Entries are never evicted:
// expired sessions stay in the map until the process restarts. That trade is
// deliberate — the deployment restarts the process regularly and the
// simplicity beats a sweeper for this workload.
type Cache struct {
	ttl          time.Duration
	reminderLead time.Duration
	now          func() time.Time

	mu         sync.Mutex
	entries    map[string]*entry
	lastByUser map[int64]string
}

// NewCache creates a Cache with the given TTL and reminder lead. Zero values
// select the defaults.
func NewCache(ttl, reminderLead time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if reminderLead <= 0 {
		reminderLead = DefaultReminderLead
	}
	return &Cache{
		ttl:          ttl,
		reminderLead: reminderLead,
		now:          time.Now,
		entries:      make(map[string]*entry),
		lastByUser:   make(map[int64]string),
	}
}

// SetNow overrides the clock, for tests.
func (c *Cache) SetNow(now func() time.Time) { c.now = now }

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Store inserts a completed search session. An existing entry for the same
// search id is replaced and its reminder canceled.
func (c *Cache) Store(searchID string, userID int64, wasFree bool, result *provider.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[searchID]; ok && old.reminder != nil {
		old.reminder.Stop()
	}

	c.entries[searchID] = &entry{
		Entry: Entry{
			SearchID:  searchID,
			UserID:    userID,
			WasFree:   wasFree,
			Result:    result,
			CreatedAt: c.now(),
		},
	}
	c.lastByUser[userID] = searchID
}

// Get returns a copy of the session entry.
func (c *Cache) Get(searchID string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[searchID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.Entry, nil
}

// LastSearchID returns the most recent search id stored for the user.
func (c *Cache) LastSearchID(userID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.lastByUser[userID]
	return id, ok
}

// IsExpired reports whether the session is absent or older than the TTL.
func (c *Cache) IsExpired(searchID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[searchID]
	if !ok {
		return true
	}
	return c.now().Sub(e.CreatedAt) > c.ttl
}

// MarkUnlocked flags the session as fully revealed and cancels any pending
// reminder.
func (c *Cache) MarkUnlocked(searchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[searchID]
	if !ok {
		return ErrNotFound
	}
	e.Unlocked = true
	if e.reminder != nil {
		e.reminder.Stop()
		e.reminder = nil
	}
	return nil
}

// ScheduleReminder arms the session's one reminder timer to fire
// reminderLead before expiry. fn runs only if the session is still locked
// and not expired at that moment. A session already carrying a pending
// reminder, or already unlocked, is left alone.
func (c *Cache) ScheduleReminder(searchID string, fn func(searchID string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[searchID]
	if !ok {
		return ErrNotFound
	}
	if e.Unlocked || e.reminder != nil {
		return nil
	}

	delay := c.ttl - c.reminderLead - c.now().Sub(e.CreatedAt)
	if delay < 0 {
		delay = 0
	}

	e.reminder = time.AfterFunc(delay, func() {
		c.mu.Lock()
		current, ok := c.entries[searchID]
		if !ok {
			c.mu.Unlock()
			return
		}
		current.reminder = nil
		fire := !current.Unlocked && c.now().Sub(current.CreatedAt) <= c.ttl
		c.mu.Unlock()

		if fire {
			fn(searchID)
		}
	})
	return nil
}

// Len reports the number of cached sessions, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels all pending reminder timers for clean teardown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.reminder != nil {
			e.reminder.Stop()
			e.reminder = nil
		}
	}
}
