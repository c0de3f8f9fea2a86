package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultStartingFreeSearches = 1

// Config controls ledger behaviour.
type Config struct {
	// StartingFreeSearches is granted once, at first contact.
	StartingFreeSearches int
}

// Ledger implements credit bookkeeping over a Store. Balance mutations for a
// single user are serialized through a per-user mutex so concurrent requests
// from multiple devices cannot race past the balance check.
type Ledger struct {
	store Store
	cfg   Config
	now   func() time.Time

	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

// New creates a Ledger over the provided store.
func New(store Store, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.StartingFreeSearches <= 0 {
		cfg.StartingFreeSearches = defaultStartingFreeSearches
	}

	return &Ledger{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		users: make(map[int64]*sync.Mutex),
	}, nil
}

// SetNow overrides the clock, for tests.
func (l *Ledger) SetNow(now func() time.Time) { l.now = now }

func (l *Ledger) userLock(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.users[id]
	if !ok {
		lock = &sync.Mutex{}
		l.users[id] = lock
	}
	return lock
}

// GetOrCreateUser returns the user record, creating it with the starting free
// balance on first contact.
func (l *Ledger) GetOrCreateUser(ctx context.Context, id int64) (User, error) {
	lock := l.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := l.store.GetUser(ctx, id)
	switch {
	case err == nil:
		return user, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, err
	}

	now := l.now().UTC()
	user = User{
		ID:           id,
		FreeSearches: l.cfg.StartingFreeSearches,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.store.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Credits returns the user's free and paid balances.
func (l *Ledger) Credits(ctx context.Context, id int64) (free, paid int, err error) {
	user, err := l.store.GetUser(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	return user.FreeSearches, user.PaidSearches, nil
}

// GrantDailyFreeSearch grants one free search if the user has not been
// granted one today (UTC). Repeated calls within the same day are no-ops.
func (l *Ledger) GrantDailyFreeSearch(ctx context.Context, id int64) (bool, error) {
	lock := l.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := l.store.GetUser(ctx, id)
	if err != nil {
		return false, err
	}

	today := l.now().UTC().Truncate(24 * time.Hour)
	if user.LastFreeGrantDate != nil && !user.LastFreeGrantDate.UTC().Truncate(24*time.Hour).Before(today) {
		return false, nil
	}

	user.FreeSearches++
	user.LastFreeGrantDate = &today
	user.UpdatedAt = l.now().UTC()
	if err := l.store.SaveUser(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}

// UseSearch consumes one credit, preferring the free balance. Returns whether
// the consumed credit was free. Both balances zero yields ErrNoCredits with
// no mutation.
func (l *Ledger) UseSearch(ctx context.Context, id int64) (wasFree bool, err error) {
	lock := l.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := l.store.GetUser(ctx, id)
	if err != nil {
		return false, err
	}

	switch {
	case user.FreeSearches > 0:
		user.FreeSearches--
		wasFree = true
	case user.PaidSearches > 0:
		user.PaidSearches--
	default:
		return false, ErrNoCredits
	}

	user.UpdatedAt = l.now().UTC()
	if err := l.store.SaveUser(ctx, user); err != nil {
		return false, err
	}
	return wasFree, nil
}

// AddPaidSearches increments the paid balance by n.
func (l *Ledger) AddPaidSearches(ctx context.Context, id int64, n int) error {
	if n <= 0 {
		return errors.New("searches amount must be positive")
	}

	lock := l.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := l.store.GetUser(ctx, id)
	if err != nil {
		return err
	}

	user.PaidSearches += n
	user.UpdatedAt = l.now().UTC()
	return l.store.SaveUser(ctx, user)
}

// RecordPayment appends a payment record. A payment whose external id was
// already recorded is skipped; the lookup-then-insert pair is not wrapped in
// a transaction, so a concurrent duplicate delivery can still slip through.
func (l *Ledger) RecordPayment(ctx context.Context, userID int64, starsPaid, searchesGranted int, externalPaymentID string) (bool, error) {
	if externalPaymentID != "" {
		_, err := l.store.PaymentByExternalID(ctx, externalPaymentID)
		switch {
		case err == nil:
			return false, nil
		case !errors.Is(err, ErrNotFound):
			return false, err
		}
	}

	payment := Payment{
		ID:                uuid.New(),
		UserID:            userID,
		StarsPaid:         starsPaid,
		SearchesGranted:   searchesGranted,
		ExternalPaymentID: externalPaymentID,
		CreatedAt:         l.now().UTC(),
	}
	if err := l.store.InsertPayment(ctx, payment); err != nil {
		return false, err
	}
	return true, nil
}

// TrackEvent appends an analytics event. Failures are reported but never
// block the calling path.
func (l *Ledger) TrackEvent(ctx context.Context, userID int64, name string, payload map[string]any) error {
	return l.store.InsertEvent(ctx, Event{UserID: userID, Name: name, Payload: payload})
}
