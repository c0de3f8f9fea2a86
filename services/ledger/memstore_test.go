package ledger

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used across the ledger tests.
type memStore struct {
	mu          sync.Mutex
	users       map[int64]User
	cards       map[string]GiftCard
	redemptions []Redemption
	payments    []Payment
	events      []Event
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[int64]User),
		cards: make(map[string]GiftCard),
	}
}

func (s *memStore) GetUser(_ context.Context, id int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *memStore) CreateUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *memStore) SaveUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *memStore) GetGiftCard(_ context.Context, code string) (GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[code]
	if !ok {
		return GiftCard{}, ErrNotFound
	}
	return c, nil
}

func (s *memStore) InsertGiftCard(_ context.Context, c GiftCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.Code] = c
	return nil
}

func (s *memStore) MarkGiftCardRedeemed(_ context.Context, code string, by int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[code]
	if !ok {
		return ErrNotFound
	}
	c.IsRedeemed = true
	c.RedeemedBy = &by
	c.RedeemedAt = &at
	s.cards[code] = c
	return nil
}

func (s *memStore) ListGiftCards(_ context.Context) ([]GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make([]GiftCard, 0, len(s.cards))
	for _, c := range s.cards {
		cards = append(cards, c)
	}
	return cards, nil
}

func (s *memStore) InsertRedemption(_ context.Context, r Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redemptions = append(s.redemptions, r)
	return nil
}

func (s *memStore) ListRedemptions(_ context.Context) ([]Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Redemption(nil), s.redemptions...), nil
}

func (s *memStore) RedemptionsByUser(_ context.Context, userID int64) ([]Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Redemption
	for _, r := range s.redemptions {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) InsertPayment(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, p)
	return nil
}

func (s *memStore) PaymentByExternalID(_ context.Context, externalID string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalPaymentID == externalID {
			return p, nil
		}
	}
	return Payment{}, ErrNotFound
}

func (s *memStore) InsertEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}
