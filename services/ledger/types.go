package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a bot user with free/paid search balances. Users are created on
// first contact and never deleted.
type User struct {
	ID                int64      `json:"id"`
	FreeSearches      int        `json:"free_searches"`
	PaidSearches      int        `json:"paid_searches"`
	LastFreeGrantDate *time.Time `json:"last_free_grant_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// GiftCard is a single-use redeemable code granting paid searches.
type GiftCard struct {
	ID             uuid.UUID  `json:"id"`
	Code           string     `json:"code"`
	CodeFormatted  string     `json:"code_formatted"`
	SearchesAmount int        `json:"searches_amount"`
	BatchID        string     `json:"batch_id"`
	IsRedeemed     bool       `json:"is_redeemed"`
	RedeemedBy     *int64     `json:"redeemed_by,omitempty"`
	RedeemedAt     *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Redemption is an append-only record of one gift-card redemption.
type Redemption struct {
	ID             uuid.UUID `json:"id"`
	UserID         int64     `json:"user_id"`
	GiftCardID     uuid.UUID `json:"gift_card_id"`
	SearchesAmount int       `json:"searches_amount"`
	Code           string    `json:"code"`
	RedeemedAt     time.Time `json:"redeemed_at"`
}

// Payment is an append-only record of one confirmed payment.
type Payment struct {
	ID                uuid.UUID `json:"id"`
	UserID            int64     `json:"user_id"`
	StarsPaid         int       `json:"stars_paid"`
	SearchesGranted   int       `json:"searches_granted"`
	ExternalPaymentID string    `json:"external_payment_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Event is an append-only analytics record.
type Event struct {
	UserID  int64          `json:"user_id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Store abstracts the backing database so the ledger logic is testable
// against an in-memory fake. All lookups return ErrNotFound when no record
// matches.
type Store interface {
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, u User) error
	SaveUser(ctx context.Context, u User) error

	GetGiftCard(ctx context.Context, code string) (GiftCard, error)
	InsertGiftCard(ctx context.Context, c GiftCard) error
	MarkGiftCardRedeemed(ctx context.Context, code string, by int64, at time.Time) error
	ListGiftCards(ctx context.Context) ([]GiftCard, error)

	InsertRedemption(ctx context.Context, r Redemption) error
	ListRedemptions(ctx context.Context) ([]Redemption, error)
	RedemptionsByUser(ctx context.Context, userID int64) ([]Redemption, error)

	InsertPayment(ctx context.Context, p Payment) error
	PaymentByExternalID(ctx context.Context, externalID string) (Payment, error)

	InsertEvent(ctx context.Context, e Event) error
}
