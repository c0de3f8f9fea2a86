package orchestrator

import (
	"context"
	"io"

	"faceseek/services/ledger"
	"faceseek/services/provider"
)

// Payment kinds carried on the payments.confirmed subject.
const (
	PaymentKindSearch     = "search"
	PaymentKindUnlockItem = "unlock_item"
	PaymentKindUnlockAll  = "unlock_all"
)

// Outcome statuses returned by HandlePhoto.
const (
	StatusDeliveredFree   = "delivered_free"
	StatusDeliveredPaid   = "delivered_paid"
	StatusPaymentRequired = "payment_required"
	StatusFailed          = "failed"
)

// PaymentEvent is a confirmed payment from the bot front-end.
type PaymentEvent struct {
	Kind              string `json:"kind"`
	UserID            int64  `json:"user_id"`
	ExternalPaymentID string `json:"external_payment_id"`
	Stars             int    `json:"stars"`
	Searches          int    `json:"searches"`
	SearchID          string `json:"search_id,omitempty"`
	ItemIndex         int    `json:"item_index,omitempty"`
}

// Outcome summarises what HandlePhoto did for the caller's HTTP response;
// the user-facing messages themselves go out through the Messenger.
type Outcome struct {
	Status   string `json:"status"`
	SearchID string `json:"search_id,omitempty"`
}

// CreditLedger is the slice of ledger behaviour the orchestrator needs.
// Implemented by *ledger.Ledger.
type CreditLedger interface {
	GetOrCreateUser(ctx context.Context, id int64) (ledger.User, error)
	Credits(ctx context.Context, id int64) (free, paid int, err error)
	GrantDailyFreeSearch(ctx context.Context, id int64) (bool, error)
	UseSearch(ctx context.Context, id int64) (wasFree bool, err error)
	AddPaidSearches(ctx context.Context, id int64, n int) error
	RecordPayment(ctx context.Context, userID int64, starsPaid, searchesGranted int, externalPaymentID string) (bool, error)
	TrackEvent(ctx context.Context, userID int64, name string, payload map[string]any) error
}

// Searcher runs one provider search end to end. Implemented by
// *provider.Client.
type Searcher interface {
	SubmitAndWait(ctx context.Context, image []byte, demo bool, onProgress provider.ProgressFunc) (*provider.SearchResult, error)
}

// NameResolver maps profile URLs to display names. Implemented by
// *provider.VKLookup.
type NameResolver interface {
	NamesFromURLs(ctx context.Context, urls []string) map[string]string
}

// Messenger delivers rendered messages to the user's chat surface.
type Messenger interface {
	SendText(ctx context.Context, userID int64, text string) error
	SendPhoto(ctx context.Context, userID int64, caption string, jpeg []byte) error
}

// eventBus is the slice of pkg/bus used here, narrowed for tests.
type eventBus interface {
	Publish(ctx context.Context, subj string, v any) error
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error)
}
