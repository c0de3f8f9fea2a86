package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoCredits means both free and paid balances are zero.
	ErrNoCredits = errors.New("no search credits available")

	// ErrInvalidCode means the gift-card code is not 12 characters after
	// normalization.
	ErrInvalidCode = errors.New("invalid gift card code format")

	// ErrCodeNotFound means no gift card exists for the given code.
	ErrCodeNotFound = errors.New("gift card code not found")
)

// AlreadyRedeemedError reports a second redemption attempt on a used card.
type AlreadyRedeemedError struct {
	RedeemedAt time.Time
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("gift card already redeemed at %s", e.RedeemedAt.UTC().Format(time.RFC3339))
}
