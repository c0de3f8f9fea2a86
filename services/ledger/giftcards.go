package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	codeLength = 12
	codeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCode produces a random 12-character gift-card code from [A-Z0-9].
func GenerateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(codeLength)
	max := big.NewInt(int64(len(codeChars)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		sb.WriteByte(codeChars[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeCode strips separators and uppercases. ErrInvalidCode when the
// result is not exactly 12 characters.
func NormalizeCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	if len(normalized) != codeLength {
		return "", ErrInvalidCode
	}
	return normalized, nil
}

// FormatCode renders a code in the canonical XXXX-XXXX-XXXX grouping.
// Codes of unexpected length pass through unchanged.
func FormatCode(code string) string {
	code = strings.ToUpper(strings.ReplaceAll(code, "-", ""))
	if len(code) != codeLength {
		return code
	}
	return code[:4] + "-" + code[4:8] + "-" + code[8:]
}

// CreateGiftCards generates and stores count cards worth searchesAmount each.
func (l *Ledger) CreateGiftCards(ctx context.Context, count, searchesAmount int, batchID string) ([]GiftCard, error) {
	if count <= 0 {
		return nil, errors.New("count must be positive")
	}
	if searchesAmount <= 0 {
		return nil, errors.New("searches amount must be positive")
	}

	cards := make([]GiftCard, 0, count)
	for i := 0; i < count; i++ {
		code, err := GenerateCode()
		if err != nil {
			return cards, err
		}
		card := GiftCard{
			ID:             uuid.New(),
			Code:           code,
			CodeFormatted:  FormatCode(code),
			SearchesAmount: searchesAmount,
			BatchID:        batchID,
			CreatedAt:      l.now().UTC(),
		}
		if err := l.store.InsertGiftCard(ctx, card); err != nil {
			return cards, fmt.Errorf("insert gift card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// ImportGiftCard stores a pre-generated code as an unredeemed card.
func (l *Ledger) ImportGiftCard(ctx context.Context, code string, searchesAmount int, batchID string) (GiftCard, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return GiftCard{}, err
	}

	card := GiftCard{
		ID:             uuid.New(),
		Code:           normalized,
		CodeFormatted:  FormatCode(normalized),
		SearchesAmount: searchesAmount,
		BatchID:        batchID,
		CreatedAt:      l.now().UTC(),
	}
	if err := l.store.InsertGiftCard(ctx, card); err != nil {
		return GiftCard{}, err
	}
	return card, nil
}

// RedeemGiftCard redeems a code for the user and returns the number of paid
// searches credited. The credit, mark-redeemed, and log steps are applied in
// order without a wrapping transaction; a crash between steps leaves the
// stages inconsistent (acknowledged tolerance, not corrected here).
func (l *Ledger) RedeemGiftCard(ctx context.Context, userID int64, code string) (int, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return 0, err
	}

	card, err := l.store.GetGiftCard(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrCodeNotFound
		}
		return 0, err
	}

	if card.IsRedeemed {
		redeemedAt := time.Time{}
		if card.RedeemedAt != nil {
			redeemedAt = *card.RedeemedAt
		}
		return 0, &AlreadyRedeemedError{RedeemedAt: redeemedAt}
	}

	if err := l.AddPaidSearches(ctx, userID, card.SearchesAmount); err != nil {
		return 0, fmt.Errorf("credit searches: %w", err)
	}

	now := l.now().UTC()
	if err := l.store.MarkGiftCardRedeemed(ctx, card.Code, userID, now); err != nil {
		return 0, fmt.Errorf("mark redeemed: %w", err)
	}

	redemption := Redemption{
		ID:             uuid.New(),
		UserID:         userID,
		GiftCardID:     card.ID,
		SearchesAmount: card.SearchesAmount,
		Code:           card.Code,
		RedeemedAt:     now,
	}
	if err := l.store.InsertRedemption(ctx, redemption); err != nil {
		return 0, fmt.Errorf("log redemption: %w", err)
	}

	return card.SearchesAmount, nil
}

// UserRedemptions returns the user's redemption history.
func (l *Ledger) UserRedemptions(ctx context.Context, userID int64) ([]Redemption, error) {
	return l.store.RedemptionsByUser(ctx, userID)
}

// GiftCardStats aggregates card and redemption counts across all batches.
type GiftCardStats struct {
	TotalCards         int `json:"total_cards"`
	RedeemedCards      int `json:"redeemed_cards"`
	UnredeemedCards    int `json:"unredeemed_cards"`
	TotalSearches      int `json:"total_searches"`
	RedeemedSearches   int `json:"redeemed_searches"`
	UnredeemedSearches int `json:"unredeemed_searches"`
	TotalRedemptions   int `json:"total_redemptions"`
	UniqueUsers        int `json:"unique_users"`
}

// Stats computes aggregate gift-card statistics.
func (l *Ledger) Stats(ctx context.Context) (GiftCardStats, error) {
	cards, err := l.store.ListGiftCards(ctx)
	if err != nil {
		return GiftCardStats{}, err
	}

	var stats GiftCardStats
	stats.TotalCards = len(cards)
	for _, c := range cards {
		stats.TotalSearches += c.SearchesAmount
		if c.IsRedeemed {
			stats.RedeemedCards++
			stats.RedeemedSearches += c.SearchesAmount
		}
	}
	stats.UnredeemedCards = stats.TotalCards - stats.RedeemedCards
	stats.UnredeemedSearches = stats.TotalSearches - stats.RedeemedSearches

	redemptions, err := l.store.ListRedemptions(ctx)
	if err != nil {
		return GiftCardStats{}, err
	}
	stats.TotalRedemptions = len(redemptions)

	users := make(map[int64]struct{}, len(redemptions))
	for _, r := range redemptions {
		users[r.UserID] = struct{}{}
	}
	stats.UniqueUsers = len(users)

	return stats, nil
}
