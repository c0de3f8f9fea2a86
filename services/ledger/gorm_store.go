package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GormStore is the PostgreSQL-backed Store implementation.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore wraps a GORM handle as a ledger Store.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) GetUser(ctx context.Context, id int64) (User, error) {
	var model userModel
	if err := s.orm.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return User{}, translateErr(err)
	}
	return model.toAPI(), nil
}

func (s *GormStore) CreateUser(ctx context.Context, u User) error {
	model := userToModel(u)
	return s.orm.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) SaveUser(ctx context.Context, u User) error {
	return s.orm.WithContext(ctx).
		Model(&userModel{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"free_searches":        u.FreeSearches,
			"paid_searches":        u.PaidSearches,
			"last_free_grant_date": u.LastFreeGrantDate,
			"updated_at":           u.UpdatedAt,
		}).Error
}

func (s *GormStore) GetGiftCard(ctx context.Context, code string) (GiftCard, error) {
	var model giftCardModel
	if err := s.orm.WithContext(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		return GiftCard{}, translateErr(err)
	}
	return model.toAPI(), nil
}

func (s *GormStore) InsertGiftCard(ctx context.Context, c GiftCard) error {
	model := giftCardModel{
		ID:             c.ID,
		Code:           c.Code,
		CodeFormatted:  c.CodeFormatted,
		SearchesAmount: c.SearchesAmount,
		BatchID:        c.BatchID,
		IsRedeemed:     c.IsRedeemed,
		RedeemedBy:     c.RedeemedBy,
		RedeemedAt:     c.RedeemedAt,
		CreatedAt:      c.CreatedAt,
	}
	return s.orm.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) MarkGiftCardRedeemed(ctx context.Context, code string, by int64, at time.Time) error {
	return s.orm.WithContext(ctx).
		Model(&giftCardModel{}).
		Where("code = ?", code).
		Updates(map[string]any{
			"is_redeemed": true,
			"redeemed_by": by,
			"redeemed_at": at,
		}).Error
}

func (s *GormStore) ListGiftCards(ctx context.Context) ([]GiftCard, error) {
	var models []giftCardModel
	if err := s.orm.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	cards := make([]GiftCard, 0, len(models))
	for _, m := range models {
		cards = append(cards, m.toAPI())
	}
	return cards, nil
}

func (s *GormStore) InsertRedemption(ctx context.Context, r Redemption) error {
	model := redemptionModel{
		ID:             r.ID,
		UserID:         r.UserID,
		GiftCardID:     r.GiftCardID,
		SearchesAmount: r.SearchesAmount,
		Code:           r.Code,
		RedeemedAt:     r.RedeemedAt,
	}
	return s.orm.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) ListRedemptions(ctx context.Context) ([]Redemption, error) {
	var models []redemptionModel
	if err := s.orm.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	redemptions := make([]Redemption, 0, len(models))
	for _, m := range models {
		redemptions = append(redemptions, m.toAPI())
	}
	return redemptions, nil
}

func (s *GormStore) RedemptionsByUser(ctx context.Context, userID int64) ([]Redemption, error) {
	var models []redemptionModel
	if err := s.orm.WithContext(ctx).Where("user_id = ?", userID).Order("redeemed_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	redemptions := make([]Redemption, 0, len(models))
	for _, m := range models {
		redemptions = append(redemptions, m.toAPI())
	}
	return redemptions, nil
}

func (s *GormStore) InsertPayment(ctx context.Context, p Payment) error {
	model := paymentModel{
		ID:                p.ID,
		UserID:            p.UserID,
		StarsPaid:         p.StarsPaid,
		SearchesGranted:   p.SearchesGranted,
		ExternalPaymentID: p.ExternalPaymentID,
		CreatedAt:         p.CreatedAt,
	}
	return s.orm.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) PaymentByExternalID(ctx context.Context, externalID string) (Payment, error) {
	var model paymentModel
	if err := s.orm.WithContext(ctx).Where("external_payment_id = ?", externalID).First(&model).Error; err != nil {
		return Payment{}, translateErr(err)
	}
	return model.toAPI(), nil
}

func (s *GormStore) InsertEvent(ctx context.Context, e Event) error {
	model := eventModel{
		UserID:  e.UserID,
		Name:    e.Name,
		Payload: toJSONMap(e.Payload),
	}
	return s.orm.WithContext(ctx).Create(&model).Error
}
