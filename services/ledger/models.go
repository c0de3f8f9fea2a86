package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type userModel struct {
	ID                int64      `gorm:"type:bigint;primaryKey"`
	FreeSearches      int        `gorm:"not null;default:0"`
	PaidSearches      int        `gorm:"not null;default:0"`
	LastFreeGrantDate *time.Time `gorm:"type:date"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toAPI() User {
	return User{
		ID:                m.ID,
		FreeSearches:      m.FreeSearches,
		PaidSearches:      m.PaidSearches,
		LastFreeGrantDate: m.LastFreeGrantDate,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func userToModel(u User) userModel {
	return userModel{
		ID:                u.ID,
		FreeSearches:      u.FreeSearches,
		PaidSearches:      u.PaidSearches,
		LastFreeGrantDate: u.LastFreeGrantDate,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

type giftCardModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code           string     `gorm:"type:text;uniqueIndex;not null"`
	CodeFormatted  string     `gorm:"type:text;not null"`
	SearchesAmount int        `gorm:"not null"`
	BatchID        string     `gorm:"type:text;index"`
	IsRedeemed     bool       `gorm:"not null;default:false"`
	RedeemedBy     *int64     `gorm:"type:bigint"`
	RedeemedAt     *time.Time `gorm:"type:timestamptz"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (giftCardModel) TableName() string { return "gift_cards" }

func (m giftCardModel) toAPI() GiftCard {
	return GiftCard{
		ID:             m.ID,
		Code:           m.Code,
		CodeFormatted:  m.CodeFormatted,
		SearchesAmount: m.SearchesAmount,
		BatchID:        m.BatchID,
		IsRedeemed:     m.IsRedeemed,
		RedeemedBy:     m.RedeemedBy,
		RedeemedAt:     m.RedeemedAt,
		CreatedAt:      m.CreatedAt,
	}
}

type redemptionModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         int64     `gorm:"type:bigint;not null;index"`
	GiftCardID     uuid.UUID `gorm:"type:uuid;not null"`
	SearchesAmount int       `gorm:"not null"`
	Code           string    `gorm:"type:text;not null"`
	RedeemedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (redemptionModel) TableName() string { return "gift_card_redemptions" }

func (m redemptionModel) toAPI() Redemption {
	return Redemption{
		ID:             m.ID,
		UserID:         m.UserID,
		GiftCardID:     m.GiftCardID,
		SearchesAmount: m.SearchesAmount,
		Code:           m.Code,
		RedeemedAt:     m.RedeemedAt,
	}
}

type paymentModel struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID            int64     `gorm:"type:bigint;not null;index"`
	StarsPaid         int       `gorm:"not null"`
	SearchesGranted   int       `gorm:"not null"`
	ExternalPaymentID string    `gorm:"type:text;index;not null"`
	CreatedAt         time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (paymentModel) TableName() string { return "payments" }

func (m paymentModel) toAPI() Payment {
	return Payment{
		ID:                m.ID,
		UserID:            m.UserID,
		StarsPaid:         m.StarsPaid,
		SearchesGranted:   m.SearchesGranted,
		ExternalPaymentID: m.ExternalPaymentID,
		CreatedAt:         m.CreatedAt,
	}
}

type eventModel struct {
	ID        int64             `gorm:"type:bigserial;primaryKey"`
	UserID    int64             `gorm:"type:bigint;not null;index"`
	Name      string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (eventModel) TableName() string { return "events" }

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
