package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type User struct {
	ID                int64      `gorm:"type:bigint;primaryKey"`
	FreeSearches      int        `gorm:"not null;default:0"`
	PaidSearches      int        `gorm:"not null;default:0"`
	LastFreeGrantDate *time.Time `gorm:"type:date"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type GiftCard struct {
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

type GiftCardRedemption struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         int64     `gorm:"type:bigint;not null;index"`
	GiftCardID     uuid.UUID `gorm:"type:uuid;not null"`
	SearchesAmount int       `gorm:"not null"`
	Code           string    `gorm:"type:text;not null"`
	RedeemedAt     time.Time `gorm:"type:timestamptz;not null;default:now()"`
	GiftCard       GiftCard  `gorm:"foreignKey:GiftCardID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Payment struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID            int64     `gorm:"type:bigint;not null;index"`
	StarsPaid         int       `gorm:"not null"`
	SearchesGranted   int       `gorm:"not null"`
	ExternalPaymentID string    `gorm:"type:text;index;not null"`
	CreatedAt         time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Event struct {
	ID        int64             `gorm:"type:bigserial;primaryKey"`
	UserID    int64             `gorm:"type:bigint;not null;index"`
	Name      string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&User{},
		&GiftCard{},
		&GiftCardRedemption{},
		&Payment{},
		&Event{},
	); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().CreateConstraint(&GiftCardRedemption{}, "GiftCard")
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Event{},
		&Payment{},
		&GiftCardRedemption{},
		&GiftCard{},
		&User{},
	)
}
