// Package botapi is the HTTP surface the messaging front-end talks to:
// photo submission, gift-card redemption, unlock actions and the payment
// confirmation webhook.
package botapi

import (
	"context"
	"errors"
	"log"
	"os"

	"faceseek/pkg/render"
	"faceseek/services/ledger"
	"faceseek/services/orchestrator"
	"faceseek/services/session"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// AdminToken guards the card-stats endpoint. Empty disables it.
	AdminToken string

	// MaxPhotoBytes caps uploaded photo size. Defaults to 10 MiB.
	MaxPhotoBytes int64

	// Ready reports backend availability for the readiness probe. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

// SearchService is the slice of orchestrator behaviour the handlers use.
type SearchService interface {
	HandlePhoto(ctx context.Context, userID int64, photo []byte) (orchestrator.Outcome, error)
	Unlock(ctx context.Context, userID int64, searchID string, itemIndex int, all bool) error
	Session(searchID string) (session.Entry, error)
	LastSearchID(userID int64) (string, bool)
}

// CreditService is the slice of ledger behaviour the handlers use.
type CreditService interface {
	GetOrCreateUser(ctx context.Context, id int64) (ledger.User, error)
	Credits(ctx context.Context, id int64) (free, paid int, err error)
	RedeemGiftCard(ctx context.Context, userID int64, code string) (int, error)
	UserRedemptions(ctx context.Context, userID int64) ([]ledger.Redemption, error)
	Stats(ctx context.Context) (ledger.GiftCardStats, error)
}

type publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// API wires dependencies, template renderer, and configuration for HTTP
// handlers.
type API struct {
	search   SearchService
	credits  CreditService
	bus      publisher
	renderer *render.Engine
	logger   *log.Logger
	config   Config
}

// New initialises the API layer with defaults applied to the provided
// configuration.
func New(search SearchService, credits CreditService, bus publisher, renderer *render.Engine, cfg Config) (*API, error) {
	if search == nil {
		return nil, errors.New("search service is required")
	}
	if credits == nil {
		return nil, errors.New("credit service is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}

	if cfg.MaxPhotoBytes <= 0 {
		cfg.MaxPhotoBytes = 10 << 20
	}
	if cfg.AdminToken == "" {
		cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	}

	return &API{
		search:   search,
		credits:  credits,
		bus:      bus,
		renderer: renderer,
		logger:   log.Default(),
		config:   cfg,
	}, nil
}
