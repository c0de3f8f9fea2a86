package cards

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"

	"faceseek/pkg/db"
)

// BatchStat is the per-batch breakdown of a stats report.
type BatchStat struct {
	BatchID  string `db:"batch_id"`
	Cards    int    `db:"cards"`
	Redeemed int    `db:"redeemed"`
	Searches int    `db:"searches"`
}

type cardTotals struct {
	TotalCards       int `db:"total_cards"`
	RedeemedCards    int `db:"redeemed_cards"`
	TotalSearches    int `db:"total_searches"`
	RedeemedSearches int `db:"redeemed_searches"`
}

type redemptionTotals struct {
	TotalRedemptions int `db:"total_redemptions"`
	UniqueUsers      int `db:"unique_users"`
}

// StatsReport aggregates card and redemption counts, with unredeemed figures
// derived from the totals.
type StatsReport struct {
	TotalCards         int
	RedeemedCards      int
	UnredeemedCards    int
	TotalSearches      int
	RedeemedSearches   int
	UnredeemedSearches int
	TotalRedemptions   int
	UniqueUsers        int
	Batches            []BatchStat
}

func newStatsReport(cards cardTotals, redemptions redemptionTotals, batches []BatchStat) *StatsReport {
	return &StatsReport{
		TotalCards:         cards.TotalCards,
		RedeemedCards:      cards.RedeemedCards,
		UnredeemedCards:    cards.TotalCards - cards.RedeemedCards,
		TotalSearches:      cards.TotalSearches,
		RedeemedSearches:   cards.RedeemedSearches,
		UnredeemedSearches: cards.TotalSearches - cards.RedeemedSearches,
		TotalRedemptions:   redemptions.TotalRedemptions,
		UniqueUsers:        redemptions.UniqueUsers,
		Batches:            batches,
	}
}

// QueryStats computes the report with SQL aggregates so it stays fast on
// large batches.
func QueryStats(ctx context.Context, pool *pgxpool.Pool) (*StatsReport, error) {
	var cards cardTotals
	err := db.Get(ctx, pool, &cards, `
		SELECT count(*)                                              AS total_cards,
		       count(*) FILTER (WHERE is_redeemed)                   AS redeemed_cards,
		       coalesce(sum(searches_amount), 0)                     AS total_searches,
		       coalesce(sum(searches_amount) FILTER (WHERE is_redeemed), 0) AS redeemed_searches
		FROM gift_cards`)
	if err != nil {
		return nil, fmt.Errorf("query card totals: %w", err)
	}

	var redemptions redemptionTotals
	err = db.Get(ctx, pool, &redemptions, `
		SELECT count(*)                AS total_redemptions,
		       count(DISTINCT user_id) AS unique_users
		FROM gift_card_redemptions`)
	if err != nil {
		return nil, fmt.Errorf("query redemption totals: %w", err)
	}

	var batches []BatchStat
	err = db.Select(ctx, pool, &batches, `
		SELECT batch_id,
		       count(*)                            AS cards,
		       count(*) FILTER (WHERE is_redeemed) AS redeemed,
		       coalesce(sum(searches_amount), 0)   AS searches
		FROM gift_cards
		GROUP BY batch_id
		ORDER BY batch_id`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	return newStatsReport(cards, redemptions, batches), nil
}

// Render writes the report in the stats command's output format.
func (r *StatsReport) Render(w io.Writer) {
	fmt.Fprintf(w, "cards:       %d total, %d redeemed, %d unredeemed\n",
		r.TotalCards, r.RedeemedCards, r.UnredeemedCards)
	fmt.Fprintf(w, "searches:    %d distributed, %d redeemed, %d remaining\n",
		r.TotalSearches, r.RedeemedSearches, r.UnredeemedSearches)
	fmt.Fprintf(w, "redemptions: %d by %d unique users\n",
		r.TotalRedemptions, r.UniqueUsers)
	for _, b := range r.Batches {
		fmt.Fprintf(w, "  batch %-20s %d cards, %d redeemed, %d searches\n",
			b.BatchID, b.Cards, b.Redeemed, b.Searches)
	}
}
