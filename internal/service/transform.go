package service

import (
	"math"
	"time"

	"github.com/timmy/restock/internal/domain"
	"github.com/timmy/restock/internal/upstream"
)

// applyItem maps an upstream item onto a catalog entry after a successful
// refresh. Lifecycle status is deliberately left untouched: a successful
// refresh confirms the data, it does not change where the entry is in its
// lifecycle.
func applyItem(entry *domain.CatalogEntry, item *upstream.Item, now time.Time) {
	if item.Title != nil {
		entry.Title = *item.Title
	}
	entry.Price = item.Price
	entry.OriginalPrice = item.OriginalPrice
	if item.Currency != nil {
		entry.Currency = *item.Currency
	}
	entry.SavingsAmount, entry.SavingsPercent = computeSavings(item.Price, item.OriginalPrice)
	if item.Availability != nil {
		entry.Availability = *item.Availability
	}
	entry.Rating = item.Rating
	entry.ReviewCount = item.ReviewCount
	if item.Raw != nil {
		entry.Payload = domain.JSONMap(item.Raw)
	}
	refreshedAt := now
	entry.LastRefreshAt = &refreshedAt
}

// markUnavailable transitions an entry to unavailable. last_available_at is
// set to the previous last_refresh_at only on the transition itself: the last
// time the item was confirmed present. An already-unavailable entry keeps it.
func markUnavailable(entry *domain.CatalogEntry, now time.Time) {
	if entry.Status != domain.EntryStatusUnavailable {
		entry.LastAvailableAt = entry.LastRefreshAt
	}
	entry.Status = domain.EntryStatusUnavailable
	refreshedAt := now
	entry.LastRefreshAt = &refreshedAt
}

// computeSavings derives the savings amount and percentage, rounded to two
// decimals. Both are nil unless both prices are present and the current price
// is below the original.
func computeSavings(price, original *float64) (*float64, *float64) {
	if price == nil || original == nil {
		return nil, nil
	}
	if *original <= 0 || *price >= *original {
		return nil, nil
	}
	amount := round2(*original - *price)
	percent := round2(amount / *original * 100)
	return &amount, &percent
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
