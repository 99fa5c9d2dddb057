package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Range limits a price history to a trailing window.
type Range string

const (
	Range7Days  Range = "7days"
	Range30Days Range = "30days"
	Range90Days Range = "90days"
	RangeAll    Range = "all"
)

// ParseRange accepts the chart ranges; empty means all.
func ParseRange(raw string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(raw))); r {
	case "":
		return RangeAll, nil
	case Range7Days, Range30Days, Range90Days, RangeAll:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown range %q", ErrInvalidInput, raw)
	}
}

// Since returns the earliest date included by r relative to now.
func (r Range) Since(now time.Time) (Date, bool) {
	var days int
	switch r {
	case Range7Days:
		days = 7
	case Range30Days:
		days = 30
	case Range90Days:
		days = 90
	default:
		return Date{}, false
	}
	return DateOf(now.AddDate(0, 0, -days)), true
}

const recentChangesLimit = 5

// Summary is the dashboard overview of active products.
type Summary struct {
	TotalProducts  int             `json:"total_products"`
	PricedProducts int             `json:"priced_products"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	RecentChanges  []PriceChange   `json:"recent_changes"`
}

// PriceChange compares a product's current price with the one before it.
type PriceChange struct {
	ProductCode   string           `json:"product_code"`
	Description   string           `json:"description"`
	EffectiveDate Date             `json:"effective_date"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	PreviousPrice *decimal.Decimal `json:"previous_price"`
	PercentChange *decimal.Decimal `json:"percent_change"`
}

// Summarize computes the dashboard from catalog rows; deleted products are skipped.
func Summarize(rows []ProductPrices) Summary {
	sum := Summary{AveragePrice: decimal.Zero, RecentChanges: []PriceChange{}}
	total := decimal.Zero
	var changes []PriceChange

	for _, row := range rows {
		if row.Deleted {
			continue
		}
		sum.TotalProducts++
		if len(row.Points) == 0 {
			continue
		}
		points := append([]PricePoint(nil), row.Points...)
		sortByDateDesc(points)

		current := points[0]
		sum.PricedProducts++
		total = total.Add(current.UnitPrice)

		change := PriceChange{
			ProductCode:   row.Code,
			Description:   row.Description,
			EffectiveDate: current.EffectiveDate,
			UnitPrice:     current.UnitPrice,
		}
		if len(points) > 1 {
			prev := points[1].UnitPrice
			change.PreviousPrice = &prev
			if !prev.IsZero() {
				pct := current.UnitPrice.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
				change.PercentChange = &pct
			}
		}
		changes = append(changes, change)
	}

	if sum.PricedProducts > 0 {
		sum.AveragePrice = total.Div(decimal.NewFromInt(int64(sum.PricedProducts))).Round(2)
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if !changes[i].EffectiveDate.Equal(changes[j].EffectiveDate.Time) {
			return changes[i].EffectiveDate.After(changes[j].EffectiveDate.Time)
		}
		return changes[i].ProductCode < changes[j].ProductCode
	})
	if len(changes) > recentChangesLimit {
		changes = changes[:recentChangesLimit]
	}
	if changes != nil {
		sum.RecentChanges = changes
	}
	return sum
}
