package catalog

import (
	"sort"
	"strings"
)

const notAvailable = "N/A"

// CurrentPrice returns the point with the latest effective date, or nil
// when there are none. Equal dates resolve to the last inserted point:
// highest Seq, then later position in points.
func CurrentPrice(points []PricePoint) *PricePoint {
	var best *PricePoint
	for i := range points {
		p := &points[i]
		if best == nil {
			best = p
			continue
		}
		switch {
		case p.EffectiveDate.After(best.EffectiveDate.Time):
			best = p
		case p.EffectiveDate.Equal(best.EffectiveDate.Time) && p.Seq >= best.Seq:
			best = p
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// DisplayPrice renders a current price for people; "N/A" when absent.
func DisplayPrice(p *PricePoint) string {
	if p == nil {
		return notAvailable
	}
	return "$" + p.UnitPrice.StringFixed(2)
}

// ListingOf derives the listing for one product.
func ListingOf(pp ProductPrices) Listing {
	current := CurrentPrice(pp.Points)
	return Listing{
		Product:      pp.Product,
		CurrentPrice: current,
		DisplayPrice: DisplayPrice(current),
		PriceCount:   len(pp.Points),
	}
}

// Matches reports whether p contains query, case-insensitively, in its
// code, description or unit. An empty query matches everything.
func Matches(p Product, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Code), q) ||
		strings.Contains(strings.ToLower(p.Description), q) ||
		strings.Contains(strings.ToLower(p.Unit), q)
}

// sortByDateDesc orders points newest first, later insertions first on ties.
func sortByDateDesc(points []PricePoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if !points[i].EffectiveDate.Equal(points[j].EffectiveDate.Time) {
			return points[i].EffectiveDate.After(points[j].EffectiveDate.Time)
		}
		return points[i].Seq > points[j].Seq
	})
}
