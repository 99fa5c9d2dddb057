package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(t *testing.T, date, price string, seq int64) PricePoint {
	t.Helper()
	d, err := ParseDate(date)
	require.NoError(t, err)
	return PricePoint{
		ProductCode:   "P100",
		EffectiveDate: d,
		UnitPrice:     decimal.RequireFromString(price),
		Seq:           seq,
	}
}

func TestCurrentPriceLatestDate(t *testing.T) {
	points := []PricePoint{
		point(t, "2024-01-01", "10.00", 1),
		point(t, "2024-03-01", "19.99", 2),
		point(t, "2024-02-01", "15.00", 3),
	}
	cur := CurrentPrice(points)
	require.NotNil(t, cur)
	assert.Equal(t, "2024-03-01", cur.EffectiveDate.String())
	assert.Equal(t, "$19.99", DisplayPrice(cur))
}

func TestCurrentPriceTieGoesToLastInserted(t *testing.T) {
	points := []PricePoint{
		point(t, "2024-03-01", "5.00", 7),
		point(t, "2024-03-01", "6.00", 3),
	}
	cur := CurrentPrice(points)
	require.NotNil(t, cur)
	assert.True(t, cur.UnitPrice.Equal(decimal.RequireFromString("5.00")))

	// Without sequence numbers the later position wins.
	unsequenced := []PricePoint{
		point(t, "2024-03-01", "5.00", 0),
		point(t, "2024-03-01", "6.00", 0),
	}
	assert.Equal(t, "$6.00", DisplayPrice(CurrentPrice(unsequenced)))
}

func TestCurrentPriceNone(t *testing.T) {
	assert.Nil(t, CurrentPrice(nil))
	assert.Equal(t, "N/A", DisplayPrice(nil))

	l := ListingOf(ProductPrices{Product: Product{Code: "P1"}})
	assert.Nil(t, l.CurrentPrice)
	assert.Equal(t, "N/A", l.DisplayPrice)
	assert.Zero(t, l.PriceCount)
}

func TestCurrentPriceDoesNotAliasInput(t *testing.T) {
	points := []PricePoint{point(t, "2024-03-01", "19.99", 1)}
	cur := CurrentPrice(points)
	cur.UnitPrice = decimal.NewFromInt(1)
	assert.Equal(t, "19.99", points[0].UnitPrice.StringFixed(2))
}

func TestMatches(t *testing.T) {
	p := Product{Code: "P100", Description: "Steel Bolt", Unit: "Box"}
	cases := map[string]bool{
		"":       true,
		"  ":     true,
		"p10":    true,
		"steel":  true,
		"BOLT":   true,
		"box":    true,
		"washer": false,
	}
	for query, want := range cases {
		assert.Equal(t, want, Matches(p, query), "query %q", query)
	}
}

func TestDateRoundTrip(t *testing.T) {
	var d Date
	require.NoError(t, d.UnmarshalJSON([]byte(`"2024-03-01"`)))
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-01"`, string(b))

	_, err = ParseDate("03/01/2024")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = ParseDate("")
	assert.ErrorIs(t, err, ErrInvalidInput)

	var scanned Date
	require.NoError(t, scanned.Scan([]byte("2024-02-29")))
	assert.Equal(t, "2024-02-29", scanned.String())
	v, err := scanned.Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", v)
}
