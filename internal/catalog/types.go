package catalog

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("catalog: not found")
	ErrInvalidInput = errors.New("catalog: invalid input")
	ErrConflict     = errors.New("catalog: conflict")
	ErrNotDeleted   = errors.New("catalog: product is not deleted")
	ErrDeleted      = errors.New("catalog: product is deleted")
)

// DateLayout is the wire and storage form of effective dates.
const DateLayout = "2006-01-02"

// Date is a calendar date at UTC midnight.
type Date struct {
	time.Time
}

// ParseDate parses a yyyy-mm-dd calendar date.
func ParseDate(raw string) (Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Date{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date must be formatted as yyyy-mm-dd", ErrInvalidInput)
	}
	return Date{Time: t}, nil
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.UTC().Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for date columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case nil:
		*d = Date{}
		return nil
	default:
		return fmt.Errorf("catalog: cannot scan %T into Date", src)
	}
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

// Product is a catalog entry. Code never changes once created.
type Product struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
	Deleted     bool   `json:"deleted"`
}

// PricePoint is one dated unit price. Seq is the insertion order.
type PricePoint struct {
	ProductCode   string          `json:"product_code"`
	EffectiveDate Date            `json:"effective_date"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Seq           int64           `json:"-"`
}

// ProductPrices is a product with all of its price points.
type ProductPrices struct {
	Product
	Points []PricePoint
}

// Listing is a product with its derived current price.
type Listing struct {
	Product
	CurrentPrice *PricePoint `json:"current_price"`
	DisplayPrice string      `json:"display_price"`
	PriceCount   int         `json:"price_count"`
}

// NewProduct is the add-product input.
type NewProduct struct {
	Code        string
	Description string
	Unit        string
}

// ProductPatch is the edit-product input; only description and unit change.
type ProductPatch struct {
	Description string
	Unit        string
}

// PriceInput is the add/edit price input.
type PriceInput struct {
	UnitPrice     decimal.Decimal
	EffectiveDate string
}

// Store is the remote tabular store behind the catalog.
type Store interface {
	// Catalog returns every product joined with its price points in one
	// read, points ordered by insertion.
	Catalog(ctx context.Context) ([]ProductPrices, error)
	GetProduct(ctx context.Context, code string) (Product, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, code string, patch ProductPatch) (Product, error)
	// SetDeleted flips the soft-delete flag only when it currently differs;
	// otherwise it returns ErrDeleted or ErrNotDeleted.
	SetDeleted(ctx context.Context, code string, deleted bool) (Product, error)

	PricePoints(ctx context.Context, code string) ([]PricePoint, error)
	InsertPricePoint(ctx context.Context, p PricePoint) (PricePoint, error)
	UpdatePricePoint(ctx context.Context, code string, oldDate Date, p PricePoint) (PricePoint, error)
	DeletePricePoint(ctx context.Context, code string, date Date) error
}
