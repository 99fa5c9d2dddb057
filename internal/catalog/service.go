package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/permissions"
	"pricetrail.io/internal/stream"
)

const (
	maxCodeLength        = 32
	maxDescriptionLength = 200
	maxUnitLength        = 32
)

var (
	codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	maxPrice    = decimal.New(1, 10)
)

// Gate is the server-side capability check.
type Gate interface {
	Require(ctx context.Context, identity auth.Identity, capability permissions.Capability) error
}

// Recorder receives product lifecycle audit entries.
type Recorder interface {
	Record(ctx context.Context, productCode, productName string, action audit.Action, performedBy string)
}

// Service is the product and price-history repository. Every mutation is
// gated by the caller's capabilities; product mutations are audited.
type Service struct {
	store     Store
	gate      Gate
	recorder  Recorder
	publisher stream.Publisher
	view      *View
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithView serves reads from v and invalidates it on writes.
func WithView(v *View) Option {
	return func(s *Service) { s.view = v }
}

// WithPublisher announces committed writes.
func WithPublisher(p stream.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.Named("catalog")
		}
	}
}

// WithClock overrides the time source used for history ranges.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the repository.
func NewService(store Store, gate Gate, recorder Recorder, opts ...Option) *Service {
	s := &Service{
		store:     store,
		gate:      gate,
		recorder:  recorder,
		publisher: stream.Discard{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListFilter narrows List.
type ListFilter struct {
	Query          string
	IncludeDeleted bool
	OnlyDeleted    bool
}

// List returns products with their current price, ordered by code.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Listing, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(rows))
	for _, row := range rows {
		switch {
		case filter.OnlyDeleted && !row.Deleted:
			continue
		case row.Deleted && !filter.IncludeDeleted && !filter.OnlyDeleted:
			continue
		}
		if !Matches(row.Product, filter.Query) {
			continue
		}
		out = append(out, ListingOf(row))
	}
	return out, nil
}

// Get returns one product with its current price. Deleted products are returned too.
func (s *Service) Get(ctx context.Context, code string) (Listing, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return Listing{}, err
	}
	product, err := s.store.GetProduct(ctx, code)
	if err != nil {
		return Listing{}, err
	}
	points, err := s.store.PricePoints(ctx, code)
	if err != nil {
		return Listing{}, err
	}
	return ListingOf(ProductPrices{Product: product, Points: points}), nil
}

// Summary computes the dashboard overview.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rows), nil
}

// Add creates a product.
func (s *Service) Add(ctx context.Context, who auth.Identity, in NewProduct) (Product, error) {
	code, err := normalizeCode(in.Code)
	if err != nil {
		return Product{}, err
	}
	desc, unit, err := normalizeDetails(in.Description, in.Unit)
	if err != nil {
		return Product{}, err
	}
	if err := s.gate.Require(ctx, who, permissions.AddProduct); err != nil {
		return Product{}, err
	}
	product, err := s.store.InsertProduct(ctx, Product{Code: code, Description: desc, Unit: unit})
	if err != nil {
		return Product{}, err
	}
	s.committed(stream.TopicProduct, stream.OpInsert, product.Code)
	s.recorder.Record(ctx, product.Code, product.Description, audit.ActionAdded, who.Actor())
	return product, nil
}

// Edit changes description and unit. Concurrent edits: last write wins.
func (s *Service) Edit(ctx context.Context, who auth.Identity, code string, patch ProductPatch) (Product, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return Product{}, err
	}
	desc, unit, err := normalizeDetails(patch.Description, patch.Unit)
	if err != nil {
		return Product{}, err
	}
	if err := s.gate.Require(ctx, who, permissions.EditProduct); err != nil {
		return Product{}, err
	}
	product, err := s.store.UpdateProduct(ctx, code, ProductPatch{Description: desc, Unit: unit})
	if err != nil {
		return Product{}, err
	}
	s.committed(stream.TopicProduct, stream.OpUpdate, product.Code)
	s.recorder.Record(ctx, product.Code, product.Description, audit.ActionEdited, who.Actor())
	return product, nil
}

// SoftDelete flags the product deleted; it stays fetchable.
func (s *Service) SoftDelete(ctx context.Context, who auth.Identity, code string) (Product, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return Product{}, err
	}
	if err := s.gate.Require(ctx, who, permissions.DeleteProduct); err != nil {
		return Product{}, err
	}
	product, err := s.store.SetDeleted(ctx, code, true)
	if err != nil {
		return Product{}, err
	}
	s.committed(stream.TopicProduct, stream.OpUpdate, product.Code)
	s.recorder.Record(ctx, product.Code, product.Description, audit.ActionDeleted, who.Actor())
	return product, nil
}

// Recover clears the deleted flag. Admin only; an active product is
// rejected with ErrNotDeleted and nothing is audited.
func (s *Service) Recover(ctx context.Context, who auth.Identity, code string) (Product, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return Product{}, err
	}
	if err := s.gate.Require(ctx, who, permissions.IsAdmin); err != nil {
		return Product{}, err
	}
	product, err := s.store.SetDeleted(ctx, code, false)
	if err != nil {
		return Product{}, err
	}
	s.committed(stream.TopicProduct, stream.OpUpdate, product.Code)
	s.recorder.Record(ctx, product.Code, product.Description, audit.ActionRecovered, who.Actor())
	return product, nil
}

// History returns a product's price points newest first, limited to r.
func (s *Service) History(ctx context.Context, code string, r Range) ([]PricePoint, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetProduct(ctx, code); err != nil {
		return nil, err
	}
	points, err := s.store.PricePoints(ctx, code)
	if err != nil {
		return nil, err
	}
	sortByDateDesc(points)
	since, limited := r.Since(s.now())
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		if limited && p.EffectiveDate.Before(since.Time) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// AddPrice appends a price point. A duplicate date surfaces as ErrConflict.
func (s *Service) AddPrice(ctx context.Context, who auth.Identity, code string, in PriceInput) (PricePoint, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return PricePoint{}, err
	}
	price, date, err := validatePrice(in)
	if err != nil {
		return PricePoint{}, err
	}
	if err := s.gate.Require(ctx, who, permissions.AddPriceHistory); err != nil {
		return PricePoint{}, err
	}
	point, err := s.store.InsertPricePoint(ctx, PricePoint{ProductCode: code, EffectiveDate: date, UnitPrice: price})
	if err != nil {
		return PricePoint{}, err
	}
	s.committed(stream.TopicPriceHist, stream.OpInsert, code)
	return point, nil
}

// EditPrice rewrites the point at oldDate with a new price and date.
func (s *Service) EditPrice(ctx context.Context, who auth.Identity, code, oldDate string, in PriceInput) (PricePoint, error) {
	code, err := normalizeCode(code)
	if err != nil {
		return PricePoint{}, err
	}
	old, err := ParseDate(oldDate)
	if err != nil {
		return PricePoint{}, err
	}
	price, date, err := validatePrice(in)
	if err != nil {
		return PricePoint{}, err
	}
	if err := s.gate.Require(ctx, who, permissions.EditPriceHistory); err != nil {
		return PricePoint{}, err
	}
	point, err := s.store.UpdatePricePoint(ctx, code, old, PricePoint{ProductCode: code, EffectiveDate: date, UnitPrice: price})
	if err != nil {
		return PricePoint{}, err
	}
	s.committed(stream.TopicPriceHist, stream.OpUpdate, code)
	return point, nil
}

// DeletePrice removes the point at date.
func (s *Service) DeletePrice(ctx context.Context, who auth.Identity, code, date string) error {
	code, err := normalizeCode(code)
	if err != nil {
		return err
	}
	d, err := ParseDate(date)
	if err != nil {
		return err
	}
	if err := s.gate.Require(ctx, who, permissions.DeletePriceHistory); err != nil {
		return err
	}
	if err := s.store.DeletePricePoint(ctx, code, d); err != nil {
		return err
	}
	s.committed(stream.TopicPriceHist, stream.OpDelete, code)
	return nil
}

func (s *Service) rows(ctx context.Context) ([]ProductPrices, error) {
	if s.view != nil {
		return s.view.Rows(ctx)
	}
	return s.store.Catalog(ctx)
}

func (s *Service) committed(topic stream.Topic, op, key string) {
	if s.view != nil {
		s.view.Invalidate()
	}
	s.logger.Debug("catalog write",
		zap.String("topic", string(topic)),
		zap.String("op", op),
		zap.String("key", key))
	s.publisher.Publish(stream.Event{Topic: topic, Op: op, Key: key, At: s.now().UTC()})
}

func normalizeCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", fmt.Errorf("%w: product code is required", ErrInvalidInput)
	}
	if len(code) > maxCodeLength || !codePattern.MatchString(code) {
		return "", fmt.Errorf("%w: product code %q is malformed", ErrInvalidInput, raw)
	}
	return code, nil
}

func normalizeDetails(description, unit string) (string, string, error) {
	description = strings.TrimSpace(description)
	unit = strings.TrimSpace(unit)
	switch {
	case description == "":
		return "", "", fmt.Errorf("%w: description is required", ErrInvalidInput)
	case unit == "":
		return "", "", fmt.Errorf("%w: unit is required", ErrInvalidInput)
	case len(description) > maxDescriptionLength:
		return "", "", fmt.Errorf("%w: description is too long", ErrInvalidInput)
	case len(unit) > maxUnitLength:
		return "", "", fmt.Errorf("%w: unit is too long", ErrInvalidInput)
	}
	return description, unit, nil
}

func validatePrice(in PriceInput) (decimal.Decimal, Date, error) {
	if !in.UnitPrice.IsPositive() {
		return decimal.Decimal{}, Date{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	if !in.UnitPrice.Equal(in.UnitPrice.Round(2)) {
		return decimal.Decimal{}, Date{}, fmt.Errorf("%w: price has more than two decimal places", ErrInvalidInput)
	}
	if in.UnitPrice.GreaterThanOrEqual(maxPrice) {
		return decimal.Decimal{}, Date{}, fmt.Errorf("%w: price is too large", ErrInvalidInput)
	}
	date, err := ParseDate(in.EffectiveDate)
	if err != nil {
		return decimal.Decimal{}, Date{}, err
	}
	return in.UnitPrice, date, nil
}
