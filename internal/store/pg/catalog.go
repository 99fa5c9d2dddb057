package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"pricetrail.io/internal/catalog"
)

var _ catalog.Store = (*Store)(nil)

func productErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows), isPgCode(err, pgErrForeignKeyViolation):
		return catalog.ErrNotFound
	case isPgCode(err, pgErrUniqueViolation):
		return catalog.ErrConflict
	}
	return err
}

// Catalog reads every product and its price points in one joined query.
func (s *Store) Catalog(ctx context.Context) ([]catalog.ProductPrices, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.prodcode, p.description, p.unit, p.deleted, h.effdate, h.unitprice, h.seq
		from product p
		left join pricehist h on h.prodcode = p.prodcode
		order by p.prodcode, h.seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []catalog.ProductPrices{}
	for rows.Next() {
		var (
			p     catalog.Product
			date  catalog.Date
			price decimal.NullDecimal
			seq   sql.NullInt64
		)
		if err := rows.Scan(&p.Code, &p.Description, &p.Unit, &p.Deleted, &date, &price, &seq); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Code != p.Code {
			out = append(out, catalog.ProductPrices{Product: p})
		}
		if !price.Valid {
			continue
		}
		last := &out[len(out)-1]
		last.Points = append(last.Points, catalog.PricePoint{
			ProductCode:   p.Code,
			EffectiveDate: date,
			UnitPrice:     price.Decimal,
			Seq:           seq.Int64,
		})
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, code string) (catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx, `
		select prodcode, description, unit, deleted from product where prodcode = $1
	`, code).Scan(&p.Code, &p.Description, &p.Unit, &p.Deleted)
	if err != nil {
		return catalog.Product{}, productErr(err)
	}
	return p, nil
}

func (s *Store) InsertProduct(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	var out catalog.Product
	err := s.db.QueryRowContext(ctx, `
		insert into product (prodcode, description, unit, deleted)
		values ($1, $2, $3, false)
		returning prodcode, description, unit, deleted
	`, p.Code, p.Description, p.Unit).Scan(&out.Code, &out.Description, &out.Unit, &out.Deleted)
	if err != nil {
		return catalog.Product{}, productErr(err)
	}
	return out, nil
}

func (s *Store) UpdateProduct(ctx context.Context, code string, patch catalog.ProductPatch) (catalog.Product, error) {
	var out catalog.Product
	err := s.db.QueryRowContext(ctx, `
		update product set description = $2, unit = $3
		where prodcode = $1
		returning prodcode, description, unit, deleted
	`, code, patch.Description, patch.Unit).Scan(&out.Code, &out.Description, &out.Unit, &out.Deleted)
	if err != nil {
		return catalog.Product{}, productErr(err)
	}
	return out, nil
}

func (s *Store) SetDeleted(ctx context.Context, code string, deleted bool) (catalog.Product, error) {
	var out catalog.Product
	err := s.db.QueryRowContext(ctx, `
		update product set deleted = $2
		where prodcode = $1 and deleted <> $2
		returning prodcode, description, unit, deleted
	`, code, deleted).Scan(&out.Code, &out.Description, &out.Unit, &out.Deleted)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, err
	}
	// Either missing or already in the requested state.
	current, err := s.GetProduct(ctx, code)
	if err != nil {
		return catalog.Product{}, err
	}
	if current.Deleted {
		return catalog.Product{}, catalog.ErrDeleted
	}
	return catalog.Product{}, catalog.ErrNotDeleted
}

func (s *Store) PricePoints(ctx context.Context, code string) ([]catalog.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		select prodcode, effdate, unitprice, seq from pricehist where prodcode = $1 order by seq
	`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []catalog.PricePoint{}
	for rows.Next() {
		var p catalog.PricePoint
		if err := rows.Scan(&p.ProductCode, &p.EffectiveDate, &p.UnitPrice, &p.Seq); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertPricePoint(ctx context.Context, p catalog.PricePoint) (catalog.PricePoint, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into pricehist (prodcode, effdate, unitprice)
		values ($1, $2, $3)
		returning seq
	`, p.ProductCode, p.EffectiveDate, p.UnitPrice).Scan(&p.Seq)
	if err != nil {
		return catalog.PricePoint{}, productErr(err)
	}
	return p, nil
}

func (s *Store) UpdatePricePoint(ctx context.Context, code string, oldDate catalog.Date, p catalog.PricePoint) (catalog.PricePoint, error) {
	p.ProductCode = code
	err := s.db.QueryRowContext(ctx, `
		update pricehist set effdate = $3, unitprice = $4
		where prodcode = $1 and effdate = $2
		returning seq
	`, code, oldDate, p.EffectiveDate, p.UnitPrice).Scan(&p.Seq)
	if err != nil {
		return catalog.PricePoint{}, productErr(err)
	}
	return p, nil
}

func (s *Store) DeletePricePoint(ctx context.Context, code string, date catalog.Date) error {
	res, err := s.db.ExecContext(ctx, `delete from pricehist where prodcode = $1 and effdate = $2`, code, date)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return catalog.ErrNotFound
	}
	return nil
}
