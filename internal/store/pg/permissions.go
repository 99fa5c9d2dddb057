package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pricetrail.io/internal/permissions"
)

var _ permissions.Store = (*Store)(nil)

const resolveAttempts = 3

const permissionColumns = `id, user_id, user_name, is_admin, edit_product, delete_product, add_product,
	edit_price_history, delete_price_history, add_price_history, created_at`

// resolveSQL finds, links or creates a permission record in one statement.
// The partial unique index on user_id turns a lost race into an empty
// result (insert) or a unique violation (link); both are retried.
const resolveSQL = `
with by_id as (
	select ` + permissionColumns + `, 'found'::text as outcome
	from user_permissions
	where user_id = $1
),
candidate as (
	select id
	from user_permissions
	where user_id is null and user_name = $2
	  and not exists (select 1 from by_id)
	order by created_at, id
	limit 1
	for update skip locked
),
linked as (
	update user_permissions u
	set user_id = $1
	from candidate c
	where u.id = c.id and u.user_id is null
	returning u.id, u.user_id, u.user_name, u.is_admin, u.edit_product, u.delete_product, u.add_product,
		u.edit_price_history, u.delete_price_history, u.add_price_history, u.created_at, 'linked'::text as outcome
),
created as (
	insert into user_permissions (id, user_id, user_name)
	select $3, $1, $2
	where not exists (select 1 from by_id)
	  and not exists (select 1 from linked)
	on conflict (user_id) where user_id is not null do nothing
	returning ` + permissionColumns + `, 'created'::text as outcome
)
select * from by_id
union all select * from linked
union all select * from created
limit 1`

type rowScanner interface{ Scan(...any) error }

func scanPermission(row rowScanner, extra ...any) (permissions.Record, error) {
	var (
		rec    permissions.Record
		userID sql.NullString
	)
	dest := []any{
		&rec.ID, &userID, &rec.UserName, &rec.IsAdmin, &rec.EditProduct, &rec.DeleteProduct, &rec.AddProduct,
		&rec.EditPriceHistory, &rec.DeletePriceHistory, &rec.AddPriceHistory, &rec.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return permissions.Record{}, err
	}
	rec.UserID = userID.String
	return rec, nil
}

func (s *Store) Resolve(ctx context.Context, userID, userName, newID string) (permissions.Record, permissions.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		var outcome string
		rec, err := scanPermission(s.db.QueryRowContext(ctx, resolveSQL, userID, userName, newID), &outcome)
		switch {
		case err == nil:
			return rec, permissions.Outcome(outcome), nil
		case errors.Is(err, sql.ErrNoRows), isPgCode(err, pgErrUniqueViolation):
			lastErr = err
			continue
		default:
			return permissions.Record{}, "", err
		}
	}
	return permissions.Record{}, "", fmt.Errorf("resolve permissions for %s: %w", userID, lastErr)
}

func (s *Store) List(ctx context.Context) ([]permissions.Record, error) {
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from user_permissions order by user_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []permissions.Record{}
	for rows.Next() {
		rec, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (permissions.Record, error) {
	rec, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from user_permissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return permissions.Record{}, permissions.ErrNotFound
	}
	return rec, err
}

func (s *Store) UserNameTaken(ctx context.Context, userName string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from user_permissions where user_name = $1)`, userName).Scan(&taken)
	return taken, err
}

func (s *Store) Create(ctx context.Context, rec permissions.Record) (permissions.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into user_permissions (id, user_id, user_name, is_admin, edit_product, delete_product, add_product,
			edit_price_history, delete_price_history, add_price_history, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning `+permissionColumns,
		rec.ID, nullIfEmpty(rec.UserID), rec.UserName, rec.IsAdmin, rec.EditProduct, rec.DeleteProduct, rec.AddProduct,
		rec.EditPriceHistory, rec.DeletePriceHistory, rec.AddPriceHistory, rec.CreatedAt)
	created, err := scanPermission(row)
	if isPgCode(err, pgErrUniqueViolation) {
		return permissions.Record{}, permissions.ErrConflict
	}
	return created, err
}

func (s *Store) UpdateFlags(ctx context.Context, id string, f permissions.Flags) (permissions.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		update user_permissions
		set is_admin = $2, edit_product = $3, delete_product = $4, add_product = $5,
			edit_price_history = $6, delete_price_history = $7, add_price_history = $8
		where id = $1
		returning `+permissionColumns,
		id, f.IsAdmin, f.EditProduct, f.DeleteProduct, f.AddProduct, f.EditPriceHistory, f.DeletePriceHistory, f.AddPriceHistory)
	rec, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return permissions.Record{}, permissions.ErrNotFound
	}
	return rec, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from user_permissions where id = $1`, id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return permissions.ErrNotFound
	}
	return nil
}
