package pg

import (
	"context"

	"pricetrail.io/internal/audit"
)

var _ audit.Store = auditLog{}

// Audit returns the product_audit view of the store.
func (s *Store) Audit() audit.Store {
	return auditLog{db: s}
}

type auditLog struct{ db *Store }

func (a auditLog) Append(ctx context.Context, rec audit.Record) error {
	_, err := a.db.db.ExecContext(ctx, `
		insert into product_audit (id, product_code, product_name, action, performed_by, "timestamp")
		values ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.ProductCode, rec.ProductName, string(rec.Action), rec.PerformedBy, rec.Timestamp)
	return err
}

func (a auditLog) List(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	rows, err := a.db.db.QueryContext(ctx, `
		select id, product_code, product_name, action, performed_by, "timestamp"
		from product_audit
		where ($1 = '' or lower(performed_by) = lower($1))
		  and ($2 = '' or action = $2)
		order by "timestamp" desc, id desc
	`, filter.PerformedBy, string(filter.Action))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Record{}
	for rows.Next() {
		var (
			rec    audit.Record
			action string
		)
		if err := rows.Scan(&rec.ID, &rec.ProductCode, &rec.ProductName, &action, &rec.PerformedBy, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Action = audit.Action(action)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a auditLog) Performers(ctx context.Context) ([]string, error) {
	rows, err := a.db.db.QueryContext(ctx, `select distinct performed_by from product_audit order by performed_by`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
