// Package memory is an in-process implementation of every store interface,
// used for local development without Postgres and in handler tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pricetrail.io/internal/audit"
	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/catalog"
	"pricetrail.io/internal/permissions"
)

type Store struct {
	mu sync.Mutex

	accounts map[string]auth.Account
	emails   map[string]string
	sessions map[string]auth.Session

	perms map[string]permissions.Record

	products map[string]catalog.Product
	prices   map[string][]catalog.PricePoint
	seq      int64

	audit []audit.Record
}

var (
	_ auth.Store        = (*Store)(nil)
	_ permissions.Store = (*Store)(nil)
	_ catalog.Store     = (*Store)(nil)
	_ audit.Store       = auditLog{}
)

func New() *Store {
	return &Store{
		accounts: make(map[string]auth.Account),
		emails:   make(map[string]string),
		sessions: make(map[string]auth.Session),
		perms:    make(map[string]permissions.Record),
		products: make(map[string]catalog.Product),
		prices:   make(map[string][]catalog.PricePoint),
	}
}

// --- accounts & sessions ---

func (s *Store) CreateAccount(_ context.Context, a auth.Account) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[a.Email]; ok {
		return auth.Account{}, auth.ErrConflict
	}
	s.accounts[a.ID] = a
	s.emails[a.Email] = a.ID
	return a, nil
}

func (s *Store) AccountByID(_ context.Context, id string) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return a, nil
}

func (s *Store) AccountByEmail(_ context.Context, email string) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[email]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) UpdateAccount(_ context.Context, a auth.Account) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	if a.Email != cur.Email {
		if _, taken := s.emails[a.Email]; taken {
			return auth.Account{}, auth.ErrConflict
		}
		delete(s.emails, cur.Email)
		s.emails[a.Email] = a.ID
	}
	cur.Email = a.Email
	cur.DisplayName = a.DisplayName
	cur.UpdatedAt = a.UpdatedAt
	s.accounts[a.ID] = cur
	return cur, nil
}

func (s *Store) CreateSession(_ context.Context, session auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[session.AccountID]; !ok {
		return auth.ErrNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) SessionByID(_ context.Context, id string) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	return session, nil
}

func (s *Store) RevokeSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &at
		s.sessions[id] = session
	}
	return nil
}

// --- permissions ---

func (s *Store) Resolve(_ context.Context, userID, userName, newID string) (permissions.Record, permissions.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unlinked *permissions.Record
	for _, rec := range s.perms {
		if rec.UserID == userID {
			return rec, permissions.OutcomeFound, nil
		}
		if rec.UserID == "" && rec.UserName == userName {
			if unlinked == nil || olderRecord(rec, *unlinked) {
				r := rec
				unlinked = &r
			}
		}
	}
	if unlinked != nil {
		unlinked.UserID = userID
		s.perms[unlinked.ID] = *unlinked
		return *unlinked, permissions.OutcomeLinked, nil
	}
	rec := permissions.Record{
		ID:        newID,
		UserID:    userID,
		UserName:  userName,
		CreatedAt: time.Now().UTC(),
	}
	s.perms[rec.ID] = rec
	return rec, permissions.OutcomeCreated, nil
}

func olderRecord(a, b permissions.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) List(_ context.Context) ([]permissions.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]permissions.Record, 0, len(s.perms))
	for _, rec := range s.perms {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Get(_ context.Context, id string) (permissions.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.perms[id]
	if !ok {
		return permissions.Record{}, permissions.ErrNotFound
	}
	return rec, nil
}

func (s *Store) UserNameTaken(_ context.Context, userName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.perms {
		if rec.UserName == userName {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Create(_ context.Context, rec permissions.Record) (permissions.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[rec.ID]; ok {
		return permissions.Record{}, permissions.ErrConflict
	}
	s.perms[rec.ID] = rec
	return rec, nil
}

func (s *Store) UpdateFlags(_ context.Context, id string, flags permissions.Flags) (permissions.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.perms[id]
	if !ok {
		return permissions.Record{}, permissions.ErrNotFound
	}
	rec.Flags = flags
	s.perms[id] = rec
	return rec, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return permissions.ErrNotFound
	}
	delete(s.perms, id)
	return nil
}

// --- catalog ---

func (s *Store) Catalog(_ context.Context) ([]catalog.ProductPrices, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.ProductPrices, 0, len(s.products))
	for code, p := range s.products {
		out = append(out, catalog.ProductPrices{
			Product: p,
			Points:  append([]catalog.PricePoint(nil), s.prices[code]...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, code string) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[code]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (s *Store) InsertProduct(_ context.Context, p catalog.Product) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.Code]; ok {
		return catalog.Product{}, catalog.ErrConflict
	}
	s.products[p.Code] = p
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, code string, patch catalog.ProductPatch) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[code]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	p.Description = patch.Description
	p.Unit = patch.Unit
	s.products[code] = p
	return p, nil
}

func (s *Store) SetDeleted(_ context.Context, code string, deleted bool) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[code]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if p.Deleted == deleted {
		if deleted {
			return catalog.Product{}, catalog.ErrDeleted
		}
		return catalog.Product{}, catalog.ErrNotDeleted
	}
	p.Deleted = deleted
	s.products[code] = p
	return p, nil
}

func (s *Store) PricePoints(_ context.Context, code string) ([]catalog.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.PricePoint(nil), s.prices[code]...), nil
}

func (s *Store) InsertPricePoint(_ context.Context, p catalog.PricePoint) (catalog.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ProductCode]; !ok {
		return catalog.PricePoint{}, catalog.ErrNotFound
	}
	if indexOfDate(s.prices[p.ProductCode], p.EffectiveDate) >= 0 {
		return catalog.PricePoint{}, catalog.ErrConflict
	}
	s.seq++
	p.Seq = s.seq
	s.prices[p.ProductCode] = append(s.prices[p.ProductCode], p)
	return p, nil
}

func (s *Store) UpdatePricePoint(_ context.Context, code string, oldDate catalog.Date, p catalog.PricePoint) (catalog.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.prices[code]
	i := indexOfDate(points, oldDate)
	if i < 0 {
		return catalog.PricePoint{}, catalog.ErrNotFound
	}
	if !p.EffectiveDate.Equal(oldDate.Time) && indexOfDate(points, p.EffectiveDate) >= 0 {
		return catalog.PricePoint{}, catalog.ErrConflict
	}
	p.ProductCode = code
	p.Seq = points[i].Seq
	points[i] = p
	return p, nil
}

func (s *Store) DeletePricePoint(_ context.Context, code string, date catalog.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.prices[code]
	i := indexOfDate(points, date)
	if i < 0 {
		return catalog.ErrNotFound
	}
	s.prices[code] = append(points[:i:i], points[i+1:]...)
	return nil
}

func indexOfDate(points []catalog.PricePoint, d catalog.Date) int {
	for i, p := range points {
		if p.EffectiveDate.Equal(d.Time) {
			return i
		}
	}
	return -1
}

// --- audit ---

// Audit returns the product_audit view of the store. It is separate from
// Store because permissions.Store already claims List.
func (s *Store) Audit() audit.Store {
	return auditLog{s}
}

type auditLog struct{ s *Store }

func (a auditLog) Append(_ context.Context, rec audit.Record) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, rec)
	return nil
}

func (a auditLog) List(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]audit.Record, 0, len(a.s.audit))
	for _, rec := range a.s.audit {
		if filter.PerformedBy != "" && !strings.EqualFold(rec.PerformedBy, filter.PerformedBy) {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (a auditLog) Performers(_ context.Context) ([]string, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	seen := make(map[string]struct{})
	out := []string{}
	for _, rec := range a.s.audit {
		if _, ok := seen[rec.PerformedBy]; ok {
			continue
		}
		seen[rec.PerformedBy] = struct{}{}
		out = append(out, rec.PerformedBy)
	}
	sort.Strings(out)
	return out, nil
}
