// Package pg implements the account, permission, catalog and audit stores
// on PostgreSQL through database/sql and the pgx driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrInvalidText         = "22P02"
)

var errNoDB = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

// Option tunes the connection pool.
type Option func(*sql.DB)

// WithPool overrides the pool defaults; zero values keep them.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(db *sql.DB) {
		if maxOpen > 0 {
			db.SetMaxOpenConns(maxOpen)
		}
		if maxIdle > 0 {
			db.SetMaxIdleConns(maxIdle)
		}
		if maxLifetime > 0 {
			db.SetConnMaxLifetime(maxLifetime)
		}
	}
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	for _, opt := range opts {
		opt(db)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle; used by tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping is the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isPgCode(err error, code string) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == code
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
