// Package pg stores credentials and posts in PostgreSQL through pgx's
// database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"postwise.io/internal/social"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; sweeps are sequential so the pool stays small.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used by tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Credentials() *Credentials { return &Credentials{db: s.db} }

func (s *Store) Posts() *Posts { return &Posts{db: s.db} }

// statusPlaceholders renders "$n, $n+1, ..." for an IN list starting at
// position start and returns the matching arguments.
func statusPlaceholders(start int, statuses []social.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = fmt.Sprintf("$%d", start+i)
		args[i] = string(st)
	}
	return strings.Join(marks, ", "), args
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
