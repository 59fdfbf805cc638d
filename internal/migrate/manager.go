// Package migrate applies the embedded PostgreSQL schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"postwise.io/internal/obs"
)

const defaultMigrationsTable = "schema_migrations"

//go:embed sql/*.sql
var migrationFS embed.FS

// Manager executes the embedded SQL migrations.
type Manager struct {
	db              *sql.DB
	migrationsTable string
	log             *logrus.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrationsTable: defaultMigrationsTable,
		log:             obs.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Source exposes the embedded migrations as a golang-migrate source.
func Source() (source.Driver, error) {
	return iofs.New(migrationFS, "sql")
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mg *gomigrate.Migrate) error { return mg.Up() })
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mg *gomigrate.Migrate) error { return mg.Steps(-1) })
}

// Status reports the applied version. Version 0 means nothing was applied.
func (m *Manager) Status(ctx context.Context) (version uint, dirty bool, err error) {
	err = m.run(ctx, "status", func(mg *gomigrate.Migrate) error {
		var verr error
		version, dirty, verr = mg.Version()
		if errors.Is(verr, gomigrate.ErrNilVersion) {
			return nil
		}
		return verr
	})
	return version, dirty, err
}

func (m *Manager) run(ctx context.Context, op string, fn func(*gomigrate.Migrate) error) error {
	src, err := Source()
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	driver, err := pgx.WithInstance(m.db, &pgx.Config{MigrationsTable: m.migrationsTable})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	mg, err := gomigrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	mg.Log = migrateLogger{m.log}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mg.GracefulStop <- true
		case <-done:
		}
	}()

	err = fn(mg)
	if errors.Is(err, gomigrate.ErrNoChange) {
		m.log.WithField("op", op).Info("migrations_no_change")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	m.log.WithField("op", op).Info("migrations_complete")
	return nil
}

type migrateLogger struct {
	l *logrus.Logger
}

func (ml migrateLogger) Printf(format string, v ...any) {
	ml.l.Infof(format, v...)
}

func (ml migrateLogger) Verbose() bool {
	return ml.l.IsLevelEnabled(logrus.DebugLevel)
}
