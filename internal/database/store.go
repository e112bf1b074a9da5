package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"invitegate/entity"
	"invitegate/internal/config"
	"invitegate/lib/sl"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	maxAttempts  = 5
	firstBackoff = 20 * time.Millisecond
)

// Store is the relational link store. All credential invariants are
// enforced inside its transactions, so callers may use it concurrently.
type Store struct {
	db      *sql.DB
	d       dialect
	path    string
	log     *slog.Logger
	now     func() time.Time
	backoff time.Duration
	// values used for settings keys that were never saved
	defaults entity.Settings
}

// New opens the backend selected in conf and creates the schema
func New(conf config.Database, log *slog.Logger) (*Store, error) {
	switch conf.Driver {
	case driverMySQL:
		return NewMySQL(conf, log)
	case driverSQLite, "":
		return NewSQLite(conf.Path, log)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conf.Driver)
	}
}

// NewSQLite opens a WAL-mode database file. Transactions start with
// BEGIN IMMEDIATE so writers serialise at begin instead of at commit.
func NewSQLite(path string, log *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(8)
	return initStore(db, sqliteDialect, path, log)
}

func NewMySQL(conf config.Database, log *slog.Logger) (*Store, error) {
	connectionURI := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		conf.User, conf.Password, conf.Host, conf.Port, conf.Name)
	db, err := sql.Open(driverMySQL, connectionURI)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// wait for a database that is still starting
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(10 * time.Second)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)
	return initStore(db, mysqlDialect, "", log)
}

func initStore(db *sql.DB, d dialect, path string, log *slog.Logger) (*Store, error) {
	s := &Store{
		db:      db,
		d:       d,
		path:    path,
		log:     log.With(sl.Module("database")),
		now:     func() time.Time { return time.Now().UTC() },
		backoff: firstBackoff,

		defaults: entity.DefaultSettings(),
	}
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	s.log.With(slog.String("driver", d.name), slog.String("path", path)).Info("store initialized")
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the time source used for every timestamp the store writes
// or compares against
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Now() time.Time {
	return s.now()
}

// Driver returns the backend name, sqlite or mysql
func (s *Store) Driver() string {
	return s.d.name
}

// Path is the database file for sqlite, empty for mysql
func (s *Store) Path() string {
	return s.path
}

// withRetry runs fn until it succeeds, fails with a non-transient error or
// exhausts maxAttempts. Exhaustion is reported as ErrUnavailable.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := s.backoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !s.d.isTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		s.log.With(slog.Int("attempt", attempt)).Debug("transient store error", sl.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// inTx runs fn in one transaction with retries on lock contention.
// fn must not call the platform provider.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err = fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// exec runs a single statement with retries and returns rows affected
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	return n, err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
