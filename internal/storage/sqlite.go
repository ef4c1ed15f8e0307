package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tazhate/hound/internal/apperr"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

const busyTimeoutMs = 5000

// ErrStale is returned when a guarded write finds the row changed since it was
// read.
var ErrStale = errors.New("row was modified concurrently")

type Storage struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath with the given driver ("sqlite3" for
// mattn/go-sqlite3, "sqlite" for modernc.org/sqlite) and migrates it.
func New(driver, dbPath string) (*Storage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn, err := dataSource(driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory opens an in-memory database, used by tests and dry runs.
func NewMemory(driver string) (*Storage, error) {
	return New(driver, ":memory:")
}

func dataSource(driver, dbPath string) (string, error) {
	switch driver {
	case DriverMattn:
		qs := url.Values{
			"_foreign_keys": []string{"on"},
			"_busy_timeout": []string{fmt.Sprint(busyTimeoutMs)},
			"_txlock":       []string{"immediate"},
		}
		if dbPath != ":memory:" {
			qs.Set("_journal_mode", "WAL")
		}
		return "file:" + dbPath + "?" + qs.Encode(), nil
	case DriverModernc:
		pragmas := []string{
			"foreign_keys(1)",
			fmt.Sprintf("busy_timeout(%d)", busyTimeoutMs),
		}
		if dbPath != ":memory:" {
			pragmas = append(pragmas, "journal_mode(WAL)")
		}
		qs := url.Values{
			"_txlock":  []string{"immediate"},
			"_pragma": pragmas,
		}
		return "file:" + dbPath + "?" + qs.Encode(), nil
	default:
		return "", fmt.Errorf("unknown database driver %q", driver)
	}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Database("ping db", err)
	}
	return nil
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS families (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			is_paused INTEGER NOT NULL DEFAULT 0,
			last_pause INTEGER,
			last_unpause INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			family_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			notification_token TEXT NOT NULL DEFAULT '',
			notifications_enabled INTEGER NOT NULL DEFAULT 1,
			last_synchronization INTEGER,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (family_id) REFERENCES families(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_family_id ON users(family_id)`,
		`CREATE TABLE IF NOT EXISTS dogs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			family_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			last_modified INTEGER NOT NULL,
			FOREIGN KEY (family_id) REFERENCES families(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dogs_family_id ON dogs(family_id)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dog_id INTEGER NOT NULL,
			family_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			custom_action_name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			execution_basis INTEGER NOT NULL,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			last_modified INTEGER NOT NULL,
			one_time_date INTEGER NOT NULL DEFAULT 0,
			countdown_execution_interval INTEGER NOT NULL DEFAULT 0,
			countdown_interval_elapsed INTEGER NOT NULL DEFAULT 0,
			weekly_hour INTEGER NOT NULL DEFAULT 0,
			weekly_minute INTEGER NOT NULL DEFAULT 0,
			weekly_weekdays INTEGER NOT NULL DEFAULT 0,
			weekly_is_skipping INTEGER NOT NULL DEFAULT 0,
			weekly_is_skipping_date INTEGER NOT NULL DEFAULT 0,
			monthly_day INTEGER NOT NULL DEFAULT 1,
			monthly_hour INTEGER NOT NULL DEFAULT 0,
			monthly_minute INTEGER NOT NULL DEFAULT 0,
			monthly_is_skipping INTEGER NOT NULL DEFAULT 0,
			monthly_is_skipping_date INTEGER NOT NULL DEFAULT 0,
			snooze_is_enabled INTEGER NOT NULL DEFAULT 0,
			snooze_execution_interval INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (dog_id) REFERENCES dogs(id),
			FOREIGN KEY (family_id) REFERENCES families(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_family_id ON reminders(family_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_last_modified ON reminders(last_modified)`,
		// Snooze progress survives pause/unpause
		`ALTER TABLE reminders ADD COLUMN snooze_interval_elapsed INTEGER NOT NULL DEFAULT 0`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dog_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			reminder_id INTEGER,
			action TEXT NOT NULL,
			custom_action_name TEXT NOT NULL DEFAULT '',
			date INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			last_modified INTEGER NOT NULL,
			FOREIGN KEY (dog_id) REFERENCES dogs(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_dog_id ON logs(dog_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Database("begin tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Database("commit tx", err)
	}
	return nil
}

// Times are stored as UTC unix milliseconds; 0 or NULL means unset.

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// truncate drops precision below what the database keeps.
func truncate(t time.Time) time.Time {
	return fromMillis(millis(t))
}
