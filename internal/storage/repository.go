package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"finman/internal/core"
	"finman/internal/ledger"

	_ "modernc.org/sqlite"
)

// SQLiteRepository keeps the ledger document in SQLite: one row per user
// holding that user's record list as JSON, so a save touches only the
// owner's row.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure interface conformance
var (
	_ ledger.Store      = (*SQLiteRepository)(nil)
	_ ledger.UserLister = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers inside the process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// LoadUser implements ledger.Store
func (r *SQLiteRepository) LoadUser(ctx context.Context, userID string) ([]core.Record, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return nil, err
	}

	var document string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM ledgers WHERE username = ?`, userID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return []core.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger for %q: %w", userID, err)
	}

	records, err := core.DecodeRecords([]byte(document))
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", userID, err)
	}
	return records, nil
}

// SaveUser implements ledger.Store
func (r *SQLiteRepository) SaveUser(ctx context.Context, userID string, records []core.Record) error {
	if err := core.ValidateUserID(userID); err != nil {
		return err
	}
	document, err := core.EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("%w: encode records: %v", core.ErrPersistFailed, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrPersistFailed, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledgers (username, document, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(username) DO UPDATE SET
			document   = excluded.document,
			revision   = ledgers.revision + 1,
			updated_at = excluded.updated_at`,
		userID, string(document), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: upsert ledger for %q: %v", core.ErrPersistFailed, userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrPersistFailed, err)
	}

	slog.DebugContext(ctx, "Ledger saved to SQLite",
		"user", userID,
		"records", len(records))
	return nil
}

// Users implements ledger.UserLister
func (r *SQLiteRepository) Users(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT username FROM ledgers ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Revision returns how many times the user's ledger has been saved.
func (r *SQLiteRepository) Revision(ctx context.Context, userID string) (int64, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx,
		`SELECT revision FROM ledgers WHERE username = ?`, userID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get revision for %q: %w", userID, err)
	}
	return rev, nil
}
