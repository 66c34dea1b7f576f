package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/teemow/jarvis/internal/google"
)

const createTokensTable = `
CREATE TABLE IF NOT EXISTS google_tokens (
	account    TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	updated_at DATETIME NOT NULL
)`

// SQLiteStore keeps token records in a SQLite database, one row per account.
type SQLiteStore struct {
	db   *sql.DB
	path string
	enc  *Encryptor
}

// NewSQLiteStore opens (and creates if needed) tokens.db in dir.
func NewSQLiteStore(dir string, enc *Encryptor) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dir, "tokens.db")

	// WAL mode lets the CLI read while serve refreshes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(createTokensTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating google_tokens table: %w", err)
	}
	if err := os.Chmod(dbPath, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting database permissions: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, enc: enc}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements google.TokenStore.
func (s *SQLiteStore) Load(ctx context.Context, account string) (*google.TokenRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM google_tokens WHERE account = ?`, account).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, google.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading token record: %w", err)
	}
	return decode(data, s.enc)
}

// Save implements google.TokenStore.
func (s *SQLiteStore) Save(ctx context.Context, account string, rec *google.TokenRecord) error {
	data, err := encode(rec, s.enc)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO google_tokens (account, record, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			record = excluded.record,
			updated_at = excluded.updated_at
	`, account, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving token record: %w", err)
	}
	return nil
}

// Delete implements google.TokenStore.
func (s *SQLiteStore) Delete(ctx context.Context, account string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM google_tokens WHERE account = ?`, account); err != nil {
		return fmt.Errorf("deleting token record: %w", err)
	}
	return nil
}
