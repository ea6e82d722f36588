package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the snapshot as a single row in SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}

	return store, nil
}

// initializeSchema creates the snapshot table if it doesn't exist
func (s *SQLiteStore) initializeSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS ai_article_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_updated DATETIME NOT NULL,
		payload BLOB NOT NULL
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// Load returns the stored snapshot, or ErrNotFound
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM ai_article_snapshot WHERE id = 1`)

	var payload []byte
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Articles == nil {
		snap.Articles = []Article{}
	}
	if snap.Tags == nil {
		snap.Tags = []string{}
	}
	return &snap, nil
}

// Save replaces the stored snapshot
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO ai_article_snapshot (id, last_updated, payload)
	VALUES (1, ?, ?)
	`

	if _, err := s.db.ExecContext(ctx, query, snap.LastUpdated.UTC().Format(time.RFC3339Nano), payload); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
