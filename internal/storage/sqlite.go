package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage caches resolved external ids between runs
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance, opening/creating the DB and initializing schema
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates tables if they don't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS external_ids (
		subject_url TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		resolved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetExternalID returns the cached id for a subject page.
// found is false when the page has never been resolved.
func (s *Storage) GetExternalID(subjectURL string) (id string, found bool, err error) {
	err = s.db.QueryRow("SELECT external_id FROM external_ids WHERE subject_url = ?", subjectURL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get external id: %w", err)
	}
	return id, true, nil
}

// PutExternalID stores or replaces the id resolved for a subject page
func (s *Storage) PutExternalID(subjectURL, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("refusing to cache empty external id for %s", subjectURL)
	}
	_, err := s.db.Exec(`
		INSERT INTO external_ids (subject_url, external_id, resolved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subject_url) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			resolved_at = EXCLUDED.resolved_at
	`, subjectURL, externalID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert external id: %w", err)
	}
	return nil
}

// ListExternalIDs returns every cached entry, oldest first
func (s *Storage) ListExternalIDs() ([]CachedID, error) {
	rows, err := s.db.Query(`
		SELECT subject_url, external_id, resolved_at
		FROM external_ids
		ORDER BY resolved_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list external ids: %w", err)
	}
	defer rows.Close()

	var entries []CachedID
	for rows.Next() {
		var e CachedID
		if err := rows.Scan(&e.SubjectURL, &e.ExternalID, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external ids: %w", err)
	}

	return entries, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
