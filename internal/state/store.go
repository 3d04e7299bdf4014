// Package state persists the processed index in an embedded SQLite
// database so that a restart does not reprocess every image.
//
// Architecture:
//   - Database file: configured by STATE_DB (opt-in)
//   - WAL mode: the status command can read while the watcher writes
//   - Schema: one processed table keyed by absolute image path
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/wpm/altwatch/internal/pipeline"
)

// Entry is one processed image.
type Entry struct {
	Path        string    `json:"path"`
	ModTime     time.Time `json:"mod_time"`
	Status      string    `json:"status"`
	DocPath     string    `json:"doc_path,omitempty"`
	AltText     string    `json:"alt_text,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Store wraps the SQLite connection holding the processed index.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Safe to call repeatedly.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed (
		path TEXT PRIMARY KEY,
		mod_time_ns INTEGER NOT NULL,
		status TEXT NOT NULL,
		doc_path TEXT,
		alt_text TEXT,
		processed_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processed_status ON processed(status);
	CREATE INDEX IF NOT EXISTS idx_processed_at ON processed(processed_at_ns);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Load returns the recorded mtime of every processed path.
func (s *Store) Load(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT path, mod_time_ns FROM processed`)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed index: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var path string
		var ns int64
		if err := rows.Scan(&path, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan processed row: %w", err)
		}
		out[path] = time.Unix(0, ns)
	}
	return out, rows.Err()
}

// Record upserts the outcome of processing path at modTime.
func (s *Store) Record(ctx context.Context, path string, modTime time.Time, o *pipeline.Outcome) error {
	status := string(pipeline.StatusError)
	var docPath, altText string
	if o != nil {
		status = string(o.Status)
		docPath = o.DocPath
		altText = o.AltText
	}

	query := `
	INSERT INTO processed (path, mod_time_ns, status, doc_path, alt_text, processed_at_ns)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		mod_time_ns = excluded.mod_time_ns,
		status = excluded.status,
		doc_path = excluded.doc_path,
		alt_text = excluded.alt_text,
		processed_at_ns = excluded.processed_at_ns
	`

	_, err := s.conn.ExecContext(ctx, query,
		path,
		modTime.UnixNano(),
		status,
		docPath,
		altText,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", path, err)
	}
	return nil
}

// Forget removes path so that the next scan processes it again.
// Returns nil if the path was never recorded.
func (s *Store) Forget(ctx context.Context, path string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM processed WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to forget %s: %w", path, err)
	}
	return nil
}

// Count returns the number of processed images.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count processed images: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of processed images per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM processed GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ListSince returns images processed at or after since, newest first.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]Entry, error) {
	query := `
	SELECT path, mod_time_ns, status, doc_path, alt_text, processed_at_ns
	FROM processed
	WHERE processed_at_ns >= ?
	ORDER BY processed_at_ns DESC, path ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to list processed images: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var modNS, atNS int64
		var docPath, altText sql.NullString
		if err := rows.Scan(&e.Path, &modNS, &e.Status, &docPath, &altText, &atNS); err != nil {
			return nil, fmt.Errorf("failed to scan processed row: %w", err)
		}
		e.ModTime = time.Unix(0, modNS)
		e.ProcessedAt = time.Unix(0, atNS)
		e.DocPath = docPath.String
		e.AltText = altText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
