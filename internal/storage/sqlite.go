// Package storage persists generation sessions and per-item results in a
// SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding sessions and generation results.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "synthgen.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Sessions ---

func (s *Store) CreateSession(sess Session) error {
	status := sess.Status
	if status == "" {
		status = "running"
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, created_at, status, model, task_type, total)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CreatedAt.UTC().Format(time.RFC3339), status, sess.Model, sess.TaskType, sess.Total,
	)
	return err
}

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, created_at, status, model, task_type, total
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &createdAt, &sess.Status, &sess.Model, &sess.TaskType, &sess.Total)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.CreatedAt = t
	return sess, nil
}

func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, status, model, task_type, total
		FROM sessions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		var sess Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &createdAt, &sess.Status, &sess.Model, &sess.TaskType, &sess.Total); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sess.CreatedAt = t
		results = append(results, sess)
	}
	return results, rows.Err()
}

func (s *Store) UpdateSessionStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Results ---

// SaveResult inserts or updates a result record keyed by its stable id.
// Retried items reuse their original id, so saving again with the same id
// updates the existing row instead of duplicating it.
func (s *Store) SaveResult(r ResultRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !r.CreatedAt.IsZero() {
		createdAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO results (id, session_id, seq, status, query, reasoning, answer, error_message, duration_ms, token_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			query = excluded.query,
			reasoning = excluded.reasoning,
			answer = excluded.answer,
			error_message = excluded.error_message,
			duration_ms = excluded.duration_ms,
			token_count = excluded.token_count,
			updated_at = excluded.updated_at`,
		r.ID, r.SessionID, r.Seq, r.Status, r.Query, r.Reasoning, r.Answer,
		r.ErrorMessage, r.DurationMs, r.TokenCount, createdAt, now,
	)
	return err
}

// UpdateResultStatus sets only the status of an existing result.
func (s *Store) UpdateResultStatus(id, status string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE results SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetResult(id string) (ResultRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, seq, status, query, reasoning, answer, error_message, duration_ms, token_count, created_at, updated_at
		FROM results WHERE id = ?`, id,
	)
	rec, err := scanResult(row)
	if err == sql.ErrNoRows {
		return ResultRecord{}, ErrNotFound
	}
	return rec, err
}

// ListResults returns a session's results ordered by sequence number.
func (s *Store) ListResults(sessionID string) ([]ResultRecord, error) {
	return s.queryResults(`
		SELECT id, session_id, seq, status, query, reasoning, answer, error_message, duration_ms, token_count, created_at, updated_at
		FROM results WHERE session_id = ? ORDER BY seq ASC`, sessionID)
}

// ListFailed returns a session's results with status error or timeout.
// Aborted items are not failures and are not returned.
func (s *Store) ListFailed(sessionID string) ([]ResultRecord, error) {
	return s.queryResults(`
		SELECT id, session_id, seq, status, query, reasoning, answer, error_message, duration_ms, token_count, created_at, updated_at
		FROM results WHERE session_id = ? AND status IN ('error', 'timeout') ORDER BY seq ASC`, sessionID)
}

// CountByStatus returns a map of status to result count for a session.
func (s *Store) CountByStatus(sessionID string) (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM results WHERE session_id = ? GROUP BY status`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryResults(query string, args ...any) ([]ResultRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (ResultRecord, error) {
	var r ResultRecord
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &r.SessionID, &r.Seq, &r.Status, &r.Query, &r.Reasoning,
		&r.Answer, &r.ErrorMessage, &r.DurationMs, &r.TokenCount, &createdAt, &updatedAt)
	if err != nil {
		return ResultRecord{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ResultRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return ResultRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}
