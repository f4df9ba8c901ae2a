package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gmaildu/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements gmail.MessageStore backed by a local SQLite database.
// It is the only durable state the scanner has; every other component is
// stateless across invocations, which is what makes a scan resumable.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and runs
// migrations. Calling it on an existing database is safe and loses no data.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	thread_id     TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	internal_date INTEGER NOT NULL DEFAULT 0,
	sender        TEXT NOT NULL DEFAULT '',
	subject       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);
`
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertNewIDs inserts listed messages in pending state. IDs already present
// are left untouched, so re-listing an already-seen page is harmless.
func (s *SQLiteStore) InsertNewIDs(ctx context.Context, msgs []model.ListedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO messages (id, thread_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.ID, m.ThreadID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ApplyFetchedDetails overwrites descriptive fields and marks each record
// complete. Unknown IDs are no-ops.
func (s *SQLiteStore) ApplyFetchedDetails(ctx context.Context, recs []model.MessageRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE messages
		SET size = ?, internal_date = ?, sender = ?, subject = ?, status = 'complete'
		WHERE id = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.Size, r.InternalDate, r.Sender, r.Subject, r.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkDeleted records that the given messages no longer exist remotely.
// Descriptive fields are left at their defaults.
func (s *SQLiteStore) MarkDeleted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE messages SET status = 'deleted' WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListPending returns up to limit pending message IDs in insertion order.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM messages WHERE status = 'pending' ORDER BY rowid LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListComplete returns a snapshot of all completed records.
func (s *SQLiteStore) ListComplete(ctx context.Context) ([]model.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, size, internal_date, sender, subject
		FROM messages WHERE status = 'complete' ORDER BY rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.MessageRecord
	for rows.Next() {
		r := model.MessageRecord{Status: model.StatusComplete}
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.Size, &r.InternalDate, &r.Sender, &r.Subject); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Counts returns the total number of records and how many have reached a
// terminal state (complete or deleted). Drain loops and progress bars both
// need "resolved", not strictly "complete".
func (s *SQLiteStore) Counts(ctx context.Context) (total, done int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN status IN ('complete','deleted') THEN 1 END)
		FROM messages
	`).Scan(&total, &done)
	return total, done, err
}

// GetCursor returns the stored value for a state key, or "" when absent.
func (s *SQLiteStore) GetCursor(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return val, err
}

// SetCursor upserts a state key. Last writer wins.
func (s *SQLiteStore) SetCursor(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
