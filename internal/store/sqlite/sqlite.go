package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/watchcap/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_unix   INTEGER NOT NULL,
    severity  TEXT    NOT NULL,
    message   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_unix);
`

// Store implements store.Store on an embedded sqlite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. ":memory:" is accepted for
// tests.
func New(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite works best over a single connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, r store.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(ts_unix, severity, message) VALUES(?,?,?)`,
		r.Timestamp.UnixMilli(), r.Severity, r.Message)
	return err
}

func (s *Store) RecentEvents(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts_unix, severity, message FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Record
	for rows.Next() {
		var r store.Record
		var ms int64
		if err := rows.Scan(&r.ID, &ms, &r.Severity, &r.Message); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
