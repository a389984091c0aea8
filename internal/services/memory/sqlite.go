package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"nathy/internal/services/embeddings"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	fact TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id);
`

// SQLiteStore is the default file-backed store.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLite opens (creating if needed) the database at path in WAL mode.
func NewSQLite(ctx context.Context, path string, embedder embeddings.Service) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite memory: create directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite memory: open %s: %w", path, err)
	}
	// One writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite memory: apply schema: %w", err)
	}
	return &SQLiteStore{
		sqlStore: &sqlStore{
			db:       db,
			ranker:   Ranker{Embedder: embedder},
			now:      time.Now,
			describe: "sqlite memory",
		},
		path: path,
	}, nil
}

// Path is the database file.
func (s *SQLiteStore) Path() string { return s.path }
