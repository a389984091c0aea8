package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"nathy/internal/services/embeddings"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS facts (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	fact TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id);
`

// PostgresStore keeps facts in PostgreSQL, for deployments where the local
// disk is ephemeral.
type PostgresStore struct {
	*sqlStore
}

// NewPostgres connects to dsn, verifies the connection and applies the schema.
func NewPostgres(ctx context.Context, dsn string, embedder embeddings.Service) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres memory: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres memory: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres memory: apply schema: %w", err)
	}
	return &PostgresStore{sqlStore: &sqlStore{
		db:       db,
		dollar:   true,
		ranker:   Ranker{Embedder: embedder},
		now:      time.Now,
		describe: "postgres memory",
	}}, nil
}
