// Package memory keeps long-term facts about users and ranks them against
// what the user is currently saying.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"nathy/internal/services/embeddings"
)

// Fact is one remembered statement.
type Fact struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists facts per user.
type Store interface {
	// AddFact stores a trimmed fact. Blank facts are ignored.
	AddFact(ctx context.Context, userID, fact string) error
	// TopFacts returns at most limit facts relevant to query.
	TopFacts(ctx context.Context, userID, query string, limit int) ([]string, error)
	// Facts lists the newest facts first. limit <= 0 lists everything.
	Facts(ctx context.Context, userID string, limit int) ([]Fact, error)
	// Forget deletes every fact of the user and reports how many were removed.
	Forget(ctx context.Context, userID string) (int64, error)
	Close() error
}

// Options selects and tunes the backend.
type Options struct {
	// DatabaseURL selects PostgreSQL when it has a postgres:// or postgresql:// scheme.
	DatabaseURL string
	// SQLitePath is used otherwise.
	SQLitePath string
	// Embedder enables semantic re-ranking in TopFacts.
	Embedder embeddings.Service
}

// Open returns the store selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	if IsPostgresURL(opts.DatabaseURL) {
		pg, err := NewPostgres(ctx, opts.DatabaseURL, opts.Embedder)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	if opts.SQLitePath == "" {
		return nil, errors.New("open memory store: no sqlite path or postgres url")
	}
	lite, err := NewSQLite(ctx, opts.SQLitePath, opts.Embedder)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// IsPostgresURL reports whether url names a PostgreSQL database.
func IsPostgresURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// timestampLayout is UTC ISO-8601 at second precision.
const timestampLayout = "2006-01-02T15:04:05"

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound for drivers that need $n.
type sqlStore struct {
	db       *sql.DB
	dollar   bool
	ranker   Ranker
	now      func() time.Time
	describe string
}

func (s *sqlStore) bind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) AddFact(ctx context.Context, userID, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil
	}
	createdAt := s.now().UTC().Format(timestampLayout)
	_, err := s.db.ExecContext(ctx,
		s.bind("INSERT INTO facts(user_id, fact, created_at) VALUES (?, ?, ?)"),
		userID, fact, createdAt)
	if err != nil {
		return fmt.Errorf("%s: add fact: %w", s.describe, err)
	}
	return nil
}

func (s *sqlStore) TopFacts(ctx context.Context, userID, query string, limit int) ([]string, error) {
	rows, err := s.Facts(ctx, userID, candidateWindow)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(rows))
	for i, f := range rows {
		texts[i] = f.Text
	}
	return s.ranker.Rank(ctx, texts, query, limit), nil
}

func (s *sqlStore) Facts(ctx context.Context, userID string, limit int) ([]Fact, error) {
	query := "SELECT id, user_id, fact, created_at FROM facts WHERE user_id = ? ORDER BY id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query facts: %w", s.describe, err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var (
			f       Fact
			created string
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Text, &created); err != nil {
			return nil, fmt.Errorf("%s: scan fact: %w", s.describe, err)
		}
		if t, err := time.Parse(timestampLayout, created); err == nil {
			f.CreatedAt = t.UTC()
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate facts: %w", s.describe, err)
	}
	return out, nil
}

func (s *sqlStore) Forget(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.bind("DELETE FROM facts WHERE user_id = ?"), userID)
	if err != nil {
		return 0, fmt.Errorf("%s: forget user: %w", s.describe, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: forget user: %w", s.describe, err)
	}
	return n, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
