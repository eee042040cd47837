package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/paynews/paynews/engine/domain"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS paynews_articles (
    position        INTEGER PRIMARY KEY,
    id              TEXT NOT NULL,
    title           TEXT NOT NULL,
    url             TEXT NOT NULL,
    summary         TEXT NOT NULL,
    relevance_score REAL NOT NULL DEFAULT 0,
    fetched_at      TEXT NOT NULL,
    created_at      TEXT NOT NULL
)`

// SQLiteCache is a Cache stored in a local SQLite file. Save replaces the
// whole snapshot so the stored order always matches the list.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens (creating if needed) the cache at path. ":memory:" is accepted.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init cache: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Load(ctx context.Context) ([]domain.Article, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, title, url, summary, relevance_score, fetched_at, created_at
		   FROM paynews_articles ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("store: read cache: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var (
			a                  domain.Article
			fetched, createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.Summary, &a.RelevanceScore, &fetched, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan cache row: %w", err)
		}
		a.FetchedAt = parseTime(fetched)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read cache: %w", err)
	}
	return out, nil
}

func (c *SQLiteCache) Save(ctx context.Context, articles []domain.Article) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin cache write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM paynews_articles`); err != nil {
		return fmt.Errorf("store: clear cache: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO paynews_articles (position, id, title, url, summary, relevance_score, fetched_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare cache write: %w", err)
	}
	defer stmt.Close()

	for i, a := range articles {
		if _, err := stmt.ExecContext(ctx, i, a.ID, a.Title, a.URL, a.Summary, a.RelevanceScore,
			formatTime(a.FetchedAt), formatTime(a.CreatedAt)); err != nil {
			return fmt.Errorf("store: write cache row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit cache: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error { return c.db.Close() }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
