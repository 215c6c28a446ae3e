// Package memory reads the external indexer's entries out of the shared
// memory.db. The gateway only searches; writing is the indexer's business.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one indexed memory record.
type Entry struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"sessionKey,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Searcher answers memory.search queries. When memory is disabled or the
// indexer has not created its table yet, every search is empty rather than
// an error.
type Searcher struct {
	db      *sql.DB
	enabled bool
}

// NewSearcher opens the shared database. With enabled=false no database is
// touched at all.
func NewSearcher(path string, enabled bool) (*Searcher, error) {
	if !enabled {
		return &Searcher{}, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	return &Searcher{db: db, enabled: true}, nil
}

// Close closes the database.
func (s *Searcher) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Search returns up to k entries whose content matches the query,
// newest-first.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Entry, error) {
	if !s.enabled || s.db == nil {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	ok, err := s.tableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, content, created_at
		FROM memory_entries
		WHERE content LIKE '%' || ? || '%'
		ORDER BY created_at DESC LIMIT ?`, query, k)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var sessionKey sql.NullString
		if err := rows.Scan(&e.ID, &sessionKey, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.SessionKey = sessionKey.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Searcher) tableExists(ctx context.Context) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'memory_entries'`).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect memory schema: %w", err)
	}
	return true, nil
}
