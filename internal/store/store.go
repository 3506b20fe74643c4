// Package store persists the link graph in SQLite: one articles table keyed
// by title and one article_links table of (linker, linked) pairs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	Title TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS article_links (
	Linker TEXT,
	Linked TEXT
);
`

// completeVersion is the user_version of a shard store whose worker read
// its whole shard.
const completeVersion = 1

// ErrIncomplete marks a shard store whose worker did not finish.
var ErrIncomplete = errors.New("shard store is incomplete")

// Store is a single-writer handle on one SQLite file.
type Store struct {
	db   *sql.DB
	path string

	stmtArticle *sql.Stmt
	stmtLink    *sql.Stmt
}

// Create deletes any store at path and opens a fresh one tuned for bulk
// inserts. A memory journal keeps per-page rollback working.
func Create(path string) (*Store, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove old shard store %s: %w", path, err)
	}
	return open(path, "PRAGMA synchronous = OFF", "PRAGMA journal_mode = MEMORY")
}

// Open opens or creates the store at path. It keeps an on-disk rollback
// journal so an aborted merge leaves the file untouched.
func Open(path string) (*Store, error) {
	return open(path, "PRAGMA synchronous = NORMAL", "PRAGMA journal_mode = DELETE")
}

// OpenReadOnly opens an existing store for queries only. Nothing is written
// to the file, and InsertPage fails.
func OpenReadOnly(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

func open(path string, pragmas ...string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: pragmas and ATTACH are per connection, and the store
	// has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if s.stmtArticle, err = db.Prepare(`INSERT INTO articles (Title) VALUES (?)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare article insert: %w", err)
	}
	if s.stmtLink, err = db.Prepare(`INSERT INTO article_links (Linker, Linked) VALUES (?, ?)`); err != nil {
		_ = s.stmtArticle.Close()
		_ = db.Close()
		return nil, fmt.Errorf("prepare link insert: %w", err)
	}
	return s, nil
}

// Path is the file backing the store.
func (s *Store) Path() string { return s.path }

// InsertPage writes the article row and one edge row per link in a single
// transaction. On error nothing of the page is kept.
func (s *Store) InsertPage(title string, links []string) (err error) {
	if s.stmtArticle == nil {
		return fmt.Errorf("insert article %q: store is read-only", title)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Stmt(s.stmtArticle).Exec(title); err != nil {
		return fmt.Errorf("insert article %q: %w", title, err)
	}
	stmt := tx.Stmt(s.stmtLink)
	defer func() { _ = stmt.Close() }()
	for _, link := range links {
		if _, err := stmt.Exec(title, link); err != nil {
			return fmt.Errorf("insert link %q -> %q: %w", title, link, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit page %q: %w", title, err)
	}
	return nil
}

// MarkComplete records that every page of the shard has been processed.
// The merger refuses shard stores without the mark.
func (s *Store) MarkComplete() error {
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", completeVersion)); err != nil {
		return fmt.Errorf("mark shard store complete: %w", err)
	}
	return nil
}

// Counts returns the number of article and link rows.
func (s *Store) Counts(ctx context.Context) (articles, links int64, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM articles`).Scan(&articles); err != nil {
		return 0, 0, fmt.Errorf("count articles: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM article_links`).Scan(&links); err != nil {
		return 0, 0, fmt.Errorf("count links: %w", err)
	}
	return articles, links, nil
}

// EachArticle streams every title, one row alive at a time.
func (s *Store) EachArticle(ctx context.Context, fn func(title string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT Title FROM articles ORDER BY Title`)
	if err != nil {
		return fmt.Errorf("query articles: %w", err)
	}
	defer func() { _ = rows.Close() }() // read-only

	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return fmt.Errorf("scan article: %w", err)
		}
		if err := fn(title); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EachLink streams every edge in insertion order.
func (s *Store) EachLink(ctx context.Context, fn func(linker, linked string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT Linker, Linked FROM article_links ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("query links: %w", err)
	}
	defer func() { _ = rows.Close() }() // read-only

	for rows.Next() {
		var linker, linked string
		if err := rows.Scan(&linker, &linked); err != nil {
			return fmt.Errorf("scan link: %w", err)
		}
		if err := fn(linker, linked); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the statements and the database handle.
func (s *Store) Close() error {
	if s.stmtArticle != nil {
		_ = s.stmtArticle.Close()
		_ = s.stmtLink.Close()
	}
	return s.db.Close()
}
