// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inkleaf/inkleaf/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound reports a missing row.
var ErrNotFound = fmt.Errorf("not found")

// Store wraps SQLite access for the catalog and the key-value table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS novels (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			genre TEXT NOT NULL,
			synopsis TEXT NOT NULL,
			imported_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chapters (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			locked INTEGER NOT NULL,
			wait_hours INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chapters_novel ON chapters(novel_id, number);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ImportNovel stores a novel and its chapters in one transaction, replacing
// any previous import of the same novel ID.
func (s *Store) ImportNovel(ctx context.Context, novel model.Novel, chapters []model.Chapter) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO novels (id, title, author, genre, synopsis, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			genre = excluded.genre,
			synopsis = excluded.synopsis,
			imported_at = excluded.imported_at`,
		novel.ID,
		novel.Title,
		novel.Author,
		novel.Genre,
		novel.Synopsis,
		novel.ImportedAt.Format(time.RFC3339Nano),
	); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM chapters WHERE novel_id = ?`, novel.ID); err != nil {
		return err
	}

	if len(chapters) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO chapters (id, novel_id, number, title, body, locked, wait_hours)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, ch := range chapters {
			locked := 0
			if ch.Locked {
				locked = 1
			}
			if _, err = stmt.ExecContext(ctx, ch.ID, ch.NovelID, ch.Number, ch.Title, ch.Body, locked, ch.WaitHours); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// ListNovels returns all imported novels ordered by title.
func (s *Store) ListNovels(ctx context.Context) ([]model.Novel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.title, n.author, n.genre, n.synopsis, n.imported_at,
			(SELECT COUNT(*) FROM chapters c WHERE c.novel_id = n.id) AS chapters
		 FROM novels n
		 ORDER BY n.title ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var novels []model.Novel
	for rows.Next() {
		var n model.Novel
		var importedAt string
		if err := rows.Scan(&n.ID, &n.Title, &n.Author, &n.Genre, &n.Synopsis, &importedAt, &n.Chapters); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, importedAt)
		if err != nil {
			return nil, err
		}
		n.ImportedAt = parsed
		novels = append(novels, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return novels, nil
}

// ListChapters returns a novel's chapters ordered by number. Bodies are not
// loaded; use GetChapter to read one.
func (s *Store) ListChapters(ctx context.Context, novelID string) ([]model.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, novel_id, number, title, locked, wait_hours
		 FROM chapters
		 WHERE novel_id = ?
		 ORDER BY number ASC`, novelID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var chapters []model.Chapter
	for rows.Next() {
		var ch model.Chapter
		var locked int
		if err := rows.Scan(&ch.ID, &ch.NovelID, &ch.Number, &ch.Title, &locked, &ch.WaitHours); err != nil {
			return nil, err
		}
		ch.Locked = locked != 0
		chapters = append(chapters, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chapters, nil
}

// GetChapter returns a single chapter by ID.
func (s *Store) GetChapter(ctx context.Context, id string) (model.Chapter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, novel_id, number, title, body, locked, wait_hours
		 FROM chapters
		 WHERE id = ?`, id)
	var ch model.Chapter
	var locked int
	err := row.Scan(&ch.ID, &ch.NovelID, &ch.Number, &ch.Title, &ch.Body, &locked, &ch.WaitHours)
	if err == sql.ErrNoRows {
		return model.Chapter{}, ErrNotFound
	}
	if err != nil {
		return model.Chapter{}, err
	}
	ch.Locked = locked != 0
	return ch, nil
}

// KVGet reads a value from the key-value table. The second return value
// reports whether the key exists.
func (s *Store) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// KVSet writes a value into the key-value table, replacing any previous value.
func (s *Store) KVSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// KVDelete removes a key from the key-value table. Deleting a missing key is
// not an error.
func (s *Store) KVDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}
