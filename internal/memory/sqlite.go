package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteFactStore struct {
	db *sql.DB
}

func OpenSQLiteFactStore(dbPath string) (*SQLiteFactStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteFactStore{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteFactStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteFactStore) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			position INTEGER NOT NULL,
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 3,
			created_at TEXT NOT NULL,
			last_accessed TEXT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id, position)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteFactStore) Load(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, content, importance, created_at, last_accessed, access_count
		FROM facts WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var (
			f                 Fact
			created, accessed string
		)
		if err := rows.Scan(&f.Key, &f.Content, &f.Importance, &created, &accessed, &f.AccessCount); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.UserID = userID
		f.CreatedAt = parseTime(created)
		f.LastAccessed = parseTime(accessed)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Save replaces the user's fact list in one transaction.
func (s *SQLiteFactStore) Save(ctx context.Context, userID string, facts []Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts (user_id, key, position, content, importance, created_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range facts {
		if _, err := stmt.ExecContext(ctx, userID, f.Key, i, f.Content, f.Importance,
			f.CreatedAt.UTC().Format(time.RFC3339Nano), f.LastAccessed.UTC().Format(time.RFC3339Nano), f.AccessCount); err != nil {
			return fmt.Errorf("insert fact %q: %w", f.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteFactStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete facts: %w", err)
	}
	return nil
}

func (s *SQLiteFactStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM facts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (s *SQLiteFactStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
