package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/user/markhub/internal/integrations"
)

type Store struct {
	db *sql.DB
}

func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "markhub.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookmarks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		source_id TEXT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		description TEXT,
		tags TEXT,
		category TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_bookmarks_source ON bookmarks(source);
	CREATE INDEX IF NOT EXISTS idx_bookmarks_category ON bookmarks(category);

	CREATE TABLE IF NOT EXISTS integrations (
		id TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func generateID(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:8])
}

// UpsertReturningNew inserts or updates a bookmark and returns true if it was a new insert.
// Re-imports keep the original source and creation time.
func (s *Store) UpsertReturningNew(b *Bookmark) (bool, error) {
	if b.ID == "" {
		b.ID = generateID(b.URL)
	}
	now := time.Now()
	b.UpdatedAt = now
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}

	tags, err := encodeJSON(b.Tags)
	if err != nil {
		return false, err
	}
	metadata, err := encodeJSON(b.Metadata)
	if err != nil {
		return false, err
	}

	// Check if URL already exists
	var existingID string
	err = s.db.QueryRow(`SELECT id FROM bookmarks WHERE url = ?`, b.URL).Scan(&existingID)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return false, err
	}

	query := `
	INSERT INTO bookmarks (id, source, source_id, url, title, description, tags, category, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		title = COALESCE(NULLIF(excluded.title, ''), bookmarks.title),
		description = COALESCE(NULLIF(excluded.description, ''), bookmarks.description),
		tags = COALESCE(excluded.tags, bookmarks.tags),
		category = COALESCE(NULLIF(excluded.category, ''), bookmarks.category),
		metadata = COALESCE(excluded.metadata, bookmarks.metadata),
		updated_at = excluded.updated_at
	`

	_, err = s.db.Exec(query,
		b.ID, b.Source, nullString(b.SourceID), b.URL, b.Title, b.Description, tags, b.Category, metadata,
		b.CreatedAt, b.UpdatedAt,
	)
	if err == nil && !isNew {
		b.ID = existingID
	}
	return isNew, err
}

const bookmarkColumns = `id, source, source_id, url, title, description, tags, category, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row rowScanner) (*Bookmark, error) {
	var b Bookmark
	var sourceID, title, description, tags, category, metadata sql.NullString
	if err := row.Scan(&b.ID, &b.Source, &sourceID, &b.URL, &title, &description, &tags, &category, &metadata, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.SourceID = sourceID.String
	b.Title = title.String
	b.Description = description.String
	b.Category = category.String
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &b.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", b.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &b.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func (s *Store) GetByURL(url string) (*Bookmark, error) {
	return scanBookmark(s.db.QueryRow(`SELECT `+bookmarkColumns+` FROM bookmarks WHERE url = ?`, url))
}

func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM bookmarks WHERE id = ?`, id)
	return err
}

// List returns the newest bookmarks, optionally restricted to sources.
// A limit of zero or less returns everything.
func (s *Store) List(sources []string, limit int) ([]Bookmark, error) {
	query := `SELECT ` + bookmarkColumns + ` FROM bookmarks`

	var args []any
	if len(sources) > 0 {
		query += ` WHERE source IN (` + strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",") + `)`
		for _, src := range sources {
			args = append(args, src)
		}
	}

	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, *b)
	}
	return bookmarks, rows.Err()
}

func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bookmarks`).Scan(&count)
	return count, err
}

func (s *Store) CountBySource() ([]SourceCount, error) {
	rows, err := s.db.Query(`SELECT source, COUNT(*) FROM bookmarks GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []SourceCount
	for rows.Next() {
		var c SourceCount
		if err := rows.Scan(&c.Source, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// SaveIntegration stores an integration config as an opaque JSON blob.
func (s *Store) SaveIntegration(cfg integrations.IntegrationConfig) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode integration %s: %w", cfg.ID, err)
	}
	_, err = s.db.Exec(`
	INSERT INTO integrations (id, config, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at
	`, cfg.ID, string(blob), time.Now())
	return err
}

func (s *Store) LoadIntegrations() ([]integrations.IntegrationConfig, error) {
	rows, err := s.db.Query(`SELECT id, config FROM integrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []integrations.IntegrationConfig
	for rows.Next() {
		var id, blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		var cfg integrations.IntegrationConfig
		if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
			return nil, fmt.Errorf("decode integration %s: %w", id, err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value)
	return err
}

func encodeJSON(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ integrations.ConfigStore = (*Store)(nil)
