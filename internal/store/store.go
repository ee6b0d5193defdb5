// Package store persists knowledge base history and the picker session in a
// local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/session"
)

// ErrNotFound is returned when a knowledge base is not in the history.
var ErrNotFound = errors.New("knowledge base not found in history")

// KnowledgeBaseRecord is one knowledge base created or used from this machine.
type KnowledgeBaseRecord struct {
	ID            string
	Name          string
	ConnectionID  string
	OrgID         string
	ResourceCount int
	CreatedAt     time.Time
	LastUsedAt    time.Time
}

// IndexedResource is a resource submitted to a knowledge base.
type IndexedResource struct {
	ResourceID string
	Path       string
	IsFolder   bool
}

// Store wraps the history database.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	s := &Store{path: path, db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			name TEXT,
			connection_id TEXT,
			org_id TEXT,
			resource_count INTEGER,
			created_at INTEGER,
			last_used_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS kb_resources (
			kb_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			resource_id TEXT NOT NULL,
			path TEXT,
			is_folder INTEGER,
			PRIMARY KEY (kb_id, resource_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_bases_last_used ON knowledge_bases(last_used_at);`,
		`CREATE TABLE IF NOT EXISTS session (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// RecordKnowledgeBase stores a knowledge base and the resources submitted to it.
// Recording an id again replaces its resources and refreshes last_used_at.
func (s *Store) RecordKnowledgeBase(ctx context.Context, rec KnowledgeBaseRecord, resources []IndexedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = now
	}
	if rec.ResourceCount == 0 {
		rec.ResourceCount = len(resources)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO knowledge_bases
		(id, name, connection_id, org_id, resource_count, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			connection_id = excluded.connection_id,
			org_id = excluded.org_id,
			resource_count = excluded.resource_count,
			last_used_at = excluded.last_used_at`,
		rec.ID, rec.Name, rec.ConnectionID, rec.OrgID, rec.ResourceCount,
		rec.CreatedAt.Unix(), rec.LastUsedAt.Unix()); err != nil {
		return fmt.Errorf("record knowledge base: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_resources WHERE kb_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clear knowledge base resources: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO kb_resources (kb_id, resource_id, path, is_folder) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare resource insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range resources {
		if _, err := stmt.ExecContext(ctx, rec.ID, r.ResourceID, r.Path, boolInt(r.IsFolder)); err != nil {
			return fmt.Errorf("record resource %s: %w", r.ResourceID, err)
		}
	}

	return tx.Commit()
}

// IndexedResourcesFrom converts tree resources into history rows.
func IndexedResourcesFrom(resources []models.Resource) []IndexedResource {
	out := make([]IndexedResource, 0, len(resources))
	for _, r := range resources {
		out = append(out, IndexedResource{
			ResourceID: r.ResourceID,
			Path:       r.Path(),
			IsFolder:   r.IsDirectory(),
		})
	}
	return out
}

// TouchKnowledgeBase marks id as used now.
func (s *Store) TouchKnowledgeBase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_bases SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch knowledge base: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetKnowledgeBase returns the history record for id.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, connection_id, org_id, resource_count, created_at, last_used_at
		FROM knowledge_bases WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge base: %w", err)
	}
	return rec, nil
}

// ListKnowledgeBases returns the history, most recently used first.
func (s *Store) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, connection_id, org_id, resource_count, created_at, last_used_at
		FROM knowledge_bases ORDER BY last_used_at DESC, created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeBaseRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*KnowledgeBaseRecord, error) {
	var (
		rec                 KnowledgeBaseRecord
		name, conn, org     sql.NullString
		count               sql.NullInt64
		createdAt, lastUsed sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &name, &conn, &org, &count, &createdAt, &lastUsed); err != nil {
		return nil, err
	}
	rec.Name = name.String
	rec.ConnectionID = conn.String
	rec.OrgID = org.String
	rec.ResourceCount = int(count.Int64)
	rec.CreatedAt = time.Unix(createdAt.Int64, 0)
	rec.LastUsedAt = time.Unix(lastUsed.Int64, 0)
	return &rec, nil
}

// KnowledgeBaseResources returns the resources submitted to kbID, by path.
func (s *Store) KnowledgeBaseResources(ctx context.Context, kbID string) ([]IndexedResource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT resource_id, path, is_folder FROM kb_resources WHERE kb_id = ? ORDER BY path, resource_id`, kbID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge base resources: %w", err)
	}
	defer rows.Close()

	var out []IndexedResource
	for rows.Next() {
		var (
			r        IndexedResource
			path     sql.NullString
			isFolder sql.NullInt64
		)
		if err := rows.Scan(&r.ResourceID, &path, &isFolder); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		r.Path = path.String
		r.IsFolder = isFolder.Int64 != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ForgetResource drops one resource row of kbID.
func (s *Store) ForgetResource(ctx context.Context, kbID, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kb_resources WHERE kb_id = ? AND resource_id = ?`, kbID, resourceID); err != nil {
		return fmt.Errorf("forget resource: %w", err)
	}
	return nil
}

// DeleteKnowledgeBase removes id and its resources from the history.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const snapshotKey = "snapshot"

type snapshotRow struct {
	ActiveID string   `json:"active_id"`
	Exists   bool     `json:"exists"`
	History  []string `json:"history"`
}

// SaveSnapshot persists the session. The syncing flag is not saved: a sync
// in progress does not survive the process.
func (s *Store) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snapshotRow{ActiveID: snap.ActiveID, Exists: snap.Exists, History: snap.History})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO session (key, value) VALUES (?, ?)`, snapshotKey, string(data)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted session, or an empty one.
func (s *Store) LoadSnapshot(ctx context.Context) (session.Snapshot, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session WHERE key = ?`, snapshotKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, nil
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("load session: %w", err)
	}

	var row snapshotRow
	if err := json.Unmarshal([]byte(value), &row); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode session: %w", err)
	}
	return session.Snapshot{ActiveID: row.ActiveID, Exists: row.Exists, History: row.History}, nil
}

// Clear removes the session and the whole knowledge base history.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{
		`DELETE FROM session`,
		`DELETE FROM kb_resources`,
		`DELETE FROM knowledge_bases`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
