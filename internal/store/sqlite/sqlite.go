// Package sqlite provides the SQLite material library
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Basilakis/kai-sub003/internal/simd"
	"github.com/Basilakis/kai-sub003/internal/store"
	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements store.Store on a single SQLite file
type Store struct {
	db   *sql.DB
	path string
	dims int // expected embedding dimensions, 0 accepts any
	mu   sync.RWMutex
}

// Config configures the SQLite store
type Config struct {
	Path       string // database file, ":memory:" for tests
	Dimensions int
}

var _ store.Store = (*Store)(nil)

// New opens (and creates) the library database
func New(cfg Config) (*Store, error) {
	dsn := ":memory:"
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA cache_size = -16000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA auto_vacuum = INCREMENTAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		db:   db,
		path: cfg.Path,
		dims: cfg.Dimensions,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS materials (
		id TEXT PRIMARY KEY,
		material_id TEXT NOT NULL,
		category TEXT,
		method TEXT NOT NULL,
		quality REAL NOT NULL DEFAULT 0,
		image_path TEXT,
		metadata TEXT, -- JSON
		embedding BLOB NOT NULL, -- little-endian float32
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_materials_material_id ON materials(material_id);
	CREATE INDEX IF NOT EXISTS idx_materials_category ON materials(category);
	CREATE INDEX IF NOT EXISTS idx_materials_method ON materials(method);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

const insertQuery = `
	INSERT INTO materials (id, material_id, category, method, quality, image_path, metadata, embedding, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `id, material_id, category, method, quality, image_path, metadata, embedding, created_at`

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, rec *types.MaterialRecord, now time.Time) error {
	if rec.MaterialID == "" {
		return errors.New("material_id is required")
	}
	if len(rec.Embedding) == 0 {
		return errors.New("embedding is required")
	}
	if s.dims > 0 && len(rec.Embedding) != s.dims {
		return fmt.Errorf("embedding has %d dimensions, library expects %d", len(rec.Embedding), s.dims)
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	var metadata any
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := ex.ExecContext(ctx, insertQuery,
		rec.ID,
		rec.MaterialID,
		rec.Category,
		string(rec.Method),
		rec.Quality,
		rec.ImagePath,
		metadata,
		encodeEmbedding(rec.Embedding),
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Add inserts a record
func (s *Store) Add(ctx context.Context, rec *types.MaterialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, s.db, rec, time.Now())
}

// AddBatch inserts records in one transaction
func (s *Store) AddBatch(ctx context.Context, recs []*types.MaterialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, rec := range recs {
		if err := s.insert(ctx, tx, rec, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get retrieves a record by ID
func (s *Store) Get(ctx context.Context, id string) (*types.MaterialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM materials WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, types.ErrNotFound)
	}
	return rec, err
}

// Delete removes a record by ID
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM materials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("record %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// DeleteByMaterial removes every record of a material
func (s *Store) DeleteByMaterial(ctx context.Context, materialID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM materials WHERE material_id = ?", materialID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records for material: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func filterClause(materialID, category string, method types.EmbeddingMethod) (string, []any) {
	conditions := []string{"1=1"}
	var args []any
	if materialID != "" {
		conditions = append(conditions, "material_id = ?")
		args = append(args, materialID)
	}
	if category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, category)
	}
	if method != "" {
		conditions = append(conditions, "method = ?")
		args = append(args, string(method))
	}
	return strings.Join(conditions, " AND "), args
}

var orderColumns = map[string]string{
	"":            "created_at",
	"created_at":  "created_at",
	"quality":     "quality",
	"material_id": "material_id",
}

// List returns records with filtering and pagination
func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]*types.MaterialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterClause(opts.MaterialID, opts.Category, opts.Method)

	orderBy, ok := orderColumns[opts.OrderBy]
	if !ok {
		return nil, fmt.Errorf("unsupported order column %q", opts.OrderBy)
	}
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT %s FROM materials WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		selectColumns, where, orderBy, order)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var recs []*types.MaterialRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Search ranks matching records by cosine similarity. Embeddings of a different
// length than the query are skipped.
func (s *Store) Search(ctx context.Context, embedding []float32, opts store.SearchOptions) ([]types.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := filterClause("", opts.Category, opts.Method)
	rows, err := s.db.QueryContext(ctx, "SELECT "+selectColumns+" FROM materials WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []types.MatchResult
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if len(rec.Embedding) != len(embedding) {
			continue
		}
		sim := simd.CosineSimilarity(embedding, rec.Embedding)
		if opts.Threshold != 0 && sim < opts.Threshold {
			continue
		}
		results = append(results, types.MatchResult{Record: *rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topKResults(results, limit), nil
}

// References groups every stored embedding by material ID
func (s *Store) References(ctx context.Context) (map[string][][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT material_id, embedding FROM materials ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	refs := make(map[string][][]float32)
	for rows.Next() {
		var materialID string
		var blob []byte
		if err := rows.Scan(&materialID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		if emb := decodeEmbedding(blob); emb != nil {
			refs[materialID] = append(refs[materialID], emb)
		}
	}
	return refs, rows.Err()
}

// Count returns the number of records, optionally for one material
func (s *Store) Count(ctx context.Context, materialID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	var err error
	if materialID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM materials").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM materials WHERE material_id = ?", materialID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Stats returns library statistics
func (s *Store) Stats(ctx context.Context) (*types.LibraryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.LibraryStats{
		RecordsByMethod: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM materials").Scan(&stats.TotalRecords); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT method, COUNT(*) FROM materials GROUP BY method ORDER BY method")
	if err != nil {
		return nil, fmt.Errorf("failed to get method counts: %w", err)
	}
	for rows.Next() {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan method count: %w", err)
		}
		stats.RecordsByMethod[method] = count
		stats.EmbeddingMethods = append(stats.EmbeddingMethods, method)
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT material_id) FROM materials").Scan(&stats.MaterialCount); err != nil {
		return nil, fmt.Errorf("failed to get material count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT category) FROM materials WHERE category <> ''").Scan(&stats.CategoryCount); err != nil {
		return nil, fmt.Errorf("failed to get category count: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.StorageBytes = info.Size()
	}
	return stats, nil
}

// Close releases resources
func (s *Store) Close() error {
	return s.db.Close()
}

// Compact optimizes storage
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*types.MaterialRecord, error) {
	var (
		rec       types.MaterialRecord
		method    string
		category  sql.NullString
		imagePath sql.NullString
		metadata  sql.NullString
		blob      []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.MaterialID,
		&category,
		&method,
		&rec.Quality,
		&imagePath,
		&metadata,
		&blob,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Method = types.EmbeddingMethod(method)
	rec.Category = category.String
	rec.ImagePath = imagePath.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", rec.ID, err)
		}
	}
	rec.Embedding = decodeEmbedding(blob)

	return &rec, nil
}
