package cache

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// SemanticStore persists semantic cache entries to SQLite so cached results
// survive process restarts. The in-memory cache remains authoritative for
// lookups; the store is load-on-start and write-through only.
type SemanticStore struct {
	db        *sql.DB
	dimension int
}

// OpenSemanticStore opens (or creates) the cache database at path
func OpenSemanticStore(path string, dimension int) (*SemanticStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// WAL keeps concurrent readers cheap
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SemanticStore{db: db, dimension: dimension}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SemanticStore) initSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			query TEXT NOT NULL,
			result BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_agent ON cache_entries(agent_id);
		CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_entries(created_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS cache_vectors USING vec0(
			embedding float[%d]
		);
	`, s.dimension)

	_, err := s.db.Exec(schema)
	return err
}

// Insert persists one cache entry and its embedding
func (s *SemanticStore) Insert(entry *SemanticEntry) error {
	if len(entry.Embedding) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(entry.Embedding), s.dimension)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO cache_entries (agent_id, query, result, created_at) VALUES (?, ?, ?, ?)",
		entry.AgentID, entry.Query, []byte(entry.Result), entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read row id: %w", err)
	}

	blob, err := sqlite_vec.SerializeFloat32(entry.Embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO cache_vectors (rowid, embedding) VALUES (?, ?)", rowID, blob); err != nil {
		return fmt.Errorf("failed to insert embedding: %w", err)
	}

	return tx.Commit()
}

// LoadAll reads every persisted entry in insertion order
func (s *SemanticStore) LoadAll() ([]*SemanticEntry, error) {
	rows, err := s.db.Query(`
		SELECT e.agent_id, e.query, e.result, e.created_at, v.embedding
		FROM cache_entries e
		JOIN cache_vectors v ON v.rowid = e.id
		ORDER BY e.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*SemanticEntry
	for rows.Next() {
		var agentID, query string
		var result []byte
		var createdAt int64
		var blob []byte
		if err := rows.Scan(&agentID, &query, &result, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}

		embedding, err := deserializeFloat32(blob)
		if err != nil {
			return nil, err
		}

		entries = append(entries, &SemanticEntry{
			AgentID:   agentID,
			Query:     query,
			Embedding: embedding,
			Result:    json.RawMessage(result),
			CreatedAt: time.Unix(createdAt, 0),
		})
	}
	return entries, rows.Err()
}

// DeleteBefore removes entries created at or before the cutoff
func (s *SemanticStore) DeleteBefore(cutoff time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM cache_vectors WHERE rowid IN (SELECT id FROM cache_entries WHERE created_at <= ?)",
		cutoff.Unix(),
	); err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM cache_entries WHERE created_at <= ?", cutoff.Unix()); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying database
func (s *SemanticStore) Close() error {
	return s.db.Close()
}

// deserializeFloat32 decodes the little-endian float32 blob produced by
// sqlite-vec
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}
