// Package cache stores computed chunk/embedding pairs keyed by a file's
// content hash so unchanged files are never re-chunked or re-embedded.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/docchat/internal/models"
)

// Store is the SQLite-backed content cache.
type Store struct {
	db   *sql.DB
	path string

	// SQLite allows a single writer; Save and SweepStale from pool workers
	// are serialised here rather than relying on driver-level busy retries.
	writeMu sync.Mutex
}

// New opens (or creates) the cache database at path and ensures the schema
// exists.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			content_hash TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			ingested_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_hash TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			FOREIGN KEY (content_hash) REFERENCES files(content_hash)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating cache schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Hash computes the SHA-256 digest of the file's contents, streaming in
// 8 KiB blocks.
func (s *Store) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, 8192)); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsCached reports whether a content hash already has a cache entry.
func (s *Store) IsCached(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM files WHERE content_hash = ?", hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking cache for %s: %w", hash, err)
	}
	return true, nil
}

// Save writes chunks and their embeddings for a content hash in one
// transaction. Append-only per hash: callers must check IsCached first,
// saving the same hash twice duplicates rows.
func (s *Store) Save(ctx context.Context, hash, sourcePath string, chunks []string, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO files (content_hash, source_path, ingested_at) VALUES (?, ?, ?)",
		hash, sourcePath, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving file row for %s: %w", hash, err)
	}

	for i := range chunks {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO chunks (content_hash, chunk_index, text, embedding) VALUES (?, ?, ?, ?)",
			hash, i, chunks[i], packEmbedding(embeddings[i]))
		if err != nil {
			return fmt.Errorf("saving chunk %d for %s: %w", i, hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache save: %w", err)
	}
	return nil
}

// Load returns the cached chunks for a content hash ordered by chunk index.
func (s *Store) Load(ctx context.Context, hash string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.chunk_index, c.text, c.embedding, f.source_path
		 FROM chunks c JOIN files f ON f.content_hash = c.content_hash
		 WHERE c.content_hash = ? ORDER BY c.chunk_index`,
		hash)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %s: %w", hash, err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var blob []byte
		var sourcePath string
		if err := rows.Scan(&chunk.ChunkIndex, &chunk.Text, &blob, &sourcePath); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		chunk.File = filepath.Base(sourcePath)
		if len(blob)%4 != 0 {
			return nil, &models.CorruptBlobError{
				ContentHash: hash,
				ChunkIndex:  chunk.ChunkIndex,
				Length:      len(blob),
			}
		}
		chunk.Embedding = unpackEmbedding(blob)
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk rows: %w", err)
	}
	return chunks, nil
}

// SweepStale deletes every cache entry whose content hash is absent from
// live and returns the removed documents so the caller can purge their
// index points too.
func (s *Store) SweepStale(ctx context.Context, live map[string]bool) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT content_hash, source_path, ingested_at FROM files")
	if err != nil {
		return nil, fmt.Errorf("listing cached files: %w", err)
	}

	var stale []models.Document
	for rows.Next() {
		var doc models.Document
		var ingestedAt string
		if err := rows.Scan(&doc.ContentHash, &doc.Path, &ingestedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		if !live[doc.ContentHash] {
			doc.Name = filepath.Base(doc.Path)
			doc.IngestedAt, _ = time.Parse(time.RFC3339, ingestedAt)
			stale = append(stale, doc)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	rows.Close()

	if len(stale) == 0 {
		return nil, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning sweep transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE content_hash = ?", doc.ContentHash); err != nil {
			return nil, fmt.Errorf("deleting chunks for %s: %w", doc.ContentHash, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE content_hash = ?", doc.ContentHash); err != nil {
			return nil, fmt.Errorf("deleting file row for %s: %w", doc.ContentHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing sweep: %w", err)
	}
	return stale, nil
}
