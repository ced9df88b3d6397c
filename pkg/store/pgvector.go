package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docchat/internal/models"
)

type VectorIndexConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorIndex stores chunk embeddings in Postgres with the pgvector
// extension and answers cosine-similarity queries.
type VectorIndex struct {
	config VectorIndexConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorIndexConfig) (*VectorIndex, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 4096
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &VectorIndex{
		config: config,
		pool:   pool,
	}, nil
}

// pointNamespace is the UUIDv5 namespace for index point identifiers.
// Never change it: point IDs must stay stable across runs so re-ingesting
// unchanged content overwrites in place.
var pointNamespace = uuid.MustParse("9a7f302e-4b5c-4d27-8f4e-1d6a8c1726b0")

// PointID derives the index identifier for a chunk from its file display
// name and chunk index. Same (file, index) in, same ID out, always.
func PointID(file string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(file+":"+strconv.Itoa(chunkIndex))).String()
}

// BuildPoints turns chunks into index points with deterministic IDs.
func BuildPoints(chunks []models.Chunk) []models.IndexPoint {
	points := make([]models.IndexPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = models.IndexPoint{
			ID:        PointID(chunk.File, chunk.ChunkIndex),
			Embedding: chunk.Embedding,
			Payload: models.Payload{
				Text:       chunk.Text,
				File:       chunk.File,
				ChunkIndex: chunk.ChunkIndex,
			},
		}
	}
	return points
}

// EnsureSchema creates the pgvector extension, the points table, and its
// indexes if they do not exist. The vector dimension is fixed at creation.
func (vi *VectorIndex) EnsureSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		dimension = vi.config.VectorDim
	}

	if _, err := vi.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return &models.ServiceError{Service: "index", Err: fmt.Errorf("creating vector extension: %w", err)}
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			file TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d)
		)`, vi.config.TableName, dimension)
	if _, err := vi.pool.Exec(ctx, createTable); err != nil {
		return &models.ServiceError{Service: "index", Err: fmt.Errorf("creating table: %w", err)}
	}

	createVectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vi.config.TableName, vi.config.TableName)
	if _, err := vi.pool.Exec(ctx, createVectorIndex); err != nil {
		return &models.ServiceError{Service: "index", Err: fmt.Errorf("creating vector index: %w", err)}
	}

	createFileIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_file_idx ON %s (file)`,
		vi.config.TableName, vi.config.TableName)
	if _, err := vi.pool.Exec(ctx, createFileIndex); err != nil {
		return &models.ServiceError{Service: "index", Err: fmt.Errorf("creating file index: %w", err)}
	}

	return nil
}

// Upsert writes points in batches, committing each batch before the next,
// and returns the number of points written. Writing a point whose ID
// already exists overwrites it.
func (vi *VectorIndex) Upsert(ctx context.Context, points []models.IndexPoint) (int, error) {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, file, chunk_index, text, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			file = EXCLUDED.file,
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`,
		vi.config.TableName)

	written := 0
	for start := 0; start < len(points); start += vi.config.BatchSize {
		end := start + vi.config.BatchSize
		if end > len(points) {
			end = len(points)
		}

		tx, err := vi.pool.Begin(ctx)
		if err != nil {
			return written, &models.ServiceError{Service: "index", Err: fmt.Errorf("beginning batch: %w", err)}
		}

		for _, point := range points[start:end] {
			_, err := tx.Exec(ctx, stmt,
				point.ID,
				point.Payload.File,
				point.Payload.ChunkIndex,
				point.Payload.Text,
				pgvector.NewVector(point.Embedding),
			)
			if err != nil {
				tx.Rollback(ctx)
				return written, &models.ServiceError{Service: "index", Err: fmt.Errorf("upserting point %s: %w", point.ID, err)}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return written, &models.ServiceError{Service: "index", Err: fmt.Errorf("committing batch: %w", err)}
		}
		written += end - start
	}

	return written, nil
}

// Query returns up to limit candidates ordered by decreasing cosine
// similarity to the given vector.
func (vi *VectorIndex) Query(ctx context.Context, vector []float32, limit int) ([]models.Candidate, error) {
	query := fmt.Sprintf(`
		SELECT text, file, chunk_index, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vi.config.TableName)

	rows, err := vi.pool.Query(ctx, query, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, &models.ServiceError{Service: "index", Err: fmt.Errorf("querying points: %w", err)}
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var score float64
		if err := rows.Scan(&c.Text, &c.File, &c.ChunkIndex, &score); err != nil {
			return nil, &models.ServiceError{Service: "index", Err: fmt.Errorf("scanning row: %w", err)}
		}
		c.Score = float32(score)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ServiceError{Service: "index", Err: fmt.Errorf("iterating rows: %w", err)}
	}

	return candidates, nil
}

// DeleteByFile removes every point whose payload file matches. Used to drop
// a stale file's points after a cache sweep.
func (vi *VectorIndex) DeleteByFile(ctx context.Context, file string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE file = $1", vi.config.TableName)
	if _, err := vi.pool.Exec(ctx, stmt, file); err != nil {
		return &models.ServiceError{Service: "index", Err: fmt.Errorf("deleting points for %s: %w", file, err)}
	}
	return nil
}

// Drop removes the whole points table.
func (vi *VectorIndex) Drop(ctx context.Context) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", vi.config.TableName)
	if _, err := vi.pool.Exec(ctx, stmt); err != nil {
		return &models.ServiceError{Service: "index", Err: fmt.Errorf("dropping table: %w", err)}
	}
	return nil
}

func (vi *VectorIndex) Close() {
	if vi.pool != nil {
		vi.pool.Close()
	}
}
