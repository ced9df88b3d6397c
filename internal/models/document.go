package models

import "time"

// Document is a source file identified by the SHA-256 digest of its raw
// bytes. Two files with identical bytes are the same Document regardless of
// where they live on disk.
type Document struct {
	ContentHash string
	Name        string // display name, not part of identity
	Path        string
	IngestedAt  time.Time
}

// Chunk is one retrievable passage of a document. Indices are contiguous
// from 0 within a document and never change once written.
type Chunk struct {
	File       string
	ChunkIndex int
	Text       string
	Embedding  []float32
}

// IndexPoint is the unit stored in the vector index. ID is derived
// deterministically from (File, ChunkIndex) so repeated upserts of unchanged
// content overwrite in place.
type IndexPoint struct {
	ID        string
	Embedding []float32
	Payload   Payload
}

// Payload travels with every index point and comes back on query hits.
type Payload struct {
	Text       string `json:"text"`
	File       string `json:"file"`
	ChunkIndex int    `json:"chunk_index"`
}

// Candidate is a query hit: a payload plus its similarity (or, after
// reranking, relevance) score.
type Candidate struct {
	Payload
	Score float32
}

// IngestResult summarises one ingest run.
type IngestResult struct {
	FilesTotal   int
	FilesUsable  int
	FilesFailed  int
	FailedFiles  []string
	ChunksTotal  int
	PointsStored int
}

// Source is one cited passage of a query answer, in rerank order.
type Source struct {
	Rank       int     `json:"rank"`
	File       string  `json:"file"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

// QueryResult is the full outcome of a query: the generated answer and the
// reranked passages it was grounded in.
type QueryResult struct {
	Answer  string
	Sources []Source
}
