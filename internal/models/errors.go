package models

import (
	"errors"
	"fmt"
)

// NoContextAnswer is returned as the answer when retrieval produced no
// candidates. No generation call is made in that case.
const NoContextAnswer = "No relevant context found."

var (
	// ErrUnsupportedFormat is returned by the extractor for file types it
	// does not know how to read.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrNoUsableInput means every file in an ingest batch failed
	// extraction or contained no text.
	ErrNoUsableInput = errors.New("no readable text found in any input file")
)

// ServiceError wraps a failure from one of the external services. These are
// fatal for the current pipeline run and are never retried here.
type ServiceError struct {
	Service string // "embedding", "generation", "index", "reranker"
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// CorruptBlobError means a cached embedding blob had an impossible length.
// It signals a data-integrity problem, not a transient failure.
type CorruptBlobError struct {
	ContentHash string
	ChunkIndex  int
	Length      int
}

func (e *CorruptBlobError) Error() string {
	return fmt.Sprintf("corrupt embedding blob for %s chunk %d: %d bytes is not a whole number of float32s",
		e.ContentHash, e.ChunkIndex, e.Length)
}
