package pipeline

import (
	"github.com/xhad/docchat/internal/types"
)

// PipelineConfig represents the configuration for the orchestrator.
type PipelineConfig struct {
	Workers     int
	SearchLimit int
	VectorDim   int
}

// Deps are the boundary adapters the pipeline drives.
type Deps struct {
	Extractor types.Extractor
	Chunker   types.Chunker
	Cache     types.ContentCache
	Embedder  types.Embedder
	Index     types.VectorIndex
	Reranker  types.Reranker
	Generator types.Generator
}

// Pipeline orchestrates document ingestion and question answering across
// the extractor, chunker, cache, embedding client, vector index, reranker
// and answer generator.
type Pipeline struct {
	config PipelineConfig
	deps   Deps
}

// NewWithConfig creates a new Pipeline with the given configuration.
func NewWithConfig(config PipelineConfig, deps Deps) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = 30
	}
	if config.VectorDim <= 0 {
		config.VectorDim = 4096
	}

	return &Pipeline{
		config: config,
		deps:   deps,
	}
}

// Step identifies one phase of the ingest pipeline.
type Step string

const (
	StepRead  Step = "read"
	StepChunk Step = "chunk"
	StepEmbed Step = "embed"
	StepStore Step = "store"
)

// StepState tracks a step's progress for display.
type StepState string

const (
	StateActive StepState = "active"
	StateDone   StepState = "done"
	StateError  StepState = "error"
)

// IngestEvent reports step progress during ingestion. File is empty for
// batch-level steps like the index write.
type IngestEvent struct {
	Step    Step
	State   StepState
	File    string
	Message string
}

// IngestEventFunc receives ingest progress events. Called from worker
// goroutines; implementations must be safe for concurrent use.
type IngestEventFunc func(IngestEvent)

// Stage identifies one phase of the query pipeline.
type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageSearching  Stage = "searching"
	StageReranking  Stage = "reranking"
	StageGenerating Stage = "generating"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

// StageFunc receives query stage transitions.
type StageFunc func(Stage)

// TokenFunc receives answer tokens as generation produces them.
type TokenFunc func(string)
