package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/cache"
	"github.com/xhad/docchat/pkg/extract"
	"github.com/xhad/docchat/pkg/pipeline"
)

// countingEmbedder produces deterministic bag-of-words vectors so related
// texts score higher on dot product than unrelated ones.
type countingEmbedder struct {
	mu    sync.Mutex
	vocab []string
	dim   int
	calls int
	texts int
}

func newCountingEmbedder(dim int, vocab ...string) *countingEmbedder {
	return &countingEmbedder{vocab: vocab, dim: dim}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, e.dim)
		lower := strings.ToLower(text)
		for j, word := range e.vocab {
			vector[j] = float32(strings.Count(lower, word))
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// sentenceChunker splits on blank lines; good enough for driving the
// orchestrator without a live boundary model.
type sentenceChunker struct{}

func (sentenceChunker) Chunk(ctx context.Context, text string) ([]string, error) {
	var chunks []string
	for _, part := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks, nil
}

type memIndex struct {
	mu     sync.Mutex
	points map[string]models.IndexPoint
}

func newMemIndex() *memIndex {
	return &memIndex{points: make(map[string]models.IndexPoint)}
}

func (m *memIndex) EnsureSchema(ctx context.Context, dimension int) error { return nil }

func (m *memIndex) Upsert(ctx context.Context, points []models.IndexPoint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, point := range points {
		m.points[point.ID] = point
	}
	return len(points), nil
}

func (m *memIndex) Query(ctx context.Context, vector []float32, limit int) ([]models.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []models.Candidate
	for _, point := range m.points {
		var score float32
		for i := range vector {
			if i < len(point.Embedding) {
				score += vector[i] * point.Embedding[i]
			}
		}
		candidates = append(candidates, models.Candidate{Payload: point.Payload, Score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *memIndex) DeleteByFile(ctx context.Context, file string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, point := range m.points {
		if point.Payload.File == file {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *memIndex) Drop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]models.IndexPoint)
	return nil
}

func (m *memIndex) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// overlapReranker scores candidates by shared words with the query.
type overlapReranker struct {
	topK   int
	called bool
}

func (r *overlapReranker) Warmup(ctx context.Context) error { return nil }

func (r *overlapReranker) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	r.called = true
	if len(candidates) == 0 {
		return nil, nil
	}
	reranked := make([]models.Candidate, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		var score float32
		for _, word := range strings.Fields(strings.ToLower(query)) {
			if strings.Contains(strings.ToLower(reranked[i].Text), word) {
				score++
			}
		}
		reranked[i].Score = score
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	if len(reranked) > r.topK {
		reranked = reranked[:r.topK]
	}
	return reranked, nil
}

type echoGenerator struct {
	called      bool
	lastContext string
}

func (g *echoGenerator) Generate(ctx context.Context, question, contextText string) (string, error) {
	g.called = true
	g.lastContext = contextText
	return "answer about " + contextText, nil
}

func (g *echoGenerator) GenerateStream(ctx context.Context, question, contextText string) (<-chan string, <-chan error) {
	g.called = true
	g.lastContext = contextText
	tokens := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(tokens)
		for _, token := range []string{"answer ", "about ", contextText} {
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			}
		}
	}()
	return tokens, errc
}

type testRig struct {
	pipeline  *pipeline.Pipeline
	embedder  *countingEmbedder
	index     *memIndex
	reranker  *overlapReranker
	generator *echoGenerator
	dir       string
}

func newTestRig(t *testing.T, dim int, vocab ...string) *testRig {
	t.Helper()
	dir := t.TempDir()

	store, err := cache.New(filepath.Join(dir, "cache", "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rig := &testRig{
		embedder:  newCountingEmbedder(dim, vocab...),
		index:     newMemIndex(),
		reranker:  &overlapReranker{topK: 3},
		generator: &echoGenerator{},
		dir:       dir,
	}
	rig.pipeline = pipeline.NewWithConfig(
		pipeline.PipelineConfig{Workers: 4, SearchLimit: 30, VectorDim: dim},
		pipeline.Deps{
			Extractor: extract.New(),
			Chunker:   sentenceChunker{},
			Cache:     store,
			Embedder:  rig.embedder,
			Index:     rig.index,
			Reranker:  rig.reranker,
			Generator: rig.generator,
		})
	return rig
}

func (r *testRig) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(r.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestIdempotent(t *testing.T) {
	rig := newTestRig(t, 8, "alpha", "beta")
	path := rig.writeFile(t, "notes.txt", "alpha one.\n\nbeta two.\n\nalpha beta three.")

	first, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first.ChunksTotal)
	assert.Equal(t, 3, first.PointsStored)
	firstIDs := rig.index.ids()

	second, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ChunksTotal, second.ChunksTotal)
	assert.Equal(t, firstIDs, rig.index.ids())
}

func TestIngestCacheHitSkipsRecompute(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha one.\n\nalpha two.")

	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	callsAfterFirst := rig.embedder.calls

	// Same bytes under a new name hash identically: a cache hit.
	copied := rig.writeFile(t, "copied.txt", "alpha one.\n\nalpha two.")
	result, err := rig.pipeline.Ingest(context.Background(), []string{copied}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesUsable)
	assert.Equal(t, callsAfterFirst, rig.embedder.calls)
}

func TestIngestChangeDetection(t *testing.T) {
	rig := newTestRig(t, 8, "alpha", "gamma")
	path := rig.writeFile(t, "notes.txt", "alpha one.")

	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	callsAfterFirst := rig.embedder.calls

	rig.writeFile(t, "notes.txt", "gamma edited content.")
	result, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesUsable)
	assert.Greater(t, rig.embedder.calls, callsAfterFirst)
}

func TestIngestStaleSweep(t *testing.T) {
	rig := newTestRig(t, 8, "alpha", "beta")
	keep := rig.writeFile(t, "keep.txt", "alpha stays.")
	drop := rig.writeFile(t, "drop.txt", "beta goes away.")

	_, err := rig.pipeline.Ingest(context.Background(), []string{keep, drop}, nil)
	require.NoError(t, err)
	require.Len(t, rig.index.ids(), 2)

	_, err = rig.pipeline.Ingest(context.Background(), []string{keep}, nil)
	require.NoError(t, err)

	candidates, err := rig.index.Query(context.Background(), []float32{1, 1, 0, 0, 0, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "keep.txt", candidates[0].File)
}

func TestIngestRecordsExtractionFailures(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	good := rig.writeFile(t, "good.txt", "alpha usable.")
	bad := rig.writeFile(t, "bad.xyz", "unsupported")

	result, err := rig.pipeline.Ingest(context.Background(), []string{good, bad}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesTotal)
	assert.Equal(t, 1, result.FilesUsable)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Equal(t, []string{"bad.xyz"}, result.FailedFiles)
}

func TestIngestAllFailed(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	bad := rig.writeFile(t, "bad.xyz", "unsupported")
	missing := filepath.Join(rig.dir, "missing.txt")

	result, err := rig.pipeline.Ingest(context.Background(), []string{bad, missing}, nil)
	require.ErrorIs(t, err, models.ErrNoUsableInput)
	assert.Equal(t, 2, result.FilesFailed)
	assert.Empty(t, rig.index.ids())
}

func TestIngestEmitsStepEvents(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha one.")

	var mu sync.Mutex
	var steps []pipeline.Step
	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, func(ev pipeline.IngestEvent) {
		mu.Lock()
		steps = append(steps, ev.Step)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Contains(t, steps, pipeline.StepRead)
	assert.Contains(t, steps, pipeline.StepChunk)
	assert.Contains(t, steps, pipeline.StepEmbed)
	assert.Contains(t, steps, pipeline.StepStore)
}

func TestResetKeepsCache(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha one.\n\nalpha two.")

	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	callsAfterFirst := rig.embedder.calls

	require.NoError(t, rig.pipeline.Reset(context.Background()))
	assert.Empty(t, rig.index.ids())

	// Repopulating after a reset comes entirely from the cache.
	result, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PointsStored)
	assert.Equal(t, callsAfterFirst, rig.embedder.calls)
}

func TestQueryNoCandidates(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")

	var stages []pipeline.Stage
	result, err := rig.pipeline.Query(context.Background(), "anything?",
		func(s pipeline.Stage) { stages = append(stages, s) }, nil)
	require.NoError(t, err)

	assert.Equal(t, models.NoContextAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.False(t, rig.generator.called)
	assert.False(t, rig.reranker.called)
	assert.Equal(t, pipeline.StageDone, stages[len(stages)-1])
}

func TestQueryStageOrder(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha facts here.")
	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)

	var stages []pipeline.Stage
	_, err = rig.pipeline.Query(context.Background(), "alpha?",
		func(s pipeline.Stage) { stages = append(stages, s) }, nil)
	require.NoError(t, err)

	assert.Equal(t, []pipeline.Stage{
		pipeline.StageEmbedding,
		pipeline.StageSearching,
		pipeline.StageReranking,
		pipeline.StageGenerating,
		pipeline.StageDone,
	}, stages)
}

func TestQueryStreamsTokens(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha facts here.")
	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)

	var streamed strings.Builder
	result, err := rig.pipeline.Query(context.Background(), "alpha?", nil,
		func(token string) { streamed.WriteString(token) })
	require.NoError(t, err)

	assert.Equal(t, result.Answer, streamed.String())
	assert.Equal(t, "answer about alpha facts here.", result.Answer)
}

func TestQueryFatalEmbeddingFailure(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	failing := &failingEmbedder{}
	p := pipeline.NewWithConfig(
		pipeline.PipelineConfig{},
		pipeline.Deps{Embedder: failing, Index: rig.index, Reranker: rig.reranker, Generator: rig.generator})

	var stages []pipeline.Stage
	_, err := p.Query(context.Background(), "alpha?",
		func(s pipeline.Stage) { stages = append(stages, s) }, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.StageError, stages[len(stages)-1])
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, question, contextText string) (string, error) {
	return "", &models.ServiceError{Service: "generation", Err: errors.New("generation service unavailable")}
}

func (failingGenerator) GenerateStream(ctx context.Context, question, contextText string) (<-chan string, <-chan error) {
	tokens := make(chan string)
	close(tokens)
	errc := make(chan error, 1)
	errc <- &models.ServiceError{Service: "generation", Err: errors.New("generation service unavailable")}
	close(errc)
	return tokens, errc
}

// emptyReranker drops every candidate while reporting success.
type emptyReranker struct{}

func (emptyReranker) Warmup(ctx context.Context) error { return nil }

func (emptyReranker) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	return nil, nil
}

func TestQueryGenerationFailure(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha facts here.")
	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)

	p := pipeline.NewWithConfig(
		pipeline.PipelineConfig{},
		pipeline.Deps{Embedder: rig.embedder, Index: rig.index, Reranker: rig.reranker, Generator: failingGenerator{}})

	var stages []pipeline.Stage
	var streamed strings.Builder
	result, err := p.Query(context.Background(), "alpha?",
		func(s pipeline.Stage) { stages = append(stages, s) },
		func(token string) { streamed.WriteString(token) })
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Empty(t, streamed.String())

	var serviceErr *models.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "generation", serviceErr.Service)

	assert.Contains(t, stages, pipeline.StageGenerating)
	assert.Equal(t, pipeline.StageError, stages[len(stages)-1])
}

func TestQueryEmptyRerankResult(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	path := rig.writeFile(t, "notes.txt", "alpha facts here.")
	_, err := rig.pipeline.Ingest(context.Background(), []string{path}, nil)
	require.NoError(t, err)

	p := pipeline.NewWithConfig(
		pipeline.PipelineConfig{},
		pipeline.Deps{Embedder: rig.embedder, Index: rig.index, Reranker: emptyReranker{}, Generator: rig.generator})

	var stages []pipeline.Stage
	result, err := p.Query(context.Background(), "alpha?",
		func(s pipeline.Stage) { stages = append(stages, s) }, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.False(t, rig.generator.called)

	var serviceErr *models.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "reranker", serviceErr.Service)
	assert.Equal(t, pipeline.StageError, stages[len(stages)-1])
}

func TestIngestDuplicateBytesShareFate(t *testing.T) {
	rig := newTestRig(t, 8, "alpha")
	first := rig.writeFile(t, "first.txt", "alpha content.")
	second := rig.writeFile(t, "second.txt", "alpha content.")

	result, err := rig.pipeline.Ingest(context.Background(), []string{first, second}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesUsable)
	assert.Equal(t, 1, result.ChunksTotal)

	// Whitespace-only bytes fail extraction; the duplicate fails with them.
	blankA := rig.writeFile(t, "blank-a.txt", "   \n  ")
	blankB := rig.writeFile(t, "blank-b.txt", "   \n  ")

	result, err = rig.pipeline.Ingest(context.Background(), []string{blankA, blankB}, nil)
	require.ErrorIs(t, err, models.ErrNoUsableInput)
	assert.Equal(t, 0, result.FilesUsable)
	assert.Equal(t, 2, result.FilesFailed)
	assert.ElementsMatch(t, []string{"blank-a.txt", "blank-b.txt"}, result.FailedFiles)
}

func TestEndToEnd(t *testing.T) {
	rig := newTestRig(t, 4096, "solar", "panels", "battery", "inverter")
	solar := rig.writeFile(t, "solar.txt",
		"solar panels convert light.\n\nsolar output peaks at noon.\n\npanels degrade slowly.\n\nsolar needs an inverter.\n\npanels face south.")
	battery := rig.writeFile(t, "battery.txt",
		"battery stores energy.\n\nbattery capacity fades.\n\nbattery pairs with solar.")

	result, err := rig.pipeline.Ingest(context.Background(), []string{solar, battery}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, result.ChunksTotal)
	assert.Equal(t, 8, result.PointsStored)

	answer, err := rig.pipeline.Query(context.Background(), "how do solar panels work?", nil, nil)
	require.NoError(t, err)

	require.Len(t, answer.Sources, 3)
	assert.Equal(t, 1, answer.Sources[0].Rank)
	assert.Equal(t, answer.Sources[0].Text, rig.generator.lastContext)
	assert.Equal(t, "solar panels convert light.", answer.Sources[0].Text)
	for _, source := range answer.Sources {
		matched := strings.Contains(source.Text, "solar") || strings.Contains(source.Text, "panels")
		assert.True(t, matched, "source %q unrelated to the question", source.Text)
	}
}
