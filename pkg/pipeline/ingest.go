package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/store"
)

type fileWork struct {
	path string
	name string
	hash string

	// Later paths in this batch with identical bytes. They share the first
	// occurrence's fate: counted usable when it succeeds, failed when it
	// does not.
	dupes []string
}

// Init prepares the external services for use: creates the index schema and
// warms up the reranker so the first query does not pay model-load latency.
func (p *Pipeline) Init(ctx context.Context) error {
	if err := p.deps.Index.EnsureSchema(ctx, p.config.VectorDim); err != nil {
		return err
	}
	return p.deps.Reranker.Warmup(ctx)
}

// Reset drops the vector index table and recreates an empty schema. The
// content cache is untouched, so a following ingest repopulates the index
// without re-embedding anything.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.deps.Index.Drop(ctx); err != nil {
		return err
	}
	return p.deps.Index.EnsureSchema(ctx, p.config.VectorDim)
}

// Ingest processes the given files into the cache and the vector index.
//
// Cached files are loaded sequentially first. New files run through
// extract, chunk, embed and cache-save on a bounded worker pool. A file
// that cannot be read or extracted is recorded and skipped; failures at
// the embedding, cache or index boundary abort the batch. After the index
// write, cache entries whose files are no longer in the input set are
// swept and their index points deleted.
func (p *Pipeline) Ingest(ctx context.Context, paths []string, onEvent IngestEventFunc) (*models.IngestResult, error) {
	emit := func(ev IngestEvent) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	result := &models.IngestResult{FilesTotal: len(paths)}
	live := make(map[string]bool)
	byHash := make(map[string]*fileWork)
	var works []*fileWork

	for _, path := range paths {
		name := filepath.Base(path)
		hash, err := p.deps.Cache.Hash(path)
		if err != nil {
			result.FilesFailed++
			result.FailedFiles = append(result.FailedFiles, name)
			emit(IngestEvent{Step: StepRead, State: StateError, File: name, Message: err.Error()})
			continue
		}
		live[hash] = true

		// Two input files with identical bytes are one document; the
		// first occurrence does the work.
		if first, ok := byHash[hash]; ok {
			first.dupes = append(first.dupes, name)
			continue
		}
		work := &fileWork{path: path, name: name, hash: hash}
		byHash[hash] = work
		works = append(works, work)
	}

	var cached, fresh []*fileWork
	for _, work := range works {
		hit, err := p.deps.Cache.IsCached(ctx, work.hash)
		if err != nil {
			return result, err
		}
		if hit {
			cached = append(cached, work)
		} else {
			fresh = append(fresh, work)
		}
	}

	var chunks []models.Chunk

	for _, work := range cached {
		emit(IngestEvent{Step: StepRead, State: StateActive, File: work.name})
		loaded, err := p.deps.Cache.Load(ctx, work.hash)
		if err != nil {
			emit(IngestEvent{Step: StepRead, State: StateError, File: work.name, Message: err.Error()})
			return result, err
		}
		chunks = append(chunks, loaded...)
		result.FilesUsable += 1 + len(work.dupes)
		emit(IngestEvent{Step: StepRead, State: StateDone, File: work.name})
	}

	if len(fresh) > 0 {
		freshChunks, err := p.processFresh(ctx, fresh, result, emit)
		if err != nil {
			return result, err
		}
		chunks = append(chunks, freshChunks...)
	}

	if result.FilesUsable == 0 && result.FilesTotal > 0 {
		return result, models.ErrNoUsableInput
	}
	result.ChunksTotal = len(chunks)

	emit(IngestEvent{Step: StepStore, State: StateActive})
	stored, err := p.deps.Index.Upsert(ctx, store.BuildPoints(chunks))
	if err != nil {
		emit(IngestEvent{Step: StepStore, State: StateError, Message: err.Error()})
		return result, err
	}
	result.PointsStored = stored

	removed, err := p.deps.Cache.SweepStale(ctx, live)
	if err != nil {
		emit(IngestEvent{Step: StepStore, State: StateError, Message: err.Error()})
		return result, err
	}
	for _, doc := range removed {
		if err := p.deps.Index.DeleteByFile(ctx, doc.Name); err != nil {
			emit(IngestEvent{Step: StepStore, State: StateError, Message: err.Error()})
			return result, err
		}
	}
	emit(IngestEvent{Step: StepStore, State: StateDone})

	return result, nil
}

// processFresh runs extract, chunk, embed and cache-save for new files on a
// fixed-size worker pool. Extraction failures are recorded on result and do
// not stop the batch; any other failure cancels remaining work.
func (p *Pipeline) processFresh(ctx context.Context, fresh []*fileWork, result *models.IngestResult, emit IngestEventFunc) ([]models.Chunk, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		chunks   []models.Chunk
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	jobs := make(chan *fileWork)

	workers := p.config.Workers
	if workers > len(fresh) {
		workers = len(fresh)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range jobs {
				if ctx.Err() != nil {
					return
				}
				p.processFile(ctx, work, result, &mu, &chunks, fail, emit)
			}
		}()
	}

	for _, work := range fresh {
		select {
		case jobs <- work:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return chunks, nil
}

func (p *Pipeline) processFile(ctx context.Context, work *fileWork, result *models.IngestResult, mu *sync.Mutex, chunks *[]models.Chunk, fail func(error), emit IngestEventFunc) {
	emit(IngestEvent{Step: StepRead, State: StateActive, File: work.name})
	text, err := p.deps.Extractor.Extract(work.path)
	if err != nil || strings.TrimSpace(text) == "" {
		message := "no extractable text"
		if err != nil {
			message = err.Error()
		}
		mu.Lock()
		result.FilesFailed += 1 + len(work.dupes)
		result.FailedFiles = append(result.FailedFiles, work.name)
		result.FailedFiles = append(result.FailedFiles, work.dupes...)
		mu.Unlock()
		emit(IngestEvent{Step: StepRead, State: StateError, File: work.name, Message: message})
		return
	}

	emit(IngestEvent{Step: StepChunk, State: StateActive, File: work.name})
	passages, err := p.deps.Chunker.Chunk(ctx, text)
	if err != nil {
		emit(IngestEvent{Step: StepChunk, State: StateError, File: work.name, Message: err.Error()})
		fail(err)
		return
	}

	emit(IngestEvent{Step: StepEmbed, State: StateActive, File: work.name})
	embeddings, err := p.deps.Embedder.Embed(ctx, passages)
	if err != nil {
		emit(IngestEvent{Step: StepEmbed, State: StateError, File: work.name, Message: err.Error()})
		fail(err)
		return
	}

	if err := p.deps.Cache.Save(ctx, work.hash, work.path, passages, embeddings); err != nil {
		emit(IngestEvent{Step: StepEmbed, State: StateError, File: work.name, Message: err.Error()})
		fail(err)
		return
	}

	fileChunks := make([]models.Chunk, len(passages))
	for i, passage := range passages {
		fileChunks[i] = models.Chunk{
			File:       work.name,
			ChunkIndex: i,
			Text:       passage,
			Embedding:  embeddings[i],
		}
	}

	mu.Lock()
	result.FilesUsable += 1 + len(work.dupes)
	*chunks = append(*chunks, fileChunks...)
	mu.Unlock()
	emit(IngestEvent{Step: StepEmbed, State: StateDone, File: work.name})
}
