package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/xhad/docchat/internal/models"
)

// Query answers a question against the ingested documents.
//
// Stages run strictly in order: embed the question, search the index,
// rerank the candidates, then stream the answer grounded in the single
// best passage. onStage reports transitions; onToken receives answer
// tokens as generation produces them. Both may be nil. When the search
// returns nothing, the fixed no-context answer is returned and no
// generation call is made.
func (p *Pipeline) Query(ctx context.Context, question string, onStage StageFunc, onToken TokenFunc) (*models.QueryResult, error) {
	stage := func(s Stage) {
		if onStage != nil {
			onStage(s)
		}
	}
	failed := func(err error) (*models.QueryResult, error) {
		stage(StageError)
		return nil, err
	}

	stage(StageEmbedding)
	vectors, err := p.deps.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return failed(err)
	}

	stage(StageSearching)
	candidates, err := p.deps.Index.Query(ctx, vectors[0], p.config.SearchLimit)
	if err != nil {
		return failed(err)
	}
	if len(candidates) == 0 {
		stage(StageDone)
		return &models.QueryResult{Answer: models.NoContextAnswer}, nil
	}

	stage(StageReranking)
	top, err := p.deps.Reranker.Rerank(ctx, question, candidates)
	if err != nil {
		return failed(err)
	}
	if len(top) == 0 {
		return failed(&models.ServiceError{
			Service: "reranker",
			Err:     errors.New("no candidates survived reranking"),
		})
	}

	stage(StageGenerating)
	tokens, errc := p.deps.Generator.GenerateStream(ctx, question, top[0].Text)

	var answer strings.Builder
	for token := range tokens {
		answer.WriteString(token)
		if onToken != nil {
			onToken(token)
		}
	}
	if err := <-errc; err != nil {
		return failed(err)
	}
	if err := ctx.Err(); err != nil {
		return failed(err)
	}

	sources := make([]models.Source, len(top))
	for i, candidate := range top {
		sources[i] = models.Source{
			Rank:       i + 1,
			File:       candidate.File,
			ChunkIndex: candidate.ChunkIndex,
			Score:      candidate.Score,
			Text:       candidate.Text,
		}
	}

	stage(StageDone)
	return &models.QueryResult{
		Answer:  answer.String(),
		Sources: sources,
	}, nil
}
