package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/xhad/docchat/internal/models"
)

// RerankerConfig represents the configuration for a reranker client.
type RerankerConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	TopK    int
}

// Reranker scores query/passage pairs against a cross-encoder service and
// keeps the best candidates. More precise than the vector search that
// produced them, so it runs on the short list only.
type Reranker struct {
	config RerankerConfig
	client *http.Client
}

// NewWithConfig creates a new Reranker with the given configuration.
func NewWithConfig(config RerankerConfig) *Reranker {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8081"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.TopK <= 0 {
		config.TopK = 3
	}

	return &Reranker{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Warmup sends a trivial request so the service loads its model before the
// first real query. Failure is reported, not fatal.
func (r *Reranker) Warmup(ctx context.Context) error {
	_, err := r.score(ctx, "warmup", []string{"warmup"})
	return err
}

// Rerank scores each candidate against the query and returns the top
// candidates by cross-encoder score, best first. Candidates keep their
// payloads; only scores and order change.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	results, err := r.score(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, &models.ServiceError{
			Service: "reranker",
			Err:     fmt.Errorf("expected %d scores, got %d", len(texts), len(results)),
		}
	}

	reranked := make([]models.Candidate, 0, len(results))
	for _, result := range results {
		if result.Index < 0 || result.Index >= len(candidates) {
			return nil, &models.ServiceError{
				Service: "reranker",
				Err:     fmt.Errorf("result index %d out of range for %d candidates", result.Index, len(candidates)),
			}
		}
		c := candidates[result.Index]
		c.Score = result.Score
		reranked = append(reranked, c)
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	if len(reranked) > r.config.TopK {
		reranked = reranked[:r.config.TopK]
	}
	return reranked, nil
}

func (r *Reranker) score(ctx context.Context, query string, texts []string) ([]rerankResult, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: r.config.Model})
	if err != nil {
		return nil, &models.ServiceError{Service: "reranker", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, &models.ServiceError{Service: "reranker", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &models.ServiceError{Service: "reranker", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.ServiceError{
			Service: "reranker",
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, &models.ServiceError{Service: "reranker", Err: fmt.Errorf("decoding response: %w", err)}
	}

	return results, nil
}
