package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"

	"github.com/xhad/docchat/internal/models"
)

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	RateLimit float64
}

// Embedder turns text into vectors via an Ollama embedding model. Calls
// are rate limited so batch ingestion does not overwhelm the server.
type Embedder struct {
	config  EmbedderConfig
	llm     *ollama.LLM
	limiter *rate.Limiter
}

// NewEmbedderWithConfig creates a new Embedder with the given configuration.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "qwen3-embedding"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 4.0
	}

	emb, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return &Embedder{
		config:  config,
		llm:     emb,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	embeddings, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, &models.ServiceError{Service: "embedding", Err: err}
	}
	if len(embeddings) != len(texts) {
		return nil, &models.ServiceError{
			Service: "embedding",
			Err:     fmt.Errorf("expected %d vectors, got %d", len(texts), len(embeddings)),
		}
	}

	return embeddings, nil
}
