package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Reranker.BaseURL != "" {
		if _, err := url.Parse(c.Reranker.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "reranker.base_url",
				Message: "invalid reranker base URL",
			})
		}
	}

	if c.Reranker.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "reranker.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Chunker.WindowSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.window_size",
			Message: "window_size must be positive",
		})
	}

	if c.Chunker.PercentileThreshold < 1 || c.Chunker.PercentileThreshold > 100 {
		errors = append(errors, ValidationError{
			Field:   "chunker.percentile_threshold",
			Message: "percentile_threshold must be between 1 and 100",
		})
	}

	if c.Chunker.MaxChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.max_chunk_size",
			Message: "max_chunk_size must be positive",
		})
	}

	if c.Ingest.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.workers",
			Message: "workers must be positive",
		})
	}

	if c.Ingest.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.search_limit",
			Message: "search_limit must be positive",
		})
	}

	return errors
}
