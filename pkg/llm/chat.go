package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docchat/internal/models"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
}

const answerTemplate = "Use the following context to answer the question. If the context doesn't contain enough information, say so.\n\nContext:\n%s\n\nQuestion: %s"

// ChatEngine is an engine that uses an LLM to generate chat responses
// grounded in retrieved document context.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "qwen3:1.7b"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a helpful assistant that answers questions using the provided document excerpts."
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

func (ce *ChatEngine) messages(question, context string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(answerTemplate, context, question)),
	}
}

// Generate produces a complete answer to the question from the given context.
func (ce *ChatEngine) Generate(ctx context.Context, question, contextText string) (string, error) {
	response, err := ce.llm.GenerateContent(ctx, ce.messages(question, contextText),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
	if err != nil {
		return "", &models.ServiceError{Service: "generation", Err: err}
	}
	if len(response.Choices) == 0 {
		return "", &models.ServiceError{Service: "generation", Err: fmt.Errorf("empty response")}
	}
	return response.Choices[0].Content, nil
}

// GenerateStream produces the answer incrementally. Tokens arrive on the
// token channel in generation order; the channel closes when the answer is
// complete or the context is cancelled. A service failure is delivered on
// the error channel after the token channel closes, so callers drain
// tokens first and then check for an error.
func (ce *ChatEngine) GenerateStream(ctx context.Context, question, contextText string) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(tokens)

		_, err := ce.llm.GenerateContent(ctx, ce.messages(question, contextText),
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case tokens <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
		if err != nil {
			errc <- &models.ServiceError{Service: "generation", Err: err}
		}
	}()

	return tokens, errc
}
