package chunker

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

// ChunkerConfig controls the semantic boundary detection. The zero value of
// each field falls back to the defaults the retrieval quality was tuned with.
type ChunkerConfig struct {
	WindowSize          int
	PercentileThreshold int
	MaxChunkSize        int
}

// Chunker splits document text into semantically coherent passages by
// embedding sliding windows of sentences and cutting where the similarity
// between consecutive windows drops below a percentile threshold.
//
// The boundary embedder is a small, fast model and is independent of the
// model used for the final chunk embeddings.
type Chunker struct {
	config   ChunkerConfig
	boundary types.Embedder
}

func NewWithConfig(config ChunkerConfig, boundary types.Embedder) *Chunker {
	if config.WindowSize == 0 {
		config.WindowSize = 3
	}
	if config.PercentileThreshold == 0 {
		config.PercentileThreshold = 25
	}
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = 2000
	}
	return &Chunker{
		config:   config,
		boundary: boundary,
	}
}

// Abbreviations whose trailing period must not end a sentence.
var abbreviationRe = regexp.MustCompile(`(?:Mr|Mrs|Ms|Dr|Prof|Sr|Jr|St|vs|etc|Inc|Ltd|Corp|approx|dept|est|govt|misc)\.`)

const periodToken = "\x00PERIOD\x00"

// SplitSentences splits text on sentence-ending punctuation followed by
// whitespace, protecting the periods of common abbreviations.
func SplitSentences(text string) []string {
	protected := abbreviationRe.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, ".", periodToken)
	})

	var raw []string
	start := 0
	for i := 0; i < len(protected); i++ {
		c := protected[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(protected) && isSpace(protected[i+1]) {
			raw = append(raw, protected[start:i+1])
			start = i + 1
		}
	}
	raw = append(raw, protected[start:])

	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(strings.ReplaceAll(s, periodToken, "."))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Chunk splits text into passages. Deterministic for fixed text, parameters,
// and boundary model. The only failure mode is the boundary embedding call.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	sentences := SplitSentences(text)

	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []string{sentences[0]}, nil
	}
	if len(sentences) <= c.config.WindowSize {
		return []string{strings.Join(sentences, " ")}, nil
	}

	windows := make([]string, 0, len(sentences)-c.config.WindowSize+1)
	for i := 0; i+c.config.WindowSize <= len(sentences); i++ {
		windows = append(windows, strings.Join(sentences[i:i+c.config.WindowSize], " "))
	}

	embeddings, err := c.boundary.Embed(ctx, windows)
	if err != nil {
		return nil, &models.ServiceError{Service: "embedding", Err: err}
	}
	for i := range embeddings {
		normalize(embeddings[i])
	}

	// Cosine similarity between consecutive windows; the vectors are unit
	// length so the dot product is enough.
	similarities := make([]float32, 0, len(embeddings)-1)
	for i := 0; i+1 < len(embeddings); i++ {
		similarities = append(similarities, dot(embeddings[i], embeddings[i+1]))
	}
	if len(similarities) == 0 {
		return []string{strings.Join(sentences, " ")}, nil
	}

	threshold := percentile(similarities, c.config.PercentileThreshold)

	// similarities[i] compares the windows starting at sentences i and i+1,
	// so a breakpoint there means a cut after sentence i+WindowSize-1.
	breakpoints := make(map[int]bool)
	for i, sim := range similarities {
		if sim <= threshold {
			splitAfter := i + c.config.WindowSize - 1
			if splitAfter < len(sentences) {
				breakpoints[splitAfter] = true
			}
		}
	}

	var chunks []string
	var current []string
	for i, sentence := range sentences {
		current = append(current, sentence)
		if breakpoints[i] {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return c.splitOversized(chunks), nil
}

// splitOversized bisects every passage longer than MaxChunkSize at its
// midpoint sentence into exactly two passages. Character count, not a
// second semantic pass.
func (c *Chunker) splitOversized(chunks []string) []string {
	final := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk) <= c.config.MaxChunkSize {
			final = append(final, chunk)
			continue
		}
		sentences := SplitSentences(chunk)
		if len(sentences) < 2 {
			final = append(final, chunk)
			continue
		}
		mid := len(sentences) / 2
		final = append(final,
			strings.Join(sentences[:mid], " "),
			strings.Join(sentences[mid:], " "))
	}
	return final
}

// percentile returns the p-th percentile of values by the nearest-rank
// method: rank = max(0, floor(n*p/100) - 1) over the ascending sort.
func percentile(values []float32, p int) float32 {
	sorted := make([]float32, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := len(sorted) * p / 100
	if index > 0 {
		index--
	}
	return sorted[index]
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
