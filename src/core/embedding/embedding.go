package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"docchat/src/core/failure"
	"docchat/src/log"
)

// DefaultMaxInputChars bounds a single embedding input when no limit is configured.
const DefaultMaxInputChars = 8000

// ErrModelInput is returned for empty inputs and inputs above the gateway limit.
var ErrModelInput = fmt.Errorf("%w: model input rejected", failure.ErrEmbedding)

// Gateway wraps the remote embedding service. The model is fixed for the process.
type Gateway struct {
	embedder      embeddings.Embedder
	model         string
	maxInputChars int
}

func NewGateway(embedder embeddings.Embedder, model string, maxInputChars int) *Gateway {
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return &Gateway{
		embedder:      embedder,
		model:         model,
		maxInputChars: maxInputChars,
	}
}

// NewOllamaGateway builds a gateway backed by an Ollama server through langchaingo.
func NewOllamaGateway(serverURL, model string, batchSize, maxInputChars int) (*Gateway, error) {
	client, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedding client: %w", err)
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return NewGateway(embedder, model, maxInputChars), nil
}

// Model returns the embedding model identity recorded in index snapshots.
func (g *Gateway) Model() string {
	return g.model
}

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.checkInput(text); err != nil {
		return nil, err
	}

	vector, err := g.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", failure.ErrEmbedding, g.model, err)
	}
	return vector, nil
}

// EmbedBatch embeds texts in order; the i-th vector belongs to the i-th text.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, text := range texts {
		if err := g.checkInput(text); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}

	log.Debug("generating embeddings", "model", g.model, "count", len(texts))
	vectors, err := g.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", failure.ErrEmbedding, g.model, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: model %s returned %d vectors for %d texts", failure.ErrEmbedding, g.model, len(vectors), len(texts))
	}
	return vectors, nil
}

func (g *Gateway) checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", ErrModelInput)
	}
	if n := utf8.RuneCountInString(text); n > g.maxInputChars {
		return fmt.Errorf("%w: %d characters exceeds limit of %d", ErrModelInput, n, g.maxInputChars)
	}
	return nil
}
