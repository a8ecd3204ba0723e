package knowledge

import (
	"context"
	"fmt"
	"strings"
)

type Options struct {
	Provider       string
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimension      int
	BaseURL        string
}

func normalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "gemini"
	}
	return p
}

// NewCompleter builds the text-generation collaborator for the provider.
// Ollama has no completer here; callers run without summaries.
func NewCompleter(ctx context.Context, opts Options) (Completer, error) {
	switch normalizeProvider(opts.Provider) {
	case "gemini":
		return NewGeminiCompleter(ctx, opts.APIKey, opts.Model)
	case "openai":
		return NewOpenAICompleter(opts.APIKey, opts.Model, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", opts.Provider)
	}
}

func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	switch normalizeProvider(opts.Provider) {
	case "gemini":
		return NewGeminiEmbedder(ctx, opts.APIKey, opts.EmbeddingModel, opts.Dimension)
	case "openai":
		return NewOpenAIEmbedder(opts.APIKey, opts.EmbeddingModel, opts.Dimension, opts.BaseURL), nil
	case "ollama":
		return NewOllamaEmbedder(opts.EmbeddingModel, opts.Dimension, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", opts.Provider)
	}
}
