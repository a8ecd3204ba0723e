package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	ollamaEmbedBatchSize = 64
	ollamaEmbedDelay     = 200 * time.Millisecond
	ollamaDefaultURL     = "http://127.0.0.1:11434"
	ollamaEmbedPath      = "/api/embed"
)

// OllamaEmbedder embeds through a local Ollama server. With no configured
// dimension the first response fixes it; later vectors of another length
// are rejected since they cannot be compared with the stored ones.
type OllamaEmbedder struct {
	client   *http.Client
	model    string
	endpoint string

	mu        sync.Mutex
	dimension int
}

func NewOllamaEmbedder(model string, dim int, baseURL string) *OllamaEmbedder {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = ollamaDefaultURL
	}
	return &OllamaEmbedder{
		client:    &http.Client{Timeout: 90 * time.Second},
		model:     strings.TrimSpace(model),
		endpoint:  strings.TrimSuffix(base, ollamaEmbedPath) + ollamaEmbedPath,
		dimension: dim,
	}
}

// Dimension is zero until the first successful Embed when none was
// configured.
func (o *OllamaEmbedder) Dimension() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dimension
}

func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if o.model == "" {
		return nil, errors.New("ollama embedding model is required")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := embedBatches(ctx, texts, ollamaEmbedBatchSize, ollamaEmbedDelay, o.embedBatch)
	if err != nil {
		return nil, err
	}
	if err := o.checkDimension(vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (o *OllamaEmbedder) checkDimension(vecs [][]float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range vecs {
		if o.dimension <= 0 {
			o.dimension = len(v)
			continue
		}
		if len(v) != o.dimension {
			return fmt.Errorf("ollama returned %d-dimensional vector, expected %d", len(v), o.dimension)
		}
	}
	return nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (o *OllamaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: batch})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed ollamaEmbedResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode/100 != 2 {
		msg := parsed.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("ollama embed: decode response: %w", decodeErr)
	}
	if len(parsed.Embeddings) != len(batch) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(parsed.Embeddings), len(batch))
	}
	return parsed.Embeddings, nil
}
