package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaServer(t *testing.T, dim func(input string) int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
			return
		}
		resp := ollamaEmbedResponse{}
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, make([]float32, dim(in)))
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_LearnsDimensionConcurrently(t *testing.T) {
	srv := ollamaServer(t, func(string) int { return 3 })
	e := NewOllamaEmbedder("nomic-embed-text", 0, srv.URL+"/")
	assert.Zero(t, e.Dimension())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vecs, err := e.Embed(context.Background(), []string{"a", "b"})
			assert.NoError(t, err)
			assert.Len(t, vecs, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, e.Dimension())
}

func TestOllamaEmbedder_RejectsDimensionChange(t *testing.T) {
	srv := ollamaServer(t, func(in string) int {
		if in == "wide" {
			return 5
		}
		return 3
	})
	e := NewOllamaEmbedder("nomic-embed-text", 0, srv.URL+"/api/embed")

	_, err := e.Embed(context.Background(), []string{"narrow"})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), []string{"wide"})
	assert.ErrorContains(t, err, "expected 3")

	fixed := NewOllamaEmbedder("nomic-embed-text", 5, srv.URL)
	_, err = fixed.Embed(context.Background(), []string{"narrow"})
	assert.ErrorContains(t, err, "3-dimensional")
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	srv := ollamaServer(t, func(string) int { return 3 })

	_, err := NewOllamaEmbedder("", 0, srv.URL).Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "model is required")

	_, err = NewOllamaEmbedder("missing", 0, srv.URL).Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, `status 404: model "missing" not found`)

	vecs, err := NewOllamaEmbedder("m", 0, srv.URL).Embed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}
