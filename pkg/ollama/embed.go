// Package ollama provides text embeddings through Ollama's HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyEmbedding is returned when Ollama answers without a vector.
var ErrEmptyEmbedding = errors.New("ollama: empty embedding")

// EmbedClient computes embeddings with a local Ollama model.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string) *EmbedClient {
	return &EmbedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Model returns the embedding model name.
func (c *EmbedClient) Model() string { return c.model }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed returns the embedding of text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	var result ollamaEmbedResp
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", decodeErr)
	}
	if len(result.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds texts one by one, stopping at the first failure.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vals, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}
