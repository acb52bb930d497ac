// Package memory implements long-term call memory: vector embeddings over
// remembered conversation fragments, with cosine retrieval scoped per
// contact, plus rolling summary storage on the main store.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// EmbeddingProvider generates vector embeddings from text.
type EmbeddingProvider interface {
	// Embed generates embeddings for a batch of texts.
	// Returns one float32 vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of the output vectors.
	Dimensions() int

	// Name returns the provider name.
	Name() string
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedding provider ("openai" or "none").
	Provider string `yaml:"provider"`

	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string `yaml:"model"`

	// Dimensions is the output vector dimensionality.
	Dimensions int `yaml:"dimensions"`

	// APIKey is the embedding API key. If empty, falls back to
	// OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL is the API base URL. If empty, uses the provider default.
	BaseURL string `yaml:"base_url"`
}

// DefaultEmbeddingConfig returns sensible defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "none",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	}
}

// NewEmbeddingProvider creates an embedding provider from config. Unknown
// or empty providers degrade to the null provider, which disables semantic
// retrieval without failing the call pipeline.
func NewEmbeddingProvider(cfg EmbeddingConfig) EmbeddingProvider {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return &NullEmbedder{}
	}
}

// ---------- OpenAI Embedding Provider ----------

// openaiEmbedResponse is the OpenAI-compatible embeddings API response.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIEmbedder generates embeddings using the OpenAI Embeddings API.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	client     *http.Client
}

// NewOpenAIEmbedder creates an OpenAI embedding provider.
func NewOpenAIEmbedder(cfg EmbeddingConfig) *OpenAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dims,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed generates embeddings for a batch of texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	if e.dimensions > 0 {
		body["dimensions"] = e.dimensions
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("embeddings: marshal request: %w", err)
	}

	endpoint := e.baseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("embeddings: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings: API call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embeddings: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings: API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result openaiEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("embeddings: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings: API error: %s", result.Error.Message)
	}

	// Sort by index to match input order.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	return embeddings, nil
}

// Dimensions returns the output vector dimensionality.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Name returns the provider name.
func (e *OpenAIEmbedder) Name() string { return "openai" }

// ---------- Null Embedding Provider ----------

// NullEmbedder is a no-op provider that disables semantic retrieval.
type NullEmbedder struct{}

// Embed returns nil (no embeddings).
func (e *NullEmbedder) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return nil, nil
}

// Dimensions returns 0.
func (e *NullEmbedder) Dimensions() int { return 0 }

// Name returns "none".
func (e *NullEmbedder) Name() string { return "none" }

// ---------- Fallback Embedder ----------

// FallbackEmbedder wraps a primary and fallback provider. On primary
// failure it retries with the fallback; if both fail, retrieval degrades
// to summary-only context.
type FallbackEmbedder struct {
	primary  EmbeddingProvider
	fallback EmbeddingProvider
	logger   *slog.Logger
}

// NewFallbackEmbedder creates a fallback-enabled embedder.
func NewFallbackEmbedder(primary, fallback EmbeddingProvider, logger *slog.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackEmbedder{primary: primary, fallback: fallback, logger: logger}
}

// Embed tries the primary provider, falling back on error.
func (f *FallbackEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := f.primary.Embed(ctx, texts)
	if err == nil {
		return result, nil
	}
	f.logger.Warn("embedding primary failed, trying fallback",
		"primary", f.primary.Name(),
		"fallback", f.fallback.Name(),
		"error", err,
	)
	result, fallbackErr := f.fallback.Embed(ctx, texts)
	if fallbackErr == nil {
		return result, nil
	}
	return nil, fmt.Errorf("embedding: primary (%s) failed: %w; fallback (%s) failed: %v",
		f.primary.Name(), err, f.fallback.Name(), fallbackErr)
}

// Dimensions returns the primary provider's dimensions.
func (f *FallbackEmbedder) Dimensions() int { return f.primary.Dimensions() }

// Name returns "fallback:{primary}".
func (f *FallbackEmbedder) Name() string { return "fallback:" + f.primary.Name() }
