// Package embedding turns text into vectors for similarity scoring.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and parameterizes an embedder.
type Config struct {
	Provider  string `json:"provider" yaml:"provider" toml:"provider"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty" toml:"api_key_env,omitempty"`
	Dims      int    `json:"dims,omitempty" yaml:"dims,omitempty" toml:"dims,omitempty"`
	CacheSize int    `json:"cache_size,omitempty" yaml:"cache_size,omitempty" toml:"cache_size,omitempty"`
}

// New builds the configured embedder wrapped in an LRU cache. An empty
// provider selects the offline hash embedder.
func New(cfg Config) (Embedder, error) {
	var base Embedder
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderHash:
		base = NewHashEmbedder(cfg.Dims)
	case ProviderOllama:
		base = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dims)
	case ProviderOpenAI:
		var key string
		if cfg.APIKeyEnv != "" {
			key = os.Getenv(cfg.APIKeyEnv)
		}
		base = NewOpenAIEmbedder(cfg.BaseURL, key, cfg.Model, cfg.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return NewCached(base, cfg.CacheSize)
}

// CosineSimilarity computes cosine similarity between two vectors. Vectors of
// different length or zero norm have similarity 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
