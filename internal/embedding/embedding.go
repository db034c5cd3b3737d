// Package embedding derives fixed-length vectors from text
// deterministically and measures similarity between them.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Normalization modes.
const (
	NormalizationL2   = "l2"
	NormalizationNone = "none"
)

// Defaults for the hash backend.
const (
	DefaultBackend          = "hash"
	DefaultModel            = "token-hash-v1"
	DefaultDims             = 384
	DefaultMaxContentLength = 8192
)

// ErrIncompatibleEmbedding marks a vector produced under a different
// config than the one in hand. Vector spaces are never mixed silently.
var ErrIncompatibleEmbedding = errors.New("incompatible embedding config")

// Config identifies an embedding space. Two vectors are comparable only
// when their configs share a fingerprint.
type Config struct {
	Backend          string `json:"backend" yaml:"backend"`
	Model            string `json:"model" yaml:"model"`
	Dims             int    `json:"dims" yaml:"dims"`
	Normalization    string `json:"normalization" yaml:"normalization"`
	MaxContentLength int    `json:"max_content_length" yaml:"max_content_length"`
}

// DefaultConfig returns the deterministic hash backend config.
func DefaultConfig() Config {
	return Config{
		Backend:          DefaultBackend,
		Model:            DefaultModel,
		Dims:             DefaultDims,
		Normalization:    NormalizationL2,
		MaxContentLength: DefaultMaxContentLength,
	}
}

// Fingerprint identifies the vector space this config produces. It must
// match the fingerprint format stored on envelopes.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%d/%s", c.Backend, c.Model, c.Dims, c.Normalization)
}

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
	Config() Config
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero vectors return 0; callers validate
// dimensions before comparing in production paths.
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

// Normalize lowercases text, replaces control runes with spaces,
// collapses whitespace runs, and truncates to maxLen runes. The
// normalized form is the embedding input and the cache key material.
func Normalize(text string, maxLen int) string {
	lower := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, text)

	s := strings.Join(strings.Fields(lower), " ")
	if maxLen > 0 {
		runes := []rune(s)
		if len(runes) > maxLen {
			s = string(runes[:maxLen])
		}
	}
	return s
}

// HashEmbedder derives vectors by token feature hashing: FNV-1a over
// each normalized token selects a bucket and a sign, counts accumulate,
// and the result is optionally L2-normalized. A pure function of
// (Normalize(text), config): bit-identical across runs and platforms.
type HashEmbedder struct {
	cfg Config
}

// NewHashEmbedder validates the config and returns a hash embedder.
// A zero config gets the defaults.
func NewHashEmbedder(cfg Config) (*HashEmbedder, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("dims must be positive, got %d", cfg.Dims)
	}
	switch cfg.Normalization {
	case NormalizationL2, NormalizationNone:
	case "":
		cfg.Normalization = NormalizationL2
	default:
		return nil, fmt.Errorf("unknown normalization %q", cfg.Normalization)
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	return &HashEmbedder{cfg: cfg}, nil
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, e.cfg.Dims)
	for _, tok := range strings.Fields(Normalize(text, e.cfg.MaxContentLength)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.cfg.Dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	if e.cfg.Normalization == NormalizationL2 {
		l2Normalize(vec)
	}
	return vec, nil
}

func (e *HashEmbedder) Dims() int { return e.cfg.Dims }

func (e *HashEmbedder) Config() Config { return e.cfg }

// l2Normalize scales vec to unit length in place. Zero vectors stay
// zero.
func l2Normalize(vec Vector) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
