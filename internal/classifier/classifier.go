// Package classifier assigns queries to subjects. Three strategies share one
// interface: keyword counting, exemplar embedding similarity and a weighted
// hybrid of the two.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"modelrouter/internal/embedding"
)

// Strategy names accepted by New.
const (
	StrategyKeyword   = "keyword"
	StrategyEmbedding = "embedding"
	StrategyHybrid    = "hybrid"
)

const (
	defaultFallbackTopK  = 2
	defaultEmbedWeight   = 0.7
	defaultKeywordWeight = 0.3
	defaultEmbedWorkers  = 4
)

// Result is the outcome of classifying one query. SubjectScores sums to 1.
type Result struct {
	PredictedSubject string             `json:"predicted_subject"`
	Confidence       float64            `json:"confidence"`
	SubjectScores    map[string]float64 `json:"subject_scores"`
	Reasoning        string             `json:"reasoning"`
	FallbackSubjects []string           `json:"fallback_subjects"`
	Strategy         string             `json:"strategy"`
}

// Classifier maps a query to a subject distribution.
type Classifier interface {
	Classify(ctx context.Context, query string) (Result, error)
	// Subjects returns the configured subject names in order.
	Subjects() []string
}

// Config selects the strategy and its knobs.
type Config struct {
	Strategy      string  `json:"strategy" yaml:"strategy" toml:"strategy"`
	FallbackTopK  int     `json:"fallback_top_k,omitempty" yaml:"fallback_top_k,omitempty" toml:"fallback_top_k,omitempty"`
	EmbedWeight   float64 `json:"embed_weight,omitempty" yaml:"embed_weight,omitempty" toml:"embed_weight,omitempty"`
	KeywordWeight float64 `json:"keyword_weight,omitempty" yaml:"keyword_weight,omitempty" toml:"keyword_weight,omitempty"`
	// SubjectsFile overrides the built-in subjects (YAML, JSON or TOML).
	SubjectsFile string `json:"subjects_file,omitempty" yaml:"subjects_file,omitempty" toml:"subjects_file,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyHybrid
	}
	if c.FallbackTopK <= 0 {
		c.FallbackTopK = defaultFallbackTopK
	}
	if c.EmbedWeight <= 0 && c.KeywordWeight <= 0 {
		c.EmbedWeight, c.KeywordWeight = defaultEmbedWeight, defaultKeywordWeight
	}
	return c
}

// New builds the classifier selected by cfg.Strategy. subjects may be nil to
// use the built-in set; emb is required for the embedding and hybrid
// strategies.
func New(ctx context.Context, cfg Config, subjects []Subject, emb embedding.Embedder, log zerolog.Logger) (Classifier, error) {
	cfg = cfg.withDefaults()
	if len(subjects) == 0 {
		subjects = DefaultSubjects()
	}
	if err := validateSubjects(subjects); err != nil {
		return nil, err
	}
	log = log.With().Str("component", "classifier").Str("strategy", cfg.Strategy).Logger()
	switch strings.ToLower(cfg.Strategy) {
	case StrategyKeyword:
		return NewKeyword(subjects, cfg.FallbackTopK), nil
	case StrategyEmbedding:
		if emb == nil {
			return nil, fmt.Errorf("classifier %s: embedder required", cfg.Strategy)
		}
		return NewEmbedding(ctx, subjects, emb, cfg.FallbackTopK, log)
	case StrategyHybrid:
		if emb == nil {
			return nil, fmt.Errorf("classifier %s: embedder required", cfg.Strategy)
		}
		ec, err := NewEmbedding(ctx, subjects, emb, cfg.FallbackTopK, log)
		if err != nil {
			return nil, err
		}
		return NewHybrid(ec, NewKeyword(subjects, cfg.FallbackTopK), cfg.EmbedWeight, cfg.KeywordWeight), nil
	default:
		return nil, fmt.Errorf("unknown classifier strategy %q", cfg.Strategy)
	}
}

// finish turns raw per-subject scores into a Result. A zero total yields the
// uniform distribution with confidence 1/N.
func finish(order []string, raw map[string]float64, topK int, strategy, reasoning string) Result {
	var total float64
	for _, s := range order {
		total += raw[s]
	}
	scores := make(map[string]float64, len(order))
	if total <= 0 {
		for _, s := range order {
			scores[s] = 1 / float64(len(order))
		}
	} else {
		for _, s := range order {
			scores[s] = raw[s] / total
		}
	}
	ranked := rank(order, scores)
	res := Result{
		PredictedSubject: ranked[0],
		Confidence:       scores[ranked[0]],
		SubjectScores:    scores,
		Reasoning:        reasoning,
		Strategy:         strategy,
	}
	rest := ranked[1:]
	if len(rest) > topK {
		rest = rest[:topK]
	}
	res.FallbackSubjects = append([]string(nil), rest...)
	return res
}

// rank sorts subjects by descending score; ties keep configured order.
func rank(order []string, scores map[string]float64) []string {
	out := append([]string(nil), order...)
	sort.SliceStable(out, func(i, j int) bool { return scores[out[i]] > scores[out[j]] })
	return out
}
