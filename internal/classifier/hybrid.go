package classifier

import (
	"context"
)

// Hybrid linearly combines the embedding and keyword distributions.
type Hybrid struct {
	embed    *Embedding
	keyword  *Keyword
	wEmbed   float64
	wKeyword float64
}

// NewHybrid combines the two strategies; weights need not sum to 1.
func NewHybrid(e *Embedding, k *Keyword, wEmbed, wKeyword float64) *Hybrid {
	return &Hybrid{embed: e, keyword: k, wEmbed: wEmbed, wKeyword: wKeyword}
}

func (h *Hybrid) Subjects() []string { return h.embed.Subjects() }

func (h *Hybrid) Classify(ctx context.Context, query string) (Result, error) {
	er, err := h.embed.Classify(ctx, query)
	if err != nil {
		return Result{}, err
	}
	kr, err := h.keyword.Classify(ctx, query)
	if err != nil {
		return Result{}, err
	}
	raw := make(map[string]float64, len(h.embed.order))
	for _, s := range h.embed.order {
		raw[s] = h.wEmbed*er.SubjectScores[s] + h.wKeyword*kr.SubjectScores[s]
	}
	return finish(h.embed.order, raw, h.embed.topK, StrategyHybrid,
		"embedding: "+er.Reasoning+"; keyword: "+kr.Reasoning), nil
}
