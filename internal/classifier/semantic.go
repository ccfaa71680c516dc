package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modelrouter/internal/embedding"
)

type exemplar struct {
	subject string
	text    string
	vec     embedding.Vector
}

// Embedding scores subjects by mean cosine similarity between the query and
// each subject's exemplars. Exemplar vectors are computed once.
type Embedding struct {
	emb       embedding.Embedder
	order     []string
	exemplars []exemplar
	topK      int
}

// NewEmbedding embeds every exemplar up front.
func NewEmbedding(ctx context.Context, subjects []Subject, emb embedding.Embedder, topK int, log zerolog.Logger) (*Embedding, error) {
	if topK <= 0 {
		topK = defaultFallbackTopK
	}
	var ex []exemplar
	for _, s := range subjects {
		for _, t := range s.Exemplars {
			ex = append(ex, exemplar{subject: s.Name, text: t})
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultEmbedWorkers)
	for i := range ex {
		g.Go(func() error {
			v, err := emb.Embed(gctx, ex[i].text)
			if err != nil {
				return fmt.Errorf("embed exemplar %q: %w", ex[i].text, err)
			}
			ex[i].vec = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug().Int("exemplars", len(ex)).Int("dims", emb.Dims()).Msg("exemplars embedded")
	return &Embedding{emb: emb, order: names(subjects), exemplars: ex, topK: topK}, nil
}

func (e *Embedding) Subjects() []string { return append([]string(nil), e.order...) }

func (e *Embedding) Classify(ctx context.Context, query string) (Result, error) {
	raw, best, bestSim, err := e.score(ctx, query)
	if err != nil {
		return Result{}, err
	}
	if best == nil {
		return finish(e.order, nil, e.topK, StrategyEmbedding,
			fmt.Sprintf("no exemplar similarity; uniform over %d subjects", len(e.order))), nil
	}
	return finish(e.order, raw, e.topK, StrategyEmbedding,
		fmt.Sprintf("closest exemplar %q (%s, similarity %.2f)", best.text, best.subject, bestSim)), nil
}

// score returns per-subject mean similarity with negatives clamped to 0.
// best is nil when the query carries no signal.
func (e *Embedding) score(ctx context.Context, query string) (map[string]float64, *exemplar, float64, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil, 0, nil
	}
	qv, err := e.emb.Embed(ctx, query)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("embed query: %w", err)
	}
	sums := make(map[string]float64, len(e.order))
	counts := make(map[string]int, len(e.order))
	var (
		best    *exemplar
		bestSim float64
	)
	for i := range e.exemplars {
		ex := &e.exemplars[i]
		sim := embedding.CosineSimilarity(qv, ex.vec)
		if sim < 0 {
			sim = 0
		}
		sums[ex.subject] += sim
		counts[ex.subject]++
		if sim > bestSim {
			best, bestSim = ex, sim
		}
	}
	raw := make(map[string]float64, len(e.order))
	for _, s := range e.order {
		if counts[s] > 0 {
			raw[s] = sums[s] / float64(counts[s])
		}
	}
	return raw, best, bestSim, nil
}
