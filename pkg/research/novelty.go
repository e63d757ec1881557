package research

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepscout/deepscout/pkg/embedding"
	"github.com/deepscout/deepscout/pkg/models"
)

// duplicateMarker annotates the single finding kept when every new finding
// in a step duplicated prior work, so the step is not left empty.
const duplicateMarker = " [closest to prior findings]"

// NoveltyFilter drops findings that restate what earlier steps already
// established, using embedding cosine similarity. Advisory: any provider
// failure disables the filter for the call and all findings are retained.
type NoveltyFilter struct {
	engine    embedding.Engine
	threshold float64
	logger    *slog.Logger

	// Per-session cache so each prior finding is embedded once per run.
	cache map[string][]float32
}

// NewNoveltyFilter creates a filter with the given similarity threshold.
func NewNoveltyFilter(engine embedding.Engine, threshold float64, logger *slog.Logger) *NoveltyFilter {
	if threshold <= 0 {
		threshold = 0.85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NoveltyFilter{
		engine:    engine,
		threshold: threshold,
		logger:    logger.With("component", "novelty_filter"),
		cache:     make(map[string][]float32),
	}
}

// Apply filters entry's points of interest against all prior entries'
// points. Priors are never modified. If every new point is dropped, the one
// with the highest similarity is kept with a marker appended. A provider
// failure retains all points and is reported as a wrapped
// embedding.ErrUnavailable for the caller to surface.
func (f *NoveltyFilter) Apply(ctx context.Context, entry *models.Findings, priors []models.ScratchpadEntry) error {
	if f.engine == nil || len(entry.PointsOfInterest) == 0 {
		return nil
	}

	var priorTexts []string
	for _, p := range priors {
		priorTexts = append(priorTexts, p.Findings.PointsOfInterest...)
	}
	if len(priorTexts) == 0 {
		return nil
	}

	priorVecs, err := f.embedCached(ctx, priorTexts)
	if err != nil {
		f.logger.Warn("Embedding provider unavailable, skipping novelty filter", "error", err)
		return fmt.Errorf("%w: %v", embedding.ErrUnavailable, err)
	}
	newVecs, err := f.engine.EmbedBatch(ctx, entry.PointsOfInterest)
	if err != nil {
		f.logger.Warn("Embedding provider unavailable, skipping novelty filter", "error", err)
		return fmt.Errorf("%w: %v", embedding.ErrUnavailable, err)
	}

	var kept []string
	bestIdx, bestSim := -1, -1.0
	for i, point := range entry.PointsOfInterest {
		maxSim := maxSimilarity(newVecs[i], priorVecs)
		if maxSim > bestSim {
			bestSim, bestIdx = maxSim, i
		}
		if maxSim >= f.threshold {
			f.logger.Info("Dropping duplicate finding",
				"finding", point, "similarity", maxSim)
			continue
		}
		kept = append(kept, point)
	}

	if len(kept) == 0 && bestIdx >= 0 {
		kept = []string{entry.PointsOfInterest[bestIdx] + duplicateMarker}
	}
	entry.PointsOfInterest = kept
	return nil
}

// embedCached embeds texts, reusing per-session cached vectors.
func (f *NoveltyFilter) embedCached(ctx context.Context, texts []string) ([][]float32, error) {
	var missing []string
	for _, t := range texts {
		if _, ok := f.cache[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		vecs, err := f.engine.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for i, t := range missing {
			f.cache[t] = vecs[i]
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.cache[t]
	}
	return out, nil
}

func maxSimilarity(vec []float32, priors [][]float32) float64 {
	best := -1.0
	for _, p := range priors {
		sim, err := embedding.CosineSimilarity(vec, p)
		if err != nil {
			continue
		}
		if sim > best {
			best = sim
		}
	}
	return best
}
