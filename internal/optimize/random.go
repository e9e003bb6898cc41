package optimize

import (
	"context"

	"quantbt/internal/logger"
	"quantbt/internal/strategy"
)

// randomSearch evaluates uniform samples of the parameter space. All
// candidates are drawn from the seeded generator before any worker starts,
// so a fixed seed reproduces the identical sample sequence regardless of
// scheduling.
func (o *Optimizer) randomSearch(ctx context.Context, iterations int) (*Result, error) {
	candidates := make([]strategy.Params, 0, iterations)
	for i := 0; i < iterations; i++ {
		candidates = append(candidates, randomParams(o.rng, o.ranges))
	}
	logger.Infof("random search: %d samples", iterations)
	if err := o.runPool(ctx, candidates); err != nil {
		return nil, err
	}
	return o.bestResult(), nil
}
