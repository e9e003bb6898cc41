package optimize

import (
	"context"

	"quantbt/internal/logger"
	"quantbt/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// gridSearch exhaustively evaluates the cartesian product of every
// discretized parameter range.
func (o *Optimizer) gridSearch(ctx context.Context) (*Result, error) {
	combos := gridCombinations(o.ranges)
	logger.Infof("grid search: %d combinations across %d parameters", len(combos), len(o.ranges))
	if err := o.runPool(ctx, combos); err != nil {
		return nil, err
	}
	return o.bestResult(), nil
}

// gridCombinations expands ranges into the full cartesian product. Keys are
// walked in sorted order so the combination sequence is stable.
func gridCombinations(ranges map[string]strategy.ParameterRange) []strategy.Params {
	combos := []strategy.Params{{}}
	for _, name := range sortedRangeKeys(ranges) {
		values := ranges[name].GridValues()
		next := make([]strategy.Params, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				p := base.Clone()
				p[name] = v
				next = append(next, p)
			}
		}
		combos = next
	}
	return combos
}

// runPool fans candidates out to a fixed set of workers and joins them all
// before returning, so best-result selection sees every evaluation. Workers
// share nothing mutable beyond the mutex-guarded result list and the atomic
// iteration counter.
func (o *Optimizer) runPool(ctx context.Context, candidates []strategy.Params) error {
	tasks := make(chan strategy.Params)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < o.cfg.MaxWorkers; w++ {
		g.Go(func() error {
			for params := range tasks {
				o.recordResult(o.evaluateFull(gctx, params))
				if n := o.iterations.Load(); n%50 == 0 {
					logger.Debugf("completed %d evaluations", n)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(tasks)
		for _, params := range candidates {
			select {
			case tasks <- params:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (o *Optimizer) bestResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.best == nil {
		return nil
	}
	cp := *o.best
	return &cp
}
