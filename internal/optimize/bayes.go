package optimize

import (
	"context"
	"math"

	"quantbt/internal/logger"
	"quantbt/internal/strategy"
)

const (
	bayesWarmupSamples = 10
	bayesCandidatePool = 100
)

// bayesianSearch runs the distance-based exploration search. After a
// uniform warmup it repeatedly samples a candidate pool and evaluates the
// candidate farthest from every observed point. There is no surrogate
// model; the acquisition is exploration-only, which keeps candidate
// selection fully reproducible for a fixed seed.
func (o *Optimizer) bayesianSearch(ctx context.Context, iterations int) (*Result, error) {
	warmup := bayesWarmupSamples
	if warmup > iterations {
		warmup = iterations
	}

	observations := make([]Result, 0, iterations)
	for i := 0; i < warmup; i++ {
		res := o.evaluateFull(ctx, randomParams(o.rng, o.ranges))
		o.recordResult(res)
		observations = append(observations, res)
	}

	for i := warmup; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		res := o.evaluateFull(ctx, o.nextExplorationPoint(observations))
		o.recordResult(res)
		observations = append(observations, res)

		if i%10 == 0 {
			if best := o.bestResult(); best != nil {
				logger.Debugf("iteration %d: best=%.4f", i, best.Score)
			}
		}
	}

	return o.bestResult(), nil
}

// nextExplorationPoint draws bayesCandidatePool uniform candidates and
// keeps the one whose nearest observed point is farthest away.
func (o *Optimizer) nextExplorationPoint(observations []Result) strategy.Params {
	bestScore := minScore
	var best strategy.Params
	for i := 0; i < bayesCandidatePool; i++ {
		candidate := randomParams(o.rng, o.ranges)
		if score := o.explorationScore(candidate, observations); score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

// explorationScore is the normalized distance from candidate to its nearest
// observation. An empty observation set scores maximal novelty.
func (o *Optimizer) explorationScore(candidate strategy.Params, observations []Result) float64 {
	if len(observations) == 0 {
		return 1.0
	}
	minDist := math.MaxFloat64
	for _, obs := range observations {
		if d := o.paramDistance(candidate, obs.Parameters); d < minDist {
			minDist = d
		}
	}
	return minDist
}

// paramDistance averages the per-key normalized distance over the keys both
// assignments share.
func (o *Optimizer) paramDistance(a, b strategy.Params) float64 {
	dist := 0.0
	count := 0
	for _, key := range a.Keys() {
		vb, ok := b[key]
		if !ok {
			continue
		}
		r, ok := o.ranges[key]
		if !ok {
			continue
		}
		dist += r.NormalizedDistance(a[key], vb)
		count++
	}
	if count == 0 {
		return math.MaxFloat64
	}
	return dist / float64(count)
}
