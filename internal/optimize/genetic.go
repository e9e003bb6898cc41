package optimize

import (
	"context"
	"sort"

	"quantbt/internal/logger"
	"quantbt/internal/strategy"
)

const tournamentSize = 3

// geneticSearch evolves a fixed-size population. Each generation keeps the
// single best individual unchanged, fills the rest with tournament-selected
// crossover children, and perturbs every 10th child in one parameter. The
// loop is sequential because each generation feeds on the previous one.
func (o *Optimizer) geneticSearch(ctx context.Context, generations, populationSize int) (*Result, error) {
	population := make([]Result, 0, populationSize)
	for i := 0; i < populationSize; i++ {
		res := o.evaluateFull(ctx, randomParams(o.rng, o.ranges))
		o.recordResult(res)
		population = append(population, res)
	}

	for gen := 0; gen < generations; gen++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		sort.Slice(population, func(i, j int) bool {
			return population[i].Score > population[j].Score
		})

		next := make([]Result, 0, populationSize)
		next = append(next, population[0]) // elitism

		for i := 1; i < populationSize; i++ {
			parent1 := o.tournamentSelect(population)
			parent2 := o.tournamentSelect(population)
			child := o.crossover(parent1.Parameters, parent2.Parameters)
			if i%10 == 0 {
				child = o.mutate(child)
			}
			res := o.evaluateFull(ctx, child)
			o.recordResult(res)
			next = append(next, res)
		}
		population = next

		if gen%10 == 0 {
			if best := o.bestResult(); best != nil {
				logger.Debugf("generation %d: best=%.4f", gen, best.Score)
			}
		}
	}

	return o.bestResult(), nil
}

// tournamentSelect draws tournamentSize individuals at random and returns
// the fittest.
func (o *Optimizer) tournamentSelect(population []Result) Result {
	best := population[o.rng.Intn(len(population))]
	for i := 1; i < tournamentSize; i++ {
		candidate := population[o.rng.Intn(len(population))]
		if candidate.Score > best.Score {
			best = candidate
		}
	}
	return best
}

// crossover builds a child by a per-parameter coin flip between parents.
func (o *Optimizer) crossover(a, b strategy.Params) strategy.Params {
	child := make(strategy.Params, len(a))
	for _, key := range a.Keys() {
		if o.rng.Float64() > 0.5 {
			child[key] = a[key]
		} else {
			child[key] = b[key]
		}
	}
	return child
}

// mutate perturbs exactly one randomly chosen parameter: ints move by a
// small multiple of their step, floats by up to 10% of the range width,
// bools flip. Results are clamped back into range.
func (o *Optimizer) mutate(params strategy.Params) strategy.Params {
	mutated := params.Clone()
	keys := mutated.Keys()
	if len(keys) == 0 {
		return mutated
	}

	name := keys[o.rng.Intn(len(keys))]
	r, ok := o.ranges[name]
	if !ok {
		return mutated
	}
	v := mutated[name]

	switch r.Kind {
	case strategy.KindInt:
		delta := r.IntStep * (1 + o.rng.Intn(3))
		if o.rng.Float64() > 0.5 {
			v.Int += delta
		} else {
			v.Int -= delta
		}
		mutated[name] = r.Clamp(v)
	case strategy.KindFloat:
		width := r.FloatMax - r.FloatMin
		v.Float += width * 0.1 * (o.rng.Float64()*2 - 1)
		mutated[name] = r.Clamp(v)
	case strategy.KindBool:
		v.Bool = !v.Bool
		mutated[name] = v
	}
	return mutated
}
