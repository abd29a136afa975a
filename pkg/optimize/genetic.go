// Evolutionary optimizer core: a generational state machine over
// parameter sets with barrier-synchronized parallel fitness evaluation.
package optimize

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfoundry/tuner/internal/telemetry"
)

// ============================================================================
// FITNESS
// ============================================================================

// FitnessFunc scores one parameter set; higher is always better. It may be
// slow and it may fail: a failing call costs that individual the sentinel
// fitness, never the run.
type FitnessFunc func(ParameterSet) (float64, error)

// ============================================================================
// POPULATION
// ============================================================================

// Individual pairs a parameter set with its fitness. Fitness is nil until
// the individual has been evaluated.
type Individual struct {
	Params  ParameterSet `json:"params"`
	Fitness *float64     `json:"fitness"`
}

// Population is an ordered sequence of individuals. Its length equals the
// configured population size at every generation, including generation 0
// and the final one.
type Population []Individual

// ============================================================================
// GENERATION RECORDS
// ============================================================================

// GenerationRecord summarizes one completed generation. It is an audit
// artifact only and is never consumed by the algorithm.
type GenerationRecord struct {
	Generation int           `json:"generation"`
	Best       float64       `json:"best"`
	Mean       float64       `json:"mean"`
	StdDev     float64       `json:"std_dev"`
	Elapsed    time.Duration `json:"elapsed"`
	TopK       []Individual  `json:"top_k"`
}

// Observer receives per-generation summaries
type Observer interface {
	OnGeneration(GenerationRecord)
}

type logObserver struct{}

func (logObserver) OnGeneration(rec GenerationRecord) {
	log.Info().
		Int("generation", rec.Generation).
		Float64("best", rec.Best).
		Float64("mean", rec.Mean).
		Float64("std_dev", rec.StdDev).
		Dur("elapsed", rec.Elapsed).
		Msg("Generation complete")
}

// ============================================================================
// CONFIGURATION
// ============================================================================

// GeneticConfig configures one evolutionary optimizer run
type GeneticConfig struct {
	PopulationSize   int     `json:"population_size" mapstructure:"population_size"`
	Generations      int     `json:"generations" mapstructure:"generations"`
	CrossoverRate    float64 `json:"crossover_rate" mapstructure:"crossover_rate"`
	MutationRate     float64 `json:"mutation_rate" mapstructure:"mutation_rate"`
	MutationStrength float64 `json:"mutation_strength" mapstructure:"mutation_strength"`
	ElitismCount     int     `json:"elitism_count" mapstructure:"elitism_count"`
	TournamentSize   int     `json:"tournament_size" mapstructure:"tournament_size"`
	TopK             int     `json:"top_k" mapstructure:"top_k"`
	Workers          int     `json:"workers" mapstructure:"workers"`
	Seed             int64   `json:"seed" mapstructure:"seed"`
}

// DefaultGeneticConfig returns the default optimizer settings
func DefaultGeneticConfig() GeneticConfig {
	return GeneticConfig{
		PopulationSize:   50,
		Generations:      20,
		CrossoverRate:    0.7,
		MutationRate:     0.1,
		MutationStrength: 0.2,
		ElitismCount:     2,
		TournamentSize:   3,
		TopK:             5,
	}
}

// Validate checks the optimizer settings, failing fast before any
// evaluation starts
func (c GeneticConfig) Validate() error {
	if c.PopulationSize < 2 {
		return &ConfigurationError{Reason: "population size must be at least 2"}
	}
	if c.Generations < 1 {
		return &ConfigurationError{Reason: "at least one generation is required"}
	}
	if c.ElitismCount < 0 || c.ElitismCount >= c.PopulationSize {
		return &ConfigurationError{Reason: "elitism count must be in [0, population size)"}
	}
	if c.TournamentSize < 1 {
		return &ConfigurationError{Reason: "tournament size must be at least 1"}
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return &ConfigurationError{Reason: "crossover rate must be in [0, 1]"}
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return &ConfigurationError{Reason: "mutation rate must be in [0, 1]"}
	}
	if c.MutationStrength < 0 {
		return &ConfigurationError{Reason: "mutation strength must not be negative"}
	}
	return nil
}

// ============================================================================
// RESULTS
// ============================================================================

// OptimizationResult is the outcome of one optimizer run. Population and
// Fitness are index-aligned.
type OptimizationResult struct {
	RunID        uuid.UUID          `json:"run_id"`
	Population   Population         `json:"population"`
	Fitness      []float64          `json:"fitness"`
	Best         Individual         `json:"best"`
	Records      []GenerationRecord `json:"records"`
	EarlyStopped bool               `json:"early_stopped"`
	Duration     time.Duration      `json:"duration"`
}

// ============================================================================
// OPTIMIZER
// ============================================================================

// GeneticOptimizer evolves parameter sets against an injected fitness
// function. Each optimizer owns its RNG exclusively; every randomized
// draw (seeding, tournaments, crossover coin-flips, mutation noise)
// happens on the coordinating goroutine, so runs are reproducible for a
// fixed seed regardless of worker count.
type GeneticOptimizer struct {
	cfg      GeneticConfig
	ranges   Ranges
	names    []string
	fitness  FitnessFunc
	rng      *rand.Rand
	observer Observer
}

// NewGeneticOptimizer validates the configuration and ranges and creates
// an optimizer. A zero seed selects a time-based seed; a zero worker
// count defaults to cores-1, minimum 1.
func NewGeneticOptimizer(cfg GeneticConfig, ranges Ranges, fitness FitnessFunc) (*GeneticOptimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ranges.Validate(); err != nil {
		return nil, err
	}
	if fitness == nil {
		return nil, &ConfigurationError{Reason: "fitness function is required"}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() - 1
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &GeneticOptimizer{
		cfg:      cfg,
		ranges:   ranges,
		names:    ranges.sortedNames(),
		fitness:  fitness,
		rng:      rand.New(rand.NewSource(seed)), // #nosec G404 -- Non-cryptographic use: the optimizer needs reproducible randomness
		observer: logObserver{},
	}, nil
}

// SetObserver replaces the default logging observer. The observer never
// influences algorithm behavior.
func (o *GeneticOptimizer) SetObserver(obs Observer) {
	if obs != nil {
		o.observer = obs
	}
}

// Optimize runs the full generational loop and returns the final
// population with its index-aligned fitness vector. Seed individuals are
// copied verbatim into generation 0; the remaining slots are filled with
// uniform draws bounded by the ranges. Cancellation is observed at
// generation boundaries and returns the best result obtained so far with
// EarlyStopped set.
func (o *GeneticOptimizer) Optimize(ctx context.Context, seeds []ParameterSet) (*OptimizationResult, error) {
	start := time.Now()
	for _, s := range seeds {
		if err := o.ranges.CheckSet(s); err != nil {
			return nil, err
		}
	}

	runID := uuid.New()
	log.Info().
		Str("run_id", runID.String()).
		Int("population", o.cfg.PopulationSize).
		Int("generations", o.cfg.Generations).
		Int("workers", o.cfg.Workers).
		Float64("crossover_rate", o.cfg.CrossoverRate).
		Float64("mutation_rate", o.cfg.MutationRate).
		Msg("Starting genetic optimization")

	pop := o.seedPopulation(seeds)
	records := make([]GenerationRecord, 0, o.cfg.Generations)

	var (
		evaluated    Population
		scores       []float64
		earlyStopped bool
	)
	for gen := 0; gen < o.cfg.Generations; gen++ {
		if ctx.Err() != nil {
			earlyStopped = true
			break
		}
		genStart := time.Now()
		scores = o.evaluate(pop)
		evaluated = pop

		rec := o.makeRecord(gen, pop, scores, time.Since(genStart))
		records = append(records, rec)
		o.observer.OnGeneration(rec)
		telemetry.Generations.Inc()

		pop = o.breed(pop, scores)
	}

	var finalScores []float64
	if earlyStopped {
		if evaluated == nil {
			// Cancelled before the first generation: nothing was evaluated,
			// there is no best-so-far to return.
			return nil, ctx.Err()
		}
		pop, finalScores = evaluated, scores
	} else {
		// One more full pass over the final population. Fitness is not
		// assumed perfectly deterministic, so scores inherited from the
		// breeding generation could be stale.
		finalScores = o.evaluate(pop)
	}

	bestIdx := rankedIndices(finalScores)[0]
	res := &OptimizationResult{
		RunID:        runID,
		Population:   pop,
		Fitness:      finalScores,
		Best:         cloneIndividual(pop[bestIdx]),
		Records:      records,
		EarlyStopped: earlyStopped,
		Duration:     time.Since(start),
	}

	log.Info().
		Str("run_id", runID.String()).
		Float64("best_fitness", finalScores[bestIdx]).
		Bool("early_stopped", earlyStopped).
		Dur("duration", res.Duration).
		Msg("Genetic optimization complete")

	return res, nil
}

// ============================================================================
// INIT
// ============================================================================

// seedPopulation copies up to PopulationSize seed individuals verbatim,
// then fills the remaining slots with independent uniform draws.
func (o *GeneticOptimizer) seedPopulation(seeds []ParameterSet) Population {
	pop := make(Population, 0, o.cfg.PopulationSize)
	for _, s := range seeds {
		if len(pop) == o.cfg.PopulationSize {
			break
		}
		pop = append(pop, Individual{Params: s.Clone()})
	}
	for len(pop) < o.cfg.PopulationSize {
		pop = append(pop, Individual{Params: o.randomParams()})
	}
	return pop
}

func (o *GeneticOptimizer) randomParams() ParameterSet {
	ps := make(ParameterSet, len(o.names))
	for _, name := range o.names {
		r := o.ranges[name]
		switch r.Kind {
		case KindInt:
			lo := int(math.Ceil(r.Min))
			hi := int(math.Floor(r.Max))
			ps[name] = lo + o.rng.Intn(hi-lo+1)
		default:
			ps[name] = r.Min + o.rng.Float64()*(r.Max-r.Min)
		}
	}
	return ps
}

// ============================================================================
// EVALUATE
// ============================================================================

// evaluate scores every member of the population on a bounded worker
// pool and blocks until all results are collected. Results land at their
// original population index, so evaluation order cannot affect the
// algorithm. With Workers == 1 this degrades to a sequential loop.
func (o *GeneticOptimizer) evaluate(pop Population) []float64 {
	scores := make([]float64, len(pop))

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i := range pop {
		idx := i
		params := pop[idx].Params
		g.Go(func() error {
			scores[idx] = o.safeEval(params)
			return nil
		})
	}
	_ = g.Wait() // hard barrier: the next generation needs the complete fitness vector

	for i := range pop {
		v := scores[i]
		pop[i].Fitness = &v
	}
	return scores
}

// safeEval invokes the fitness function, converting errors and panics
// into the sentinel fitness so one bad individual never halts the run.
func (o *GeneticOptimizer) safeEval(params ParameterSet) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.EvaluationFailures.Inc()
			log.Warn().Interface("panic", r).Interface("params", params).Msg("Fitness evaluation panicked")
			score = SentinelFitness
		}
	}()

	telemetry.Evaluations.Inc()
	v, err := o.fitness(params)
	if err != nil {
		telemetry.EvaluationFailures.Inc()
		log.Warn().Err(err).Interface("params", params).Msg("Fitness evaluation failed")
		return SentinelFitness
	}
	if math.IsNaN(v) {
		telemetry.EvaluationFailures.Inc()
		log.Warn().Interface("params", params).Msg("Fitness evaluation returned NaN")
		return SentinelFitness
	}
	return v
}

// ============================================================================
// SELECT + BREED
// ============================================================================

// breed produces the next generation of exactly PopulationSize
// individuals: elitism first, then tournament-selected parents crossed
// over and mutated until the population is full.
func (o *GeneticOptimizer) breed(pop Population, scores []float64) Population {
	next := make(Population, 0, o.cfg.PopulationSize)

	ranked := rankedIndices(scores)
	for _, i := range ranked[:o.cfg.ElitismCount] {
		next = append(next, Individual{Params: pop[i].Params.Clone()})
	}

	for len(next) < o.cfg.PopulationSize {
		p1 := o.tournament(pop, scores)
		p2 := o.tournament(pop, scores)

		c1, c2 := o.crossover(p1, p2)
		c1 = o.mutate(c1)
		c2 = o.mutate(c2)

		next = append(next, Individual{Params: c1})
		if len(next) < o.cfg.PopulationSize {
			next = append(next, Individual{Params: c2})
		}
	}
	return next
}

// tournament samples TournamentSize individuals uniformly at random and
// returns the parameters of the fittest. Ties keep the first-encountered
// contestant.
func (o *GeneticOptimizer) tournament(pop Population, scores []float64) ParameterSet {
	best := o.rng.Intn(len(pop))
	for i := 1; i < o.cfg.TournamentSize; i++ {
		c := o.rng.Intn(len(pop))
		if scores[c] > scores[best] {
			best = c
		}
	}
	return pop[best].Params
}

// crossover applies uniform crossover with probability CrossoverRate:
// each parameter independently has a 50% chance of swapping between the
// two parents. When crossover does not trigger the offspring are exact
// copies. The parents are never modified.
func (o *GeneticOptimizer) crossover(p1, p2 ParameterSet) (ParameterSet, ParameterSet) {
	c1, c2 := p1.Clone(), p2.Clone()
	if o.rng.Float64() >= o.cfg.CrossoverRate {
		return c1, c2
	}
	for _, name := range o.names {
		if o.rng.Float64() < 0.5 {
			c1[name], c2[name] = c2[name], c1[name]
		}
	}
	return c1, c2
}

// mutate perturbs each parameter independently with probability
// MutationRate, adding Gaussian noise scaled by MutationStrength times
// the parameter's range width, then clamping to the range (integer
// parameters are additionally rounded). Returns a new set.
func (o *GeneticOptimizer) mutate(ps ParameterSet) ParameterSet {
	out := ps.Clone()
	for _, name := range o.names {
		if o.rng.Float64() >= o.cfg.MutationRate {
			continue
		}
		r := o.ranges[name]
		cur, ok := out.Float(name)
		if !ok {
			continue
		}
		noise := o.rng.NormFloat64() * o.cfg.MutationStrength * (r.Max - r.Min)
		out[name] = r.Clamp(cur + noise)
	}
	return out
}

// ============================================================================
// RANKING AND RECORDS
// ============================================================================

// rankedIndices returns population indices in descending fitness order.
// Ties keep the lower original index first (stable ranking).
func rankedIndices(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	return idx
}

func (o *GeneticOptimizer) makeRecord(gen int, pop Population, scores []float64, elapsed time.Duration) GenerationRecord {
	ranked := rankedIndices(scores)
	topK := o.cfg.TopK
	if topK > len(ranked) {
		topK = len(ranked)
	}
	top := make([]Individual, 0, topK)
	for _, i := range ranked[:topK] {
		top = append(top, cloneIndividual(pop[i]))
	}
	return GenerationRecord{
		Generation: gen,
		Best:       scores[ranked[0]],
		Mean:       stat.Mean(scores, nil),
		StdDev:     stat.StdDev(scores, nil),
		Elapsed:    elapsed,
		TopK:       top,
	}
}

func cloneIndividual(ind Individual) Individual {
	out := Individual{Params: ind.Params.Clone()}
	if ind.Fitness != nil {
		v := *ind.Fitness
		out.Fitness = &v
	}
	return out
}
