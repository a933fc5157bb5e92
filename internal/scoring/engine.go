package scoring

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
	"github.com/opensource-finance/harrier/internal/resolver"
)

// Engine scores actors from a dataset or from analyst input.
// It holds no dataset state; every call takes the dataset explicitly.
type Engine struct {
	maxWorkers int
	bounds     domain.CeilingBounds
	cache      domain.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewEngine creates a score engine. cache may be nil.
func NewEngine(cfg domain.ScoringConfig, cache domain.Cache, logger *zap.Logger) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.Bounds == (domain.CeilingBounds{}) {
		cfg.Bounds = domain.DefaultCeilingBounds()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		maxWorkers: cfg.MaxWorkers,
		bounds:     cfg.Bounds,
		cache:      cache,
		cacheTTL:   cfg.BatchCacheTTL,
		logger:     logger,
		tracer:     otel.Tracer("harrier-scoring"),
	}
}

// ScoreActor scores one actor relative to the whole dataset.
// The percentage is the one the actor gets in ScoreBatch over the same dataset.
func (e *Engine) ScoreActor(ctx context.Context, ds *domain.Dataset, actorID string) (domain.ScoreResult, error) {
	if !ds.HasActor(actorID) {
		observability.RecordScoringError(ErrorKind(domain.ErrUnknownActor))
		return domain.ScoreResult{}, &domain.UnknownActorError{ActorID: actorID}
	}

	results, err := e.ScoreBatch(ctx, ds)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	return results[actorID], nil
}

// ScoreManual scores analyst input against the fixed ceiling.
func (e *Engine) ScoreManual(ctx context.Context, ds *domain.Dataset, req domain.ManualRequest) (domain.ScoreResult, error) {
	start := time.Now()

	in, err := resolver.ResolveManual(ds, req)
	if err != nil {
		observability.RecordScoringError(ErrorKind(err))
		observability.RecordScoring(string(domain.ModeFixedCeiling), 0, time.Since(start), err)
		return domain.ScoreResult{}, err
	}

	raw := RawScore(in)
	fixedMax := FixedMax(CeilingFor(e.bounds, ds))
	result := buildResult(req.ActorID, in, raw, FixedPercentage(raw, fixedMax), domain.ModeFixedCeiling)

	observability.RecordScoring(string(domain.ModeFixedCeiling), 1, time.Since(start), nil)
	e.logger.Debug("manual score",
		zap.String("dataset_id", ds.ID),
		zap.Float64("raw_score", raw),
		zap.Float64("fixed_max", fixedMax),
		zap.String("category", string(result.Category)),
	)
	return result, nil
}

// ScoreBatch scores every actor in the dataset against the batch min/max.
//
// Resolution and raw scoring run in parallel. Normalization waits until every
// raw score is known, since the bounds come from the whole batch.
func (e *Engine) ScoreBatch(ctx context.Context, ds *domain.Dataset) (map[string]domain.ScoreResult, error) {
	ctx, span := e.tracer.Start(ctx, "scoring.batch",
		trace.WithAttributes(
			attribute.String("dataset.id", ds.ID),
			attribute.String("dataset.fingerprint", ds.Fingerprint),
			attribute.Int("dataset.rows", ds.Len()),
		),
	)
	defer span.End()

	if snap := e.cachedBatch(ctx, ds); snap != nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return copyResults(snap.Results), nil
	}

	start := time.Now()
	results, err := e.computeBatch(ctx, ds)
	observability.RecordScoring(string(domain.ModeBatchRelative), len(results), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("actors.scored", len(results)))

	e.storeBatch(ctx, ds, results)

	e.logger.Info("batch scored",
		zap.String("dataset_id", ds.ID),
		zap.Int("actors", len(results)),
		zap.Duration("duration", time.Since(start)),
	)
	return copyResults(results), nil
}

func (e *Engine) computeBatch(ctx context.Context, ds *domain.Dataset) (map[string]domain.ScoreResult, error) {
	ids := ds.ActorIDs()
	inputs := make([]domain.ResolvedInputs, len(ids))
	raws := make([]float64, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in, err := resolver.ResolveForActor(ds, id)
			if err != nil {
				return err
			}
			inputs[i] = in
			raws[i] = RawScore(in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rng := NewBatchRange(raws)
	results := make(map[string]domain.ScoreResult, len(ids))
	for i, id := range ids {
		results[id] = buildResult(id, inputs[i], raws[i], rng.Percentage(raws[i]), domain.ModeBatchRelative)
	}
	return results, nil
}

func (e *Engine) cachedBatch(ctx context.Context, ds *domain.Dataset) *domain.BatchSnapshot {
	if e.cache == nil {
		return nil
	}
	snap, err := e.cache.GetBatch(ctx, ds.Fingerprint)
	if err != nil {
		e.logger.Warn("batch cache read failed", zap.String("dataset_id", ds.ID), zap.Error(err))
		return nil
	}
	observability.RecordBatchCache(snap != nil)
	return snap
}

func (e *Engine) storeBatch(ctx context.Context, ds *domain.Dataset, results map[string]domain.ScoreResult) {
	if e.cache == nil {
		return
	}
	snap := &domain.BatchSnapshot{
		DatasetID:   ds.ID,
		Fingerprint: ds.Fingerprint,
		ScoredAt:    time.Now().UTC(),
		Results:     results,
	}
	if err := e.cache.SetBatch(ctx, ds.Fingerprint, snap, e.cacheTTL); err != nil {
		e.logger.Warn("batch cache write failed", zap.String("dataset_id", ds.ID), zap.Error(err))
	}
}

// Bounds returns the declared ceiling bounds.
func (e *Engine) Bounds() domain.CeilingBounds {
	return e.bounds
}

// CeilingFor widens base by the per-actor maxima observed in ds.
// Row maxima are used for the averaged fields; they are never below an actor mean.
func CeilingFor(base domain.CeilingBounds, ds *domain.Dataset) domain.CeilingBounds {
	b := base
	for _, id := range ds.ActorIDs() {
		techniques := make(map[string]struct{})
		for _, r := range ds.ActorRows(id) {
			if r.TechniqueID != "" {
				techniques[r.TechniqueID] = struct{}{}
			}
			b = b.Widen(domain.ResolvedInputs{
				PlatformCount: float64(r.PlatformCount),
				TacticWeight:  r.TacticWeight,
				RegionWeight:  r.RegionWeight,
				CVSSScore:     r.CVSSBaseScore,
				ImpactCount:   float64(r.CVECount),
				IoCWeight:     r.IoCWeight,
				ElapsedYears:  r.ElapsedYears,
			})
		}
		b = b.Widen(domain.ResolvedInputs{TechniqueCount: len(techniques)})
	}
	return b
}

// ErrorKind labels a scoring error for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownActor):
		return "unknown_actor"
	case errors.Is(err, domain.ErrMissingRequiredField):
		return "missing_field"
	case errors.Is(err, domain.ErrOutOfRange):
		return "out_of_range"
	default:
		return "internal"
	}
}

func copyResults(in map[string]domain.ScoreResult) map[string]domain.ScoreResult {
	out := make(map[string]domain.ScoreResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
