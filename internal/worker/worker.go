// Package worker rescores datasets asynchronously from the event bus.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/triage"
)

// Worker assesses datasets announced on the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	assessor *triage.Assessor
	logger   *zap.Logger

	namespace     string
	subscriptions []domain.Subscription
	cron          *cron.Cron
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Namespace scopes the subscribed topics. Empty means DefaultNamespace.
	Namespace string

	// Schedule is a cron expression ("@every 1h", "0 */6 * * *") for periodic
	// rescoring of every stored dataset. Empty disables it.
	Schedule string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, assessor *triage.Assessor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		repo:     repo,
		assessor: assessor,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to dataset.ingested and batch.requested and starts the schedule.
func (w *Worker) Start(cfg Config) error {
	w.namespace = cfg.Namespace
	if w.namespace == "" {
		w.namespace = domain.DefaultNamespace
	}

	for _, topic := range []string{domain.TopicDatasetIngested, domain.TopicBatchRequested} {
		sub, err := w.bus.Subscribe(w.ctx, w.namespace, topic, w.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	if cfg.Schedule != "" {
		w.cron = cron.New()
		if _, err := w.cron.AddFunc(cfg.Schedule, func() {
			if err := w.RequestAll(w.ctx); err != nil {
				w.logger.Error("scheduled rescoring failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
		w.cron.Start()
	}

	w.logger.Info("worker started",
		zap.String("namespace", w.namespace),
		zap.String("schedule", cfg.Schedule),
	)
	return nil
}

// handleMessage loads the announced dataset and runs the assessment pipeline.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var ev domain.DatasetEvent
	if err := bus.DecodeJSON(msg, &ev); err != nil {
		return err
	}
	if ev.DatasetID == "" {
		return fmt.Errorf("message %s carries no dataset ID", msg.ID)
	}

	traceID := ev.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	w.logger.Debug("processing dataset",
		zap.String("dataset_id", ev.DatasetID),
		zap.String("topic", msg.Topic),
		zap.String("reason", ev.Reason),
		zap.String("trace_id", traceID),
	)

	start := time.Now()
	ds, err := w.repo.GetDataset(ctx, ev.DatasetID)
	if err != nil {
		return fmt.Errorf("failed to load dataset %s: %w", ev.DatasetID, err)
	}

	assessment, err := w.assessor.Assess(ctx, ds, traceID)
	if err != nil {
		return err
	}

	w.logger.Info("dataset processed",
		zap.String("dataset_id", ds.ID),
		zap.String("assessment_id", assessment.ID),
		zap.String("status", assessment.Status),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// RequestAll publishes batch.requested for every stored dataset.
func (w *Worker) RequestAll(ctx context.Context) error {
	datasets, err := w.repo.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list datasets: %w", err)
	}

	for _, info := range datasets {
		ev := domain.DatasetEvent{DatasetID: info.ID, Reason: "schedule"}
		if err := bus.PublishJSON(ctx, w.bus, w.namespace, domain.TopicBatchRequested, ev); err != nil {
			return err
		}
	}

	w.logger.Info("rescoring requested", zap.Int("datasets", len(datasets)))
	return nil
}

// Stop gracefully stops the schedule and all subscriptions.
func (w *Worker) Stop() error {
	if w.cron != nil {
		<-w.cron.Stop().Done()
		w.cron = nil
	}

	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				zap.String("topic", sub.Topic()),
				zap.Error(err),
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Scheduled         bool     `json:"scheduled"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Scheduled:         w.cron != nil,
	}
}
