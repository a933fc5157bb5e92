package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/triage"
)

type fixture struct {
	bus    *bus.ChannelBus
	repo   domain.Repository
	worker *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	eventBus := bus.NewChannelBus(100, nil)
	t.Cleanup(func() { eventBus.Close() })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, _ := rules.NewEngine(5)
	_ = engine.LoadRules(rules.BuiltinRules())

	assessor := &triage.Assessor{
		Scorer:    scoring.NewEngine(domain.ScoringConfig{MaxWorkers: 2}, nil, nil),
		Rules:     engine,
		Processor: triage.NewProcessor(),
		Repo:      repo,
		Bus:       eventBus,
	}

	return &fixture{
		bus:    eventBus,
		repo:   repo,
		worker: NewWorker(eventBus, repo, assessor, nil),
	}
}

func sampleDataset(id string) *domain.Dataset {
	return domain.NewDataset(id, id+".csv", []domain.ThreatActorRecord{
		{ActorID: "APT-A", TechniqueID: "T1", PlatformCount: 1, CVSSBaseScore: 5, ElapsedYears: 1},
		{ActorID: "APT-B", TechniqueID: "T1", PlatformCount: 1, CVSSBaseScore: 10, ElapsedYears: 1},
	}, time.Now().UTC())
}

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestWorkerStartAndStop(t *testing.T) {
	f := newFixture(t)

	if err := f.worker.Start(Config{Schedule: "@every 1h"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := f.worker.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}
	if !stats.Scheduled {
		t.Error("expected schedule to be active")
	}

	if err := f.worker.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	stats = f.worker.GetStats()
	if stats.SubscriptionCount != 0 || stats.Scheduled {
		t.Errorf("expected no subscriptions after stop, got %+v", stats)
	}
}

func TestWorkerInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	defer f.worker.Stop()

	if err := f.worker.Start(Config{Schedule: "every now and then"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestWorkerProcessesIngestedDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ds := sampleDataset("ds-worker")
	if err := f.repo.SaveDataset(ctx, ds); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	scored := make(chan *domain.Message, 1)
	alerts := make(chan *domain.Message, 4)
	f.bus.Subscribe(ctx, domain.DefaultNamespace, domain.TopicBatchScored, func(ctx context.Context, msg *domain.Message) error {
		scored <- msg
		return nil
	})
	f.bus.Subscribe(ctx, domain.DefaultNamespace, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		alerts <- msg
		return nil
	})

	if err := f.worker.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.worker.Stop()

	ev := domain.DatasetEvent{DatasetID: ds.ID, TraceID: "trace-001", Reason: "ingest"}
	if err := bus.PublishJSON(ctx, f.bus, domain.DefaultNamespace, domain.TopicDatasetIngested, ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	var assessment domain.Assessment
	if err := bus.DecodeJSON(waitFor(t, scored), &assessment); err != nil {
		t.Fatalf("decode assessment: %v", err)
	}
	if assessment.DatasetID != ds.ID {
		t.Errorf("expected dataset %s, got %s", ds.ID, assessment.DatasetID)
	}
	if assessment.Metadata.TraceID != "trace-001" {
		t.Errorf("expected trace 'trace-001', got '%s'", assessment.Metadata.TraceID)
	}

	var alert domain.ActorAlertEvent
	if err := bus.DecodeJSON(waitFor(t, alerts), &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.Actor.Score.ActorID != "APT-B" {
		t.Errorf("expected APT-B alert, got %s", alert.Actor.Score.ActorID)
	}

	stored, err := f.repo.ListAssessments(ctx, ds.ID)
	if err != nil {
		t.Fatalf("ListAssessments failed: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 stored assessment, got %d", len(stored))
	}
}

func TestWorkerUnknownDataset(t *testing.T) {
	f := newFixture(t)

	msg := &domain.Message{ID: "m1", Topic: domain.TopicBatchRequested, Payload: []byte(`{"datasetId":"nope"}`)}
	if err := f.worker.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for unknown dataset")
	}

	msg = &domain.Message{ID: "m2", Topic: domain.TopicBatchRequested, Payload: []byte(`{}`)}
	if err := f.worker.handleMessage(context.Background(), msg); err == nil {
		t.Error("expected error for missing dataset ID")
	}
}

func TestRequestAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"ds-1", "ds-2"} {
		if err := f.repo.SaveDataset(ctx, sampleDataset(id)); err != nil {
			t.Fatalf("SaveDataset failed: %v", err)
		}
	}

	requested := make(chan *domain.Message, 4)
	f.bus.Subscribe(ctx, domain.DefaultNamespace, domain.TopicBatchRequested, func(ctx context.Context, msg *domain.Message) error {
		requested <- msg
		return nil
	})

	f.worker.namespace = domain.DefaultNamespace
	if err := f.worker.RequestAll(ctx); err != nil {
		t.Fatalf("RequestAll failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var ev domain.DatasetEvent
		if err := bus.DecodeJSON(waitFor(t, requested), &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Reason != "schedule" {
			t.Errorf("expected reason 'schedule', got %q", ev.Reason)
		}
		seen[ev.DatasetID] = true
	}
	if !seen["ds-1"] || !seen["ds-2"] {
		t.Errorf("expected both datasets requested, got %v", seen)
	}
}
