package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/observability"
	"github.com/opensource-finance/harrier/internal/projection"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// summaryScope is the cache scope for dataset summaries, keyed by fingerprint.
const summaryScope = "summary"

// Handler holds dependencies for API handlers.
type Handler struct {
	deps        Dependencies
	logger      *zap.Logger
	projection  domain.ProjectionParams
	maxUploadMB int
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, proj domain.ProjectionParams, maxUploadMB int) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Handler{
		deps:        deps,
		logger:      deps.Logger,
		projection:  proj,
		maxUploadMB: maxUploadMB,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.deps.Repo != nil {
		check("repository", h.deps.Repo.Ping)
	}
	if h.deps.Cache != nil {
		check("cache", h.deps.Cache.Ping)
	}
	if h.deps.Bus != nil {
		check("eventBus", h.deps.Bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.deps.Version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	rulesLoaded := 0
	if h.deps.Rules != nil {
		rulesLoaded = h.deps.Rules.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"rulesLoaded": rulesLoaded,
	})
}

// UploadDataset handles POST /datasets. The body is a CSV or XLSX file;
// ?name= names the dataset and ?sheet= picks the workbook sheet.
func (h *Handler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireRepo(w) {
		return
	}

	body := http.MaxBytesReader(w, r.Body, int64(h.maxUploadMB)<<20)
	name := r.URL.Query().Get("name")
	ds, format, err := dataset.Read(body, name, r.Header.Get("Content-Type"), r.URL.Query().Get("sheet"))
	if err != nil {
		h.writeIngestError(w, err)
		return
	}
	if ds.Len() == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "dataset has no rows",
		})
		return
	}

	if err := h.deps.Repo.SaveDataset(ctx, ds); err != nil {
		h.logger.Error("failed to save dataset", zap.String("dataset_id", ds.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save dataset",
		})
		return
	}
	observability.RecordIngestion(string(format))

	if h.deps.Bus != nil {
		ev := domain.DatasetEvent{DatasetID: ds.ID, TraceID: GetTraceID(ctx), Reason: "ingest"}
		if err := bus.PublishJSON(ctx, h.deps.Bus, h.deps.Namespace, domain.TopicDatasetIngested, ev); err != nil {
			h.logger.Warn("failed to publish dataset event", zap.String("dataset_id", ds.ID), zap.Error(err))
		}
	}

	h.logger.Info("dataset ingested",
		zap.String("dataset_id", ds.ID),
		zap.String("format", string(format)),
		zap.Int("rows", ds.Len()),
		zap.Int("actors", len(ds.ActorIDs())),
	)
	writeJSON(w, http.StatusCreated, ds.Info())
}

// ListDatasets handles GET /datasets.
func (h *Handler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	infos, err := h.deps.Repo.ListDatasets(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if infos == nil {
		infos = []domain.DatasetInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": infos,
		"count":    len(infos),
	})
}

// GetDataset handles GET /datasets/{id}.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ds.Info())
}

// Summary handles GET /datasets/{id}/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if h.deps.Cache != nil {
		if data, err := h.deps.Cache.Get(ctx, summaryScope, ds.Fingerprint); err == nil && data != nil {
			var cached domain.DatasetSummary
			if json.Unmarshal(data, &cached) == nil {
				// Identical content under another dataset ID shares the entry.
				cached.DatasetID = ds.ID
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}
	}

	summary := dataset.Summarize(ds)
	if h.deps.Cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := h.deps.Cache.Set(ctx, summaryScope, ds.Fingerprint, data, time.Hour); err != nil {
				h.logger.Debug("summary cache write failed", zap.Error(err))
			}
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListActors handles GET /datasets/{id}/actors.
func (h *Handler) ListActors(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	actors := ds.ActorIDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"datasetId": ds.ID,
		"actors":    actors,
		"count":     len(actors),
	})
}

// ScoresResponse is the response for GET /datasets/{id}/scores.
type ScoresResponse struct {
	DatasetID string               `json:"datasetId"`
	Mode      string               `json:"mode"`
	Count     int                  `json:"count"`
	Scores    []domain.ScoreResult `json:"scores"`
}

// Scores handles GET /datasets/{id}/scores. Results are ordered by raw score,
// highest first. ?category= filters to one category.
func (h *Handler) Scores(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}

	results, err := h.deps.Scorer.ScoreBatch(r.Context(), ds)
	if err != nil {
		h.writeError(w, err)
		return
	}

	category := domain.Category(r.URL.Query().Get("category"))
	scores := make([]domain.ScoreResult, 0, len(results))
	for _, res := range results {
		if category != "" && res.Category != category {
			continue
		}
		scores = append(scores, res)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].RawScore != scores[j].RawScore {
			return scores[i].RawScore > scores[j].RawScore
		}
		return scores[i].ActorID < scores[j].ActorID
	})

	writeJSON(w, http.StatusOK, ScoresResponse{
		DatasetID: ds.ID,
		Mode:      string(domain.ModeBatchRelative),
		Count:     len(scores),
		Scores:    scores,
	})
}

// ActorScore handles GET /datasets/{id}/actors/{actor}/score.
func (h *Handler) ActorScore(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	result, err := h.deps.Scorer.ScoreActor(r.Context(), ds, chi.URLParam(r, "actor"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ManualScore handles POST /datasets/{id}/manual.
func (h *Handler) ManualScore(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}

	var req domain.ManualRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.deps.Scorer.ScoreManual(r.Context(), ds, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Projection handles GET /datasets/{id}/projection. Query parameters
// startYear, endYear, baseYear, growth, initialDefense and defenseFactor
// override the configured defaults.
func (h *Handler) Projection(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}

	params, err := projectionParams(r, h.projection)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	proj, err := projection.Project(r.Context(), ds, params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// CreateAssessment handles POST /datasets/{id}/assessments.
func (h *Handler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	if h.deps.Assessor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "assessor not available",
		})
		return
	}

	assessment, err := h.deps.Assessor.Assess(r.Context(), ds, GetTraceID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assessment)
}

// ListAssessments handles GET /datasets/{id}/assessments.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	list, err := h.deps.Repo.ListAssessments(r.Context(), ds.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.Assessment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assessments": list,
		"count":       len(list),
	})
}

// GetAssessment handles GET /assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	assessment, err := h.deps.Repo.GetAssessment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.deps.Rules.GetLoadedRules()
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	for _, rule := range h.deps.Rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates a rule, persists it and loads it when enabled.
// Saving an existing ID replaces that rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.deps.Rules.ValidateRule(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.deps.Repo != nil {
		if err := h.deps.Repo.SaveRuleConfig(ctx, cfg); err != nil {
			h.logger.Error("failed to save rule config", zap.String("rule_id", cfg.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if cfg.Enabled {
		if err := h.deps.Rules.LoadRule(cfg); err != nil {
			h.writeError(w, err)
			return
		}
	}

	h.logger.Info("rule saved", zap.String("rule_id", cfg.ID), zap.Bool("enabled", cfg.Enabled))
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":   cfg,
		"loaded": cfg.Enabled,
	})
}

// ReloadRules replaces the loaded rules with the enabled rules in the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	stored, err := h.deps.Repo.ListRuleConfigs(r.Context())
	if err != nil {
		h.logger.Error("failed to list rules from database", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.deps.Rules.ReloadRules(stored); err != nil {
		h.logger.Error("failed to reload rules into engine", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	h.logger.Info("rules reloaded from database", zap.Int("count", len(stored)))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.deps.Rules.RulesCount(),
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.deps.Repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

// loadDataset fetches the {id} dataset, writing the error response itself.
func (h *Handler) loadDataset(w http.ResponseWriter, r *http.Request) (*domain.Dataset, bool) {
	if !h.requireRepo(w) {
		return nil, false
	}
	ds, err := h.deps.Repo.GetDataset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return ds, true
}

// writeError maps domain and storage errors onto HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var unknown *domain.UnknownActorError
	var missing *domain.MissingRequiredFieldError
	var outOfRange *domain.OutOfRangeError

	switch {
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   err.Error(),
			"kind":    scoring.ErrorKind(err),
			"actorId": unknown.ActorID,
		})
	case errors.As(err, &missing):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"kind":   scoring.ErrorKind(err),
			"fields": missing.Fields,
		})
	case errors.As(err, &outOfRange):
		body := map[string]any{
			"error":         err.Error(),
			"kind":          scoring.ErrorKind(err),
			"field":         outOfRange.Field,
			"expectedRange": outOfRange.ExpectedRange(),
		}
		if !math.IsNaN(outOfRange.Value) && !math.IsInf(outOfRange.Value, 0) {
			body["value"] = outOfRange.Value
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "request cancelled",
		})
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func (h *Handler) writeIngestError(w http.ResponseWriter, err error) {
	var rowErr *dataset.RowError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error":   "dataset exceeds upload limit",
			"limitMb": h.maxUploadMB,
		})
	case errors.As(err, &rowErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"row":    rowErr.Row,
			"column": rowErr.Column,
		})
	case errors.Is(err, dataset.ErrUnsupportedFormat):
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, dataset.ErrNoHeader):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	default:
		h.logger.Warn("dataset rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}
}

// projectionParams overlays query parameters on defaults.
func projectionParams(r *http.Request, p domain.ProjectionParams) (domain.ProjectionParams, error) {
	q := r.URL.Query()

	ints := []struct {
		name string
		dst  *int
	}{
		{"startYear", &p.StartYear},
		{"endYear", &p.EndYear},
		{"baseYear", &p.BaseYear},
	}
	for _, f := range ints {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, errors.New(f.name + " must be an integer")
		}
		*f.dst = v
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"growth", &p.Growth},
		{"initialDefense", &p.InitialDefense},
		{"defenseFactor", &p.DefenseFactor},
	}
	for _, f := range floats {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return p, errors.New(f.name + " must be a finite number")
		}
		*f.dst = v
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
