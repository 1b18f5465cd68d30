package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/heron/internal/analytics"
	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/estimator"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/model"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/routing"
	"github.com/opensource-finance/heron/internal/simulation"
)

// maxOrdersBody bounds POST /orders payloads.
const maxOrdersBody = 32 << 20

// Deps are the services behind the HTTP API. Only Simulations, Model and
// Catalog are required; handlers for absent services answer 503.
type Deps struct {
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Simulations *simulation.Service
	Model       *model.Holder
	Catalog     *features.Catalog
	Ingestor    *dataset.Ingestor
	Analytics   *analytics.Service
	Metrics     *metrics.Collector
	Version     string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// SimulateResponse is the response for POST /simulate.
type SimulateResponse struct {
	SimulationID string               `json:"simulationId"`
	Estimate     domain.DelayEstimate `json:"estimate"`
	Metadata     struct {
		TraceID   string `json:"traceId"`
		ModelName string `json:"modelName,omitempty"`
		TotalMs   int64  `json:"totalMs"`
		Version   string `json:"version"`
	} `json:"metadata"`
}

// Simulate handles POST /simulate. With ?async=true the request is queued for
// the worker and answered with 202 and the future simulation ID.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	meta := simulation.Meta{TraceID: GetTraceID(ctx)}

	var req domain.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		id, err := h.Simulations.Submit(ctx, &req, meta)
		if err != nil {
			writeSimulationError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"simulationId": id,
			"status":       "queued",
		})
		return
	}

	sim, err := h.Simulations.Run(ctx, &req, meta)
	if err != nil {
		writeSimulationError(w, err)
		return
	}

	resp := SimulateResponse{
		SimulationID: sim.ID,
		Estimate:     sim.Estimate,
	}
	resp.Metadata.TraceID = sim.TraceID
	resp.Metadata.ModelName = sim.ModelName
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.Version

	writeJSON(w, http.StatusOK, resp)
}

// writeSimulationError maps pipeline errors to HTTP statuses.
func writeSimulationError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  err.Error(),
			"fields": verr.Fields,
		})
	case errors.Is(err, model.ErrNoModel):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model not loaded",
		})
	case errors.Is(err, estimator.ErrPredictionFailed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "simulation failed: " + err.Error(),
		})
	default:
		slog.Error("simulation error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "simulation failed",
		})
	}
}

// ListSimulations handles GET /simulations?limit=N.
func (h *Handler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeUnavailable(w, "repository")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	sims, err := h.Repo.ListSimulations(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list simulations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list simulations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"simulations": sims,
		"count":       len(sims),
	})
}

// GetSimulation retrieves a stored simulation by ID.
func (h *Handler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Repo == nil {
		writeUnavailable(w, "repository")
		return
	}

	sim, err := h.Repo.GetSimulation(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "simulation not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get simulation", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get simulation",
		})
		return
	}

	writeJSON(w, http.StatusOK, sim)
}

// ClassifyRoute handles GET /routes/classify?origin=SP&destination=AM.
func (h *Handler) ClassifyRoute(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	destination := r.URL.Query().Get("destination")
	if origin == "" || destination == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "origin and destination are required",
		})
		return
	}

	writeJSON(w, http.StatusOK, routing.Classify(origin, destination))
}

// ListRegions returns the 27 states with their regions.
func (h *Handler) ListRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"states": routing.States(),
	})
}

// ListCategories returns the category labels offered by the simulator.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": h.Catalog.Labels(),
	})
}

// ReloadCategories rebuilds the category catalog from the order dataset.
func (h *Handler) ReloadCategories(w http.ResponseWriter, r *http.Request) {
	if h.Ingestor == nil {
		writeUnavailable(w, "dataset")
		return
	}

	n, err := h.Ingestor.RefreshCatalog(r.Context())
	if err != nil {
		slog.Error("failed to reload categories", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload categories",
		})
		return
	}

	slog.Info("categories reloaded", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "categories reloaded successfully",
		"count":   n,
	})
}

// GetModel describes the loaded predictor.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Model.Info())
}

// ReloadModel re-reads the model artifact and swaps it in. A failed reload
// keeps serving the previous model.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	err := h.Model.Load()
	h.Metrics.ObserveModelReload(err)
	if err != nil {
		slog.Error("failed to reload model", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload model: " + err.Error(),
		})
		return
	}

	info := h.Model.Info()
	slog.Info("model reloaded", "name", info.Name, "version", info.Version)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "model reloaded successfully",
		"model":   info,
	})
}

// IngestOrders handles POST /orders with a JSON array of orders.
func (h *Handler) IngestOrders(w http.ResponseWriter, r *http.Request) {
	if h.Ingestor == nil {
		writeUnavailable(w, "dataset")
		return
	}

	var orders []*domain.Order
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrdersBody)).Decode(&orders); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(orders) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one order is required",
		})
		return
	}

	result, err := h.Ingestor.Ingest(r.Context(), orders)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  err.Error(),
			"fields": verr.Fields,
		})
		return
	}
	if err != nil {
		slog.Error("failed to ingest orders", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to ingest orders",
		})
		return
	}

	h.Metrics.ObserveIngest(result.Saved)
	writeJSON(w, http.StatusOK, result)
}

// GetKPIs handles GET /kpis. Filters take repeated or comma-separated values:
// ?statuses=Entregue,Cancelado&states=SP&categories=Automotivo.
func (h *Handler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	if h.Analytics == nil {
		writeUnavailable(w, "analytics")
		return
	}

	q := r.URL.Query()
	filter := domain.OrderFilter{
		Statuses:   queryList(q["statuses"]),
		States:     queryList(q["states"]),
		Categories: queryList(q["categories"]),
	}

	snap, err := h.Analytics.Snapshot(r.Context(), filter)
	if err != nil {
		slog.Error("failed to compute kpis", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute kpis",
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// GetKPIOptions lists the values the KPI filters accept.
func (h *Handler) GetKPIOptions(w http.ResponseWriter, r *http.Request) {
	if h.Analytics == nil {
		writeUnavailable(w, "analytics")
		return
	}

	opts, err := h.Analytics.Options(r.Context())
	if err != nil {
		slog.Error("failed to load filter options", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load filter options",
		})
		return
	}

	writeJSON(w, http.StatusOK, opts)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if h.Repo != nil {
		check("repository", func() error { return h.Repo.Ping(ctx) })
	}
	if h.Cache != nil {
		check("cache", func() error { return h.Cache.Ping(ctx) })
	}
	if h.Bus != nil {
		check("eventBus", func() error { return h.Bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"version":     h.Version,
		"modelLoaded": h.Model.Loaded(),
		"checks":      checks,
	})
}

// Ready reports whether simulations can be served, which needs a model.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.Model.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "model not loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func queryList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeUnavailable(w http.ResponseWriter, component string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": component + " not available",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
