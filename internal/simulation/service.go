// Package simulation runs delay simulations end to end: validation, estimate,
// audit record and result events.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/estimator"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/model"
)

// Failure reasons reported in metrics and failure events.
const (
	ReasonValidation = "validation"
	ReasonNoModel    = "no_model"
	ReasonPrediction = "prediction_failed"
)

// Meta carries caller-supplied identifiers. Empty ID means a new one is generated.
type Meta struct {
	ID      string `json:"id,omitempty"`
	TraceID string `json:"traceId,omitempty"`
}

// Request is the payload of the simulation request topic.
type Request struct {
	Meta
	Simulation domain.SimulationRequest `json:"simulation"`
}

// Failure is the payload of the simulation failure topic.
type Failure struct {
	Meta
	Reason string                   `json:"reason"`
	Error  string                   `json:"error"`
	Input  domain.SimulationRequest `json:"input"`
}

// Service owns the simulation pipeline. The estimator holds no state; the
// service only adds persistence and events around it.
type Service struct {
	estimator *estimator.Estimator
	holder    *model.Holder
	repo      domain.Repository
	events    domain.EventBus
	metrics   *metrics.Collector
}

// NewService creates a simulation service. repo, events and m may be nil.
func NewService(est *estimator.Estimator, holder *model.Holder, repo domain.Repository, events domain.EventBus, m *metrics.Collector) *Service {
	return &Service{
		estimator: est,
		holder:    holder,
		repo:      repo,
		events:    events,
		metrics:   m,
	}
}

// Run validates the request, estimates the delay and records the result.
func (s *Service) Run(ctx context.Context, req *domain.SimulationRequest, meta Meta) (*domain.Simulation, error) {
	start := time.Now()
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	ctx = bus.WithTraceID(ctx, meta.TraceID)

	if err := req.Validate(); err != nil {
		s.fail(ctx, req, meta, ReasonValidation, err)
		return nil, err
	}

	input := req.ToInput()
	est, err := s.estimator.Estimate(ctx, input)
	if err != nil {
		reason := ReasonPrediction
		if errors.Is(err, model.ErrNoModel) {
			reason = ReasonNoModel
		}
		s.fail(ctx, req, meta, reason, err)
		return nil, err
	}

	sim := &domain.Simulation{
		ID:        meta.ID,
		TraceID:   meta.TraceID,
		Input:     *input,
		Estimate:  *est,
		CreatedAt: time.Now().UTC(),
		ProcessMs: time.Since(start).Milliseconds(),
	}
	if s.holder != nil {
		sim.ModelName = s.holder.Info().Name
	}

	// The audit record is best effort; the estimate is still returned.
	if s.repo != nil {
		if err := s.repo.SaveSimulation(ctx, sim); err != nil {
			slog.Error("failed to save simulation",
				"simulation_id", sim.ID,
				"error", err,
			)
		}
	}

	s.publishResult(ctx, sim)

	s.metrics.ObserveSimulation(string(est.Outcome), string(est.Route.Kind),
		est.WasOverriddenByRule, est.FinalPredictionDays, time.Since(start))

	slog.Debug("simulation completed",
		"simulation_id", sim.ID,
		"trace_id", sim.TraceID,
		"route_kind", est.Route.Kind,
		"outcome", est.Outcome,
		"final_days", est.FinalPredictionDays,
		"overridden", est.WasOverriddenByRule,
	)

	return sim, nil
}

// Submit validates the request and queues it on the request topic for the
// async worker. It returns the ID the stored simulation will carry.
func (s *Service) Submit(ctx context.Context, req *domain.SimulationRequest, meta Meta) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	// A queued run without a model can only fail; answer like the sync path.
	if s.holder != nil && !s.holder.Loaded() {
		return "", model.ErrNoModel
	}
	if s.events == nil {
		return "", fmt.Errorf("no event bus configured")
	}
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}

	ctx = bus.WithTraceID(ctx, meta.TraceID)
	if err := bus.PublishJSON(ctx, s.events, domain.TopicSimulationRequested, Request{Meta: meta, Simulation: *req}); err != nil {
		return "", fmt.Errorf("failed to queue simulation: %w", err)
	}
	return meta.ID, nil
}

func (s *Service) publishResult(ctx context.Context, sim *domain.Simulation) {
	if s.events == nil {
		return
	}

	if err := bus.PublishJSON(ctx, s.events, domain.TopicSimulationCompleted, sim); err != nil {
		slog.Error("failed to publish simulation result",
			"simulation_id", sim.ID,
			"error", err,
		)
	}

	if sim.Estimate.AtRisk() {
		if err := bus.PublishJSON(ctx, s.events, domain.TopicDelayRisk, sim); err != nil {
			slog.Error("failed to publish delay risk",
				"simulation_id", sim.ID,
				"error", err,
			)
		}
	}
}

func (s *Service) fail(ctx context.Context, req *domain.SimulationRequest, meta Meta, reason string, err error) {
	s.metrics.ObserveFailure(reason)

	slog.Warn("simulation failed",
		"simulation_id", meta.ID,
		"trace_id", meta.TraceID,
		"reason", reason,
		"error", err,
	)

	if s.events == nil {
		return
	}
	failure := Failure{Meta: meta, Reason: reason, Error: err.Error(), Input: *req}
	if perr := bus.PublishJSON(ctx, s.events, domain.TopicSimulationFailed, failure); perr != nil {
		slog.Error("failed to publish simulation failure",
			"simulation_id", meta.ID,
			"error", perr,
		)
	}
}
