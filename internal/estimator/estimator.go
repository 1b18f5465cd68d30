// Package estimator combines the statistical delay model with the physical
// transit floor of the route to produce a delay estimate.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/routing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrPredictionFailed wraps any predictor failure. No estimate is produced.
var ErrPredictionFailed = errors.New("prediction failed")

var tracer = otel.Tracer("heron-estimator")

// Estimator is stateless; one instance can serve concurrent requests as long
// as its predictor is safe for concurrent use.
type Estimator struct {
	deriver   *features.Deriver
	predictor domain.Predictor
}

// New creates an estimator.
func New(deriver *features.Deriver, predictor domain.Predictor) *Estimator {
	return &Estimator{deriver: deriver, predictor: predictor}
}

// Estimate runs one simulation: derive features, query the model, classify the
// route, then raise the model output to the physical floor when needed.
func (e *Estimator) Estimate(ctx context.Context, input *domain.OrderSimulationInput) (*domain.DelayEstimate, error) {
	ctx, span := tracer.Start(ctx, "estimate")
	defer span.End()

	derived, row := e.deriver.Derive(input)

	modelDays, err := e.predictor.Predict(ctx, row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
		return nil, fmt.Errorf("%w: %w", ErrPredictionFailed, err)
	}
	if math.IsNaN(modelDays) || math.IsInf(modelDays, 0) {
		err := fmt.Errorf("%w: model returned non-finite value %v", ErrPredictionFailed, modelDays)
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-finite prediction")
		return nil, err
	}

	route := routing.Classify(input.OriginState, input.DestinationState)

	// Days late the order is bound to be if transit takes only the route minimum.
	floor := float64(input.ApprovalDays + route.MinTransitDays - input.PromisedDays)
	final := math.Max(modelDays, floor)

	est := &domain.DelayEstimate{
		Features:            derived,
		Route:               route,
		ModelPredictionDays: modelDays,
		PhysicalFloorDays:   floor,
		FinalPredictionDays: final,
		WasOverriddenByRule: final > modelDays,
		TotalEstimatedDays:  float64(input.PromisedDays) + final,
	}

	if final > 0 {
		est.Outcome = domain.OutcomeAtRisk
		est.DelayDays = final
	} else {
		est.Outcome = domain.OutcomeOnTime
		est.MarginDays = math.Abs(final)
	}

	est.Narrative = narrative(input, est)
	est.Stages = stages(input, est)

	span.SetAttributes(
		attribute.String("route.kind", string(route.Kind)),
		attribute.Bool("estimate.overridden", est.WasOverriddenByRule),
		attribute.String("estimate.outcome", string(est.Outcome)),
	)

	return est, nil
}

func narrative(input *domain.OrderSimulationInput, est *domain.DelayEstimate) string {
	if est.AtRisk() {
		return fmt.Sprintf(
			"O pedido é crítico. Além dos %d dias de aprovação, a rota %s ➝ %s (%s) exige tempo de trânsito elevado. Estimativa total: %.1f dias.",
			input.ApprovalDays, est.Route.Origin, est.Route.Destination, est.Route.Label, est.TotalEstimatedDays,
		)
	}
	return fmt.Sprintf(
		"Operação segura. Rota %s com prazo confortável. Estimativa total: %.1f dias.",
		est.Route.Label, est.TotalEstimatedDays,
	)
}

func stages(input *domain.OrderSimulationInput, est *domain.DelayEstimate) []domain.StageShare {
	approval := float64(input.ApprovalDays)
	return []domain.StageShare{
		{Stage: domain.StageApproval, Days: approval},
		{Stage: domain.StageTransport, Days: math.Max(0, est.TotalEstimatedDays-approval)},
		{Stage: domain.StagePromisedLimit, Days: float64(input.PromisedDays)},
	}
}
