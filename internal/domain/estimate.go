package domain

import (
	"context"
)

// Predictor is the statistical delay model: one feature row in, one day count out.
// A negative result means early delivery. Implementations must be safe for
// concurrent use; the estimator shares one instance across requests.
type Predictor interface {
	Predict(ctx context.Context, row FeatureRow) (float64, error)
}

// Outcome is the narrative classification of a final prediction.
type Outcome string

const (
	OutcomeOnTime Outcome = "on_time"
	OutcomeAtRisk Outcome = "at_risk"
)

// DelayEstimate is the result of one simulation. Values are in days relative
// to the promised date; positive means late.
type DelayEstimate struct {
	Features            DerivedFeatures `json:"features"`
	Route               RouteProfile    `json:"route"`
	ModelPredictionDays float64         `json:"modelPredictionDays"`
	PhysicalFloorDays   float64         `json:"physicalFloorDays"`
	FinalPredictionDays float64         `json:"finalPredictionDays"`
	WasOverriddenByRule bool            `json:"wasOverriddenByRule"`
	TotalEstimatedDays  float64         `json:"totalEstimatedDays"`
	Outcome             Outcome         `json:"outcome"`

	// DelayDays is set when at risk, MarginDays when on time.
	DelayDays  float64 `json:"delayDays"`
	MarginDays float64 `json:"marginDays"`

	Narrative string       `json:"narrative"`
	Stages    []StageShare `json:"stages"`
}

// StageShare is one bar of the delivery-time breakdown.
type StageShare struct {
	Stage string  `json:"stage"`
	Days  float64 `json:"days"`
}

// Breakdown stage names.
const (
	StageApproval      = "approval"
	StageTransport     = "transport"
	StagePromisedLimit = "promised_limit"
)

// AtRisk reports whether the estimate predicts a late delivery.
func (e *DelayEstimate) AtRisk() bool {
	return e.Outcome == OutcomeAtRisk
}
