package domain

import (
	"strings"
	"time"
)

// OrderSimulationInput is a hypothetical order submitted for delay simulation.
// It is built fresh per request and consumed once by the estimator.
type OrderSimulationInput struct {
	OriginState      string  `json:"originState"`
	DestinationState string  `json:"destinationState"`
	PromisedDays     int     `json:"promisedDays"`
	ApprovalDays     int     `json:"approvalDays"`
	Category         string  `json:"category"`
	WeightGrams      float64 `json:"weightGrams"`
	LengthCm         float64 `json:"lengthCm"`
	WidthCm          float64 `json:"widthCm"`
	HeightCm         float64 `json:"heightCm"`
	IsPickup         bool    `json:"isPickup"`
}

// DerivedFeatures are computed from package dimensions, never supplied by callers.
type DerivedFeatures struct {
	VolumeCm3     float64 `json:"volumeCm3"`
	CubicWeightKg float64 `json:"cubicWeightKg"`
}

// CubicWeightDivisor is the dimensional-weight divisor in cm3 per kg.
const CubicWeightDivisor = 6000.0

// Feature names of the predictor input row, in schema order.
const (
	FeatureCubicWeightKg    = "cubic_weight_kg"
	FeatureVolumeCm3        = "volume_cm3"
	FeatureWeightGrams      = "weight_g"
	FeatureApprovalDays     = "approval_days"
	FeaturePromisedDays     = "promised_days"
	FeatureOriginState      = "origin_state"
	FeatureDestinationState = "destination_state"
	FeaturePickupFlag       = "pickup_flag"
	FeatureCategory         = "category"
)

// FeatureSchema lists the predictor input columns in their fixed order.
var FeatureSchema = []string{
	FeatureCubicWeightKg,
	FeatureVolumeCm3,
	FeatureWeightGrams,
	FeatureApprovalDays,
	FeaturePromisedDays,
	FeatureOriginState,
	FeatureDestinationState,
	FeaturePickupFlag,
	FeatureCategory,
}

// FeatureRow is the single-row feature table handed to a Predictor.
type FeatureRow struct {
	CubicWeightKg    float64 `json:"cubic_weight_kg"`
	VolumeCm3        float64 `json:"volume_cm3"`
	WeightGrams      float64 `json:"weight_g"`
	ApprovalDays     int     `json:"approval_days"`
	PromisedDays     int     `json:"promised_days"`
	OriginState      string  `json:"origin_state"`
	DestinationState string  `json:"destination_state"`
	PickupFlag       int     `json:"pickup_flag"`
	Category         string  `json:"category"`
}

// Numeric returns the numeric columns keyed by feature name.
func (r FeatureRow) Numeric() map[string]float64 {
	return map[string]float64{
		FeatureCubicWeightKg: r.CubicWeightKg,
		FeatureVolumeCm3:     r.VolumeCm3,
		FeatureWeightGrams:   r.WeightGrams,
		FeatureApprovalDays:  float64(r.ApprovalDays),
		FeaturePromisedDays:  float64(r.PromisedDays),
		FeaturePickupFlag:    float64(r.PickupFlag),
	}
}

// Categorical returns the categorical columns keyed by feature name.
func (r FeatureRow) Categorical() map[string]string {
	return map[string]string{
		FeatureOriginState:      r.OriginState,
		FeatureDestinationState: r.DestinationState,
		FeatureCategory:         r.Category,
	}
}

// SimulationRequest is the API payload for POST /simulate.
// Bounds follow the simulator form; anything outside them never reaches the estimator.
type SimulationRequest struct {
	OriginState      string  `json:"originState" validate:"required"`
	DestinationState string  `json:"destinationState" validate:"required"`
	PromisedDays     int     `json:"promisedDays" validate:"gte=1,lte=90"`
	ApprovalDays     int     `json:"approvalDays" validate:"gte=0,lte=30"`
	Category         string  `json:"category" validate:"required"`
	WeightGrams      float64 `json:"weightGrams" validate:"gt=0,lte=100000"`
	LengthCm         float64 `json:"lengthCm" validate:"gt=0,lte=200"`
	WidthCm          float64 `json:"widthCm" validate:"gt=0,lte=200"`
	HeightCm         float64 `json:"heightCm" validate:"gt=0,lte=200"`
	IsPickup         bool    `json:"isPickup"`
}

// NormalizeState returns the canonical form of a state code: trimmed, upper case.
func NormalizeState(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ToInput converts a validated request to an OrderSimulationInput.
func (r *SimulationRequest) ToInput() *OrderSimulationInput {
	return &OrderSimulationInput{
		OriginState:      NormalizeState(r.OriginState),
		DestinationState: NormalizeState(r.DestinationState),
		PromisedDays:     r.PromisedDays,
		ApprovalDays:     r.ApprovalDays,
		Category:         r.Category,
		WeightGrams:      r.WeightGrams,
		LengthCm:         r.LengthCm,
		WidthCm:          r.WidthCm,
		HeightCm:         r.HeightCm,
		IsPickup:         r.IsPickup,
	}
}

// Simulation is the audit record of one simulator run.
type Simulation struct {
	ID        string               `json:"id"`
	TraceID   string               `json:"traceId,omitempty"`
	Input     OrderSimulationInput `json:"input"`
	Estimate  DelayEstimate        `json:"estimate"`
	ModelName string               `json:"modelName,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	ProcessMs int64                `json:"processMs"`
}
