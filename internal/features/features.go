// Package features turns a simulation input into the predictor's feature row.
package features

import (
	"github.com/opensource-finance/heron/internal/domain"
)

// CategoryLookup resolves a display label to the model's category code.
type CategoryLookup interface {
	CodeFor(label string) (string, bool)
}

// Deriver computes derived features and assembles feature rows.
// It holds no mutable state beyond the injected lookup.
type Deriver struct {
	categories CategoryLookup
}

// NewDeriver creates a deriver. A nil lookup passes every label through.
func NewDeriver(categories CategoryLookup) *Deriver {
	return &Deriver{categories: categories}
}

// Dimensions computes volume and dimensional weight from package dimensions.
func Dimensions(lengthCm, widthCm, heightCm float64) domain.DerivedFeatures {
	volume := lengthCm * widthCm * heightCm
	return domain.DerivedFeatures{
		VolumeCm3:     volume,
		CubicWeightKg: volume / domain.CubicWeightDivisor,
	}
}

// Derive returns the derived features and the single feature row for input.
// Inputs are assumed validated; no range checks happen here. State codes are
// normalized the same way routing.Classify reads them.
func (d *Deriver) Derive(input *domain.OrderSimulationInput) (domain.DerivedFeatures, domain.FeatureRow) {
	derived := Dimensions(input.LengthCm, input.WidthCm, input.HeightCm)

	pickup := 0
	if input.IsPickup {
		pickup = 1
	}

	row := domain.FeatureRow{
		CubicWeightKg:    derived.CubicWeightKg,
		VolumeCm3:        derived.VolumeCm3,
		WeightGrams:      input.WeightGrams,
		ApprovalDays:     input.ApprovalDays,
		PromisedDays:     input.PromisedDays,
		OriginState:      domain.NormalizeState(input.OriginState),
		DestinationState: domain.NormalizeState(input.DestinationState),
		PickupFlag:       pickup,
		Category:         d.categoryCode(input.Category),
	}

	return derived, row
}

func (d *Deriver) categoryCode(label string) string {
	if d.categories != nil {
		if code, ok := d.categories.CodeFor(label); ok {
			return code
		}
	}
	// Unknown labels reach the model as-is; the predictor decides how to
	// treat an unseen level.
	return label
}
