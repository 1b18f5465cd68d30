// Package model loads delay predictors from JSON artifacts and serves the
// current one to concurrent callers.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/opensource-finance/heron/internal/domain"
)

// Artifact kinds.
const (
	KindLinear = "linear"
	KindCEL    = "cel"
)

// Unknown-level policies for categorical features.
const (
	HandleUnknownIgnore = "ignore"
	HandleUnknownError  = "error"
)

var (
	// ErrNoModel is returned when no predictor has been loaded.
	ErrNoModel = errors.New("model not loaded")

	// ErrUnknownLevel is returned by strict linear models for unseen categories.
	ErrUnknownLevel = errors.New("unknown categorical level")
)

// Artifact is the serialized form of a trained predictor.
type Artifact struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Kind    string `json:"kind"`

	// Linear models
	Intercept     float64                       `json:"intercept"`
	Coefficients  map[string]float64            `json:"coefficients,omitempty"`
	Levels        map[string]map[string]float64 `json:"levels,omitempty"`
	HandleUnknown string                        `json:"handleUnknown,omitempty"`

	// CEL models
	Expression string `json:"expression,omitempty"`
}

// ReadArtifact decodes an artifact file.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
	}
	return &a, nil
}

// Build turns an artifact into a predictor.
func Build(a *Artifact) (domain.Predictor, error) {
	switch a.Kind {
	case KindLinear, "":
		return NewLinearModel(a)
	case KindCEL:
		return NewCELModel(a.Expression)
	default:
		return nil, fmt.Errorf("unsupported model kind %q", a.Kind)
	}
}

// LinearModel is an intercept plus weighted numeric features plus one
// weight per categorical level, equivalent to a linear regressor behind a
// one-hot encoder.
type LinearModel struct {
	intercept    float64
	coefficients map[string]float64
	levels       map[string]map[string]float64
	strict       bool
}

// NewLinearModel validates a linear artifact and builds the model.
func NewLinearModel(a *Artifact) (*LinearModel, error) {
	row := domain.FeatureRow{}
	numeric := row.Numeric()
	categorical := row.Categorical()

	for name := range a.Coefficients {
		if _, ok := numeric[name]; !ok {
			return nil, fmt.Errorf("coefficient for non-numeric feature %q", name)
		}
	}
	for name := range a.Levels {
		if _, ok := categorical[name]; !ok {
			return nil, fmt.Errorf("levels for non-categorical feature %q", name)
		}
	}

	var strict bool
	switch a.HandleUnknown {
	case "", HandleUnknownIgnore:
	case HandleUnknownError:
		strict = true
	default:
		return nil, fmt.Errorf("invalid handleUnknown %q", a.HandleUnknown)
	}

	return &LinearModel{
		intercept:    a.Intercept,
		coefficients: a.Coefficients,
		levels:       a.Levels,
		strict:       strict,
	}, nil
}

// Predict implements domain.Predictor.
func (m *LinearModel) Predict(ctx context.Context, row domain.FeatureRow) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	numeric := row.Numeric()
	categorical := row.Categorical()

	// Terms are summed in schema order so equal rows give bit-identical results.
	y := m.intercept
	for _, name := range domain.FeatureSchema {
		if x, ok := numeric[name]; ok {
			y += m.coefficients[name] * x
			continue
		}

		weights, ok := m.levels[name]
		if !ok {
			continue
		}
		value := categorical[name]
		w, seen := weights[value]
		if !seen && m.strict {
			return 0, fmt.Errorf("%w: %s=%q", ErrUnknownLevel, name, value)
		}
		y += w
	}

	return y, nil
}
