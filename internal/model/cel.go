package model

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/heron/internal/domain"
)

// CELModel evaluates a CEL expression over the feature row.
//
// Every feature is bound as a top-level variable: numeric columns as double,
// categorical columns as string. The full row is also available as the map
// variable "row".
type CELModel struct {
	expression string
	program    cel.Program
}

// NewCELModel compiles expression into a predictor.
func NewCELModel(expression string) (*CELModel, error) {
	if expression == "" {
		return nil, fmt.Errorf("cel model requires an expression")
	}

	row := domain.FeatureRow{}
	opts := []cel.EnvOption{
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
	}
	for name := range row.Numeric() {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	for name := range row.Categorical() {
		opts = append(opts, cel.Variable(name, cel.StringType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile model expression: %w", issues.Err())
	}

	// Expressions over "row" type-check as dyn; toDays checks those at evaluation.
	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.DoubleType) && !outputType.IsExactType(cel.IntType) && !outputType.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("model expression must return int or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for model expression: %w", err)
	}

	return &CELModel{expression: expression, program: program}, nil
}

// Predict implements domain.Predictor.
func (m *CELModel) Predict(ctx context.Context, row domain.FeatureRow) (float64, error) {
	activation := make(map[string]any, len(domain.FeatureSchema)+1)
	all := make(map[string]any, len(domain.FeatureSchema))
	for name, v := range row.Numeric() {
		activation[name] = v
		all[name] = v
	}
	for name, v := range row.Categorical() {
		activation[name] = v
		all[name] = v
	}
	activation["row"] = all

	out, _, err := m.program.ContextEval(ctx, activation)
	if err != nil {
		return 0, fmt.Errorf("model evaluation error: %w", err)
	}
	return toDays(out)
}

// Expression returns the source expression.
func (m *CELModel) Expression() string {
	return m.expression
}

func toDays(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Double:
		return float64(v), nil
	case types.Int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("model expression returned %s", val.Type().TypeName())
	}
}
