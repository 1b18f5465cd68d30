package model

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
)

func sampleRow() domain.FeatureRow {
	return domain.FeatureRow{
		CubicWeightKg:    2,
		VolumeCm3:        12000,
		WeightGrams:      1000,
		ApprovalDays:     3,
		PromisedDays:     10,
		OriginState:      "SP",
		DestinationState: "AM",
		PickupFlag:       0,
		Category:         "automotivo",
	}
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func TestLinearModelPredict(t *testing.T) {
	m, err := NewLinearModel(&Artifact{
		Intercept: -5,
		Coefficients: map[string]float64{
			domain.FeatureApprovalDays: 1.5,
			domain.FeaturePromisedDays: -0.5,
		},
		Levels: map[string]map[string]float64{
			domain.FeatureDestinationState: {"AM": 4, "SP": -1},
		},
	})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	got, err := m.Predict(context.Background(), sampleRow())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	// -5 + 3*1.5 - 10*0.5 + 4
	if math.Abs(got-(-1.5)) > 1e-9 {
		t.Errorf("expected -1.5, got %f", got)
	}
}

func TestLinearModelDeterministic(t *testing.T) {
	// Large opposing terms make the float sum depend on addition order.
	m, err := NewLinearModel(&Artifact{
		Coefficients: map[string]float64{
			domain.FeatureCubicWeightKg: 1e16,
			domain.FeatureWeightGrams:   -1e16,
			domain.FeatureVolumeCm3:     1,
			domain.FeatureApprovalDays:  1,
			domain.FeaturePromisedDays:  1,
			domain.FeaturePickupFlag:    1,
		},
		Levels: map[string]map[string]float64{
			domain.FeatureOriginState:      {"SP": 1},
			domain.FeatureDestinationState: {"AM": 1},
			domain.FeatureCategory:         {"automotivo": 1},
		},
	})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}

	row := sampleRow()
	row.WeightGrams = 2
	want, err := m.Predict(context.Background(), row)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	for i := 0; i < 2000; i++ {
		got, err := m.Predict(context.Background(), row)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if math.Float64bits(got) != math.Float64bits(want) {
			t.Fatalf("call %d returned %v, first call returned %v", i, got, want)
		}
	}
}

func TestLinearModelUnknownLevel(t *testing.T) {
	levels := map[string]map[string]float64{
		domain.FeatureCategory: {"moveis_decoracao": 2},
	}

	lenient, err := NewLinearModel(&Artifact{Intercept: 1, Levels: levels})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	got, err := lenient.Predict(context.Background(), sampleRow())
	if err != nil {
		t.Fatalf("lenient model should ignore unknown level: %v", err)
	}
	if got != 1 {
		t.Errorf("expected intercept only, got %f", got)
	}

	strict, err := NewLinearModel(&Artifact{Intercept: 1, Levels: levels, HandleUnknown: HandleUnknownError})
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	if _, err := strict.Predict(context.Background(), sampleRow()); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestLinearModelRejectsBadArtifacts(t *testing.T) {
	tests := []struct {
		name string
		a    *Artifact
	}{
		{"numeric coefficient on category", &Artifact{Coefficients: map[string]float64{domain.FeatureCategory: 1}}},
		{"levels on numeric feature", &Artifact{Levels: map[string]map[string]float64{domain.FeatureVolumeCm3: {"x": 1}}}},
		{"unknown feature", &Artifact{Coefficients: map[string]float64{"distance_km": 1}}},
		{"bad unknown policy", &Artifact{HandleUnknown: "guess"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLinearModel(tt.a); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCELModel(t *testing.T) {
	m, err := NewCELModel(`destination_state == "AM" ? approval_days * 2.0 - promised_days : -3.0`)
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	got, err := m.Predict(context.Background(), sampleRow())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if got != -4 {
		t.Errorf("expected -4, got %f", got)
	}

	row := sampleRow()
	row.DestinationState = "RJ"
	got, _ = m.Predict(context.Background(), row)
	if got != -3 {
		t.Errorf("expected -3, got %f", got)
	}
}

func TestCELModelRowMap(t *testing.T) {
	m, err := NewCELModel(`row.category == "automotivo" ? 1 : 0`)
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}
	got, err := m.Predict(context.Background(), sampleRow())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if got != 1 {
		t.Errorf("expected 1, got %f", got)
	}
}

func TestCELModelDynRowExpression(t *testing.T) {
	m, err := NewCELModel(`row["volume_cm3"] * 2.0`)
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}
	got, err := m.Predict(context.Background(), sampleRow())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if got != 24000 {
		t.Errorf("expected 24000, got %f", got)
	}

	// A dyn expression that yields a string fails at evaluation time.
	m, err = NewCELModel(`row["origin_state"]`)
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}
	if _, err := m.Predict(context.Background(), sampleRow()); err == nil {
		t.Error("expected error for non-numeric result")
	}
}

func TestCELModelInvalid(t *testing.T) {
	tests := []string{
		"",
		"this is not valid CEL !!!",
		`origin_state`,
		`promised_days > 3.0`,
	}
	for _, expr := range tests {
		if _, err := NewCELModel(expr); err == nil {
			t.Errorf("expected error for %q", expr)
		}
	}
}

func TestBuildUnknownKind(t *testing.T) {
	if _, err := Build(&Artifact{Kind: "xgboost"}); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestHolderLoadAndReload(t *testing.T) {
	path := writeArtifact(t, `{"name":"delay","version":"1","kind":"linear","intercept":2}`)
	h := NewHolder(path)

	if h.Loaded() {
		t.Fatal("holder should start empty")
	}
	if _, err := h.Predict(context.Background(), sampleRow()); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}

	if err := h.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	got, _ := h.Predict(context.Background(), sampleRow())
	if got != 2 {
		t.Errorf("expected 2, got %f", got)
	}
	info := h.Info()
	if !info.Loaded || info.Name != "delay" || info.Kind != KindLinear {
		t.Errorf("unexpected info: %+v", info)
	}

	if err := os.WriteFile(path, []byte(`{"name":"delay","version":"2","kind":"cel","expression":"7.0"}`), 0o644); err != nil {
		t.Fatalf("failed to rewrite artifact: %v", err)
	}
	if err := h.Load(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, _ = h.Predict(context.Background(), sampleRow())
	if got != 7 {
		t.Errorf("expected 7 after reload, got %f", got)
	}
	if h.Info().Version != "2" {
		t.Errorf("expected version 2, got %s", h.Info().Version)
	}
}

func TestHolderKeepsModelOnFailedReload(t *testing.T) {
	path := writeArtifact(t, `{"kind":"linear","intercept":1}`)
	h := NewHolder(path)
	if err := h.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("failed to corrupt artifact: %v", err)
	}
	if err := h.Load(); err == nil {
		t.Fatal("expected reload error")
	}

	got, err := h.Predict(context.Background(), sampleRow())
	if err != nil || got != 1 {
		t.Errorf("previous model should remain: got %f, %v", got, err)
	}
}

func TestHolderConcurrentPredict(t *testing.T) {
	h := NewHolder("")
	m, _ := NewCELModel("approval_days + 1.0")
	h.Set(m, "test")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got, err := h.Predict(context.Background(), sampleRow()); err != nil || got != 4 {
				t.Errorf("unexpected result %f, %v", got, err)
			}
		}()
	}
	wg.Wait()
}
