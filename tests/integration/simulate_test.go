//go:build integration

// Package integration runs end-to-end checks against a live Heron server.
//
// The server must run with a model loaded:
//
//	HERON_MODEL_PATH=./models/delay_model.json go run ./cmd/heron
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The model itself is opaque here, so simulations are checked for the
// guardrail relations that hold for any model:
//
//	final = max(model, floor), floor = approval + min transit - promised
//	total = promised + final, at risk exactly when final > 0
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()
	baseURL := os.Getenv("HERON_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	resp, err := http.Get(baseURL + "/ready")
	if err != nil {
		t.Skipf("Heron not reachable at %s: %v", baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("Heron at %s has no model loaded", baseURL)
	}
	return TestConfig{BaseURL: baseURL}
}

// SimulateResponse is what POST /simulate returns
type SimulateResponse struct {
	SimulationID string               `json:"simulationId"`
	Estimate     domain.DelayEstimate `json:"estimate"`
	Metadata     struct {
		TraceID   string `json:"traceId"`
		ModelName string `json:"modelName"`
		TotalMs   int64  `json:"totalMs"`
		Version   string `json:"version"`
	} `json:"metadata"`
}

func call(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func simulate(t *testing.T, config TestConfig, req domain.SimulationRequest) SimulateResponse {
	t.Helper()

	status, body := call(t, http.MethodPost, config.BaseURL+"/simulate", req)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result SimulateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func order(origin, dest string, promised, approval int) domain.SimulationRequest {
	return domain.SimulationRequest{
		OriginState:      origin,
		DestinationState: dest,
		PromisedDays:     promised,
		ApprovalDays:     approval,
		Category:         "Automotivo",
		WeightGrams:      1500,
		LengthCm:         30,
		WidthCm:          20,
		HeightCm:         10,
	}
}

func checkGuardrail(t *testing.T, req domain.SimulationRequest, est domain.DelayEstimate) {
	t.Helper()

	floor := float64(req.ApprovalDays + est.Route.MinTransitDays - req.PromisedDays)
	if est.PhysicalFloorDays != floor {
		t.Errorf("floor: expected %v, got %v", floor, est.PhysicalFloorDays)
	}
	if est.FinalPredictionDays != math.Max(est.ModelPredictionDays, floor) {
		t.Errorf("final %v is not max(model %v, floor %v)", est.FinalPredictionDays, est.ModelPredictionDays, floor)
	}
	if est.WasOverriddenByRule != (est.FinalPredictionDays > est.ModelPredictionDays) {
		t.Errorf("override flag %v inconsistent with final %v and model %v",
			est.WasOverriddenByRule, est.FinalPredictionDays, est.ModelPredictionDays)
	}
	if est.TotalEstimatedDays != float64(req.PromisedDays)+est.FinalPredictionDays {
		t.Errorf("total: expected %v, got %v", float64(req.PromisedDays)+est.FinalPredictionDays, est.TotalEstimatedDays)
	}
	if est.AtRisk() != (est.FinalPredictionDays > 0) {
		t.Errorf("outcome %s inconsistent with final %v", est.Outcome, est.FinalPredictionDays)
	}
}

// ============================================================================
// SCENARIO 1: Difficult-access route with a short promise is always at risk
// ============================================================================

func TestDifficultAccessRoute_ShortPromiseAtRisk(t *testing.T) {
	/*
	   SCENARIO: SP -> AM promised in 3 days, approval 2 days

	   EXPECTED BEHAVIOR:
	   - Route: North destination -> Nacional (Difícil Acesso), 12 days minimum
	   - Floor: 2 + 12 - 3 = 11 days late at best
	   - Whatever the model says, final >= 11 -> at risk
	*/
	config := getTestConfig(t)
	req := order("SP", "AM", 3, 2)

	result := simulate(t, config, req)
	est := result.Estimate

	if est.Route.Kind != domain.RouteNationalDifficultAccess {
		t.Errorf("Expected difficult-access route, got %s", est.Route.Kind)
	}
	checkGuardrail(t, req, est)
	if est.FinalPredictionDays < 11 || !est.AtRisk() {
		t.Errorf("Expected at least 11 days late and at risk, got %v (%s)", est.FinalPredictionDays, est.Outcome)
	}
	if result.SimulationID == "" {
		t.Error("Expected simulationId")
	}
}

// ============================================================================
// SCENARIO 2: Guardrail relations hold across every route kind
// ============================================================================

func TestGuardrailAcrossRoutes(t *testing.T) {
	config := getTestConfig(t)

	cases := []struct {
		name string
		req  domain.SimulationRequest
		kind domain.RouteKind
	}{
		{"Local", order("SP", "SP", 10, 1), domain.RouteLocal},
		{"Regional", order("RS", "SC", 8, 1), domain.RouteRegional},
		{"National", order("SP", "BA", 15, 2), domain.RouteNational},
		{"DifficultAccess", order("PA", "RJ", 20, 0), domain.RouteNationalDifficultAccess},
		{"UnknownCategory", func() domain.SimulationRequest {
			r := order("MG", "GO", 12, 1)
			r.Category = "Categoria Inexistente"
			return r
		}(), domain.RouteNational},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := simulate(t, config, tc.req)
			if result.Estimate.Route.Kind != tc.kind {
				t.Errorf("Expected route %s, got %s", tc.kind, result.Estimate.Route.Kind)
			}
			checkGuardrail(t, tc.req, result.Estimate)
		})
	}
}

// ============================================================================
// SCENARIO 3: Stored simulations are retrievable
// ============================================================================

func TestSimulationIsStored(t *testing.T) {
	config := getTestConfig(t)
	result := simulate(t, config, order("BA", "PE", 6, 1))

	status, body := call(t, http.MethodGet, config.BaseURL+"/simulations/"+result.SimulationID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var sim domain.Simulation
	if err := json.Unmarshal(body, &sim); err != nil {
		t.Fatalf("Failed to unmarshal simulation: %v", err)
	}
	if sim.Estimate.FinalPredictionDays != result.Estimate.FinalPredictionDays {
		t.Errorf("Stored final %v differs from response %v", sim.Estimate.FinalPredictionDays, result.Estimate.FinalPredictionDays)
	}
}

// ============================================================================
// SCENARIO 4: Invalid input never reaches the estimator
// ============================================================================

func TestInvalidInputRejected(t *testing.T) {
	config := getTestConfig(t)

	req := order("SP", "RJ", 10, 0)
	req.HeightCm = 0

	status, body := call(t, http.MethodPost, config.BaseURL+"/simulate", req)
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d: %s", status, string(body))
	}
}

// ============================================================================
// SCENARIO 5: Route classification endpoint matches simulator routes
// ============================================================================

func TestClassifyRoute(t *testing.T) {
	config := getTestConfig(t)

	status, body := call(t, http.MethodGet, config.BaseURL+"/routes/classify?origin=rr&destination=am", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var route domain.RouteProfile
	if err := json.Unmarshal(body, &route); err != nil {
		t.Fatalf("Failed to unmarshal route: %v", err)
	}
	// Both in the North: the regional rule wins over difficult access.
	if route.Kind != domain.RouteRegional || route.MinTransitDays != 4 {
		t.Errorf("Expected regional route with 4 days, got %+v", route)
	}
}
