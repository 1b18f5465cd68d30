package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/heron/internal/analytics"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/estimator"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/model"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/simulation"
)

type testEnv struct {
	server   *Server
	holder   *model.Holder
	bus      *bus.ChannelBus
	artifact string
}

// createTestServer wires the full stack on a temp SQLite file. The model
// artifact predicts a flat -2 days.
func createTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	artifact := filepath.Join(dir, "model.json")
	if err := os.WriteFile(artifact, []byte(`{"name":"flat","version":"1","kind":"linear","intercept":-2}`), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "heron.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	holder := model.NewHolder(artifact)
	if err := holder.Load(); err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	catalog := features.NewCatalog(nil)
	m := metrics.NewCollector("heron")
	kpis := analytics.NewService(repo, c, m, domain.AnalyticsConfig{TopN: 10})
	est := estimator.New(features.NewDeriver(catalog), holder)

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	server := NewServer(cfg, Deps{
		Repo:        repo,
		Cache:       c,
		Bus:         eventBus,
		Simulations: simulation.NewService(est, holder, repo, eventBus, m),
		Model:       holder,
		Catalog:     catalog,
		Ingestor:    dataset.NewIngestor(repo, catalog, kpis, eventBus),
		Analytics:   kpis,
		Metrics:     m,
		Version:     "test-v1",
	})

	return &testEnv{server: server, holder: holder, bus: eventBus, artifact: artifact}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func simulateBody(origin, dest string, promised int) domain.SimulationRequest {
	return domain.SimulationRequest{
		OriginState:      origin,
		DestinationState: dest,
		PromisedDays:     promised,
		ApprovalDays:     0,
		Category:         "Automotivo",
		WeightGrams:      1200,
		LengthCm:         30,
		WidthCm:          20,
		HeightCm:         15,
	}
}

func TestSimulateEndpoint(t *testing.T) {
	env := createTestServer(t)

	t.Run("GuardrailOverride", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulate", simulateBody("AM", "RJ", 7))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[SimulateResponse](t, rr)
		if resp.SimulationID == "" {
			t.Error("expected simulationId in response")
		}
		est := resp.Estimate
		if est.ModelPredictionDays != -2 || est.PhysicalFloorDays != 5 || est.FinalPredictionDays != 5 {
			t.Errorf("unexpected estimate: model=%v floor=%v final=%v",
				est.ModelPredictionDays, est.PhysicalFloorDays, est.FinalPredictionDays)
		}
		if !est.WasOverriddenByRule || est.Outcome != domain.OutcomeAtRisk {
			t.Errorf("expected overridden at-risk estimate, got %+v", est)
		}
		if est.TotalEstimatedDays != 12 {
			t.Errorf("expected total 12, got %v", est.TotalEstimatedDays)
		}
		if resp.Metadata.ModelName != "flat" || resp.Metadata.Version != "test-v1" {
			t.Errorf("unexpected metadata: %+v", resp.Metadata)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace header")
		}
	})

	t.Run("OnTime", func(t *testing.T) {
		body := simulateBody("SP", "SP", 10)
		body.ApprovalDays = 1
		rr := env.do(t, http.MethodPost, "/simulate", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		est := decode[SimulateResponse](t, rr).Estimate
		if est.Outcome != domain.OutcomeOnTime || est.MarginDays != 2 {
			t.Errorf("expected on time with margin 2, got %+v", est)
		}
		if est.WasOverriddenByRule {
			t.Error("model above floor must not be overridden")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulate", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		body := simulateBody("SP", "RJ", 10)
		body.LengthCm = 0
		rr := env.do(t, http.MethodPost, "/simulate", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		resp := decode[map[string]any](t, rr)
		fields, _ := resp["fields"].(map[string]any)
		if _, ok := fields["lengthCm"]; !ok {
			t.Errorf("expected lengthCm in fields, got %v", resp)
		}
	})

	t.Run("Async", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/simulate?async=true", simulateBody("SP", "RJ", 10))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		if decode[map[string]string](t, rr)["simulationId"] == "" {
			t.Error("expected simulationId for queued simulation")
		}
	})
}

func TestSimulateWithoutModel(t *testing.T) {
	env := createTestServer(t)
	env.holder = model.NewHolder("")
	env.server = NewServer(domain.ServerConfig{}, Deps{
		Simulations: simulation.NewService(
			estimator.New(features.NewDeriver(features.NewCatalog(nil)), env.holder), env.holder, nil, nil, nil),
		Model:   env.holder,
		Catalog: features.NewCatalog(nil),
	})

	rr := env.do(t, http.MethodPost, "/simulate", simulateBody("SP", "RJ", 10))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/simulate?async=true", simulateBody("SP", "RJ", 10))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected async status 503, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected ready 503 without model, got %d", rr.Code)
	}
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, domain.FeatureRow) (float64, error) {
	return 0, model.ErrUnknownLevel
}

func TestSimulatePredictionFailure(t *testing.T) {
	env := createTestServer(t)
	env.holder.Set(failingPredictor{}, "strict")

	rr := env.do(t, http.MethodPost, "/simulate", simulateBody("SP", "RJ", 10))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if msg := decode[map[string]string](t, rr)["error"]; !strings.HasPrefix(msg, "simulation failed:") {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestSimulationRecords(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodPost, "/simulate", simulateBody("BA", "PE", 5))
	id := decode[SimulateResponse](t, rr).SimulationID

	t.Run("Get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations/"+id, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		sim := decode[domain.Simulation](t, rr)
		if sim.Estimate.Route.Kind != domain.RouteRegional {
			t.Errorf("expected regional route, got %s", sim.Estimate.Route.Kind)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations?limit=5", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[struct {
			Count int `json:"count"`
		}](t, rr)
		if resp.Count != 1 {
			t.Errorf("expected 1 simulation, got %d", resp.Count)
		}
	})

	t.Run("BadLimit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/simulations?limit=-1", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestReferenceEndpoints(t *testing.T) {
	env := createTestServer(t)

	t.Run("ClassifyRoute", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/routes/classify?origin=SP&destination=AM", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		route := decode[domain.RouteProfile](t, rr)
		if route.Kind != domain.RouteNationalDifficultAccess || route.MinTransitDays != 12 {
			t.Errorf("unexpected route: %+v", route)
		}
	})

	t.Run("ClassifyRouteMissingParam", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/routes/classify?origin=SP", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Regions", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/regions", nil)
		resp := decode[struct {
			States []map[string]any `json:"states"`
		}](t, rr)
		if len(resp.States) != 27 {
			t.Errorf("expected 27 states, got %d", len(resp.States))
		}
	})

	t.Run("CategoriesEmptyDataset", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/categories", nil)
		resp := decode[map[string][]string](t, rr)
		if len(resp["categories"]) != 1 || resp["categories"][0] != features.DefaultLabel {
			t.Errorf("expected default label, got %v", resp["categories"])
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodGet, "/model", nil)
	info := decode[model.Info](t, rr)
	if !info.Loaded || info.Name != "flat" {
		t.Errorf("unexpected model info: %+v", info)
	}

	if err := os.WriteFile(env.artifact, []byte(`{"name":"flat","version":"2","kind":"linear","intercept":1}`), 0o644); err != nil {
		t.Fatalf("failed to rewrite artifact: %v", err)
	}
	rr = env.do(t, http.MethodPost, "/model/reload", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := env.holder.Info().Version; got != "2" {
		t.Errorf("expected version 2 after reload, got %q", got)
	}

	if err := os.WriteFile(env.artifact, []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("failed to rewrite artifact: %v", err)
	}
	rr = env.do(t, http.MethodPost, "/model/reload", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 on bad artifact, got %d", rr.Code)
	}
	if got := env.holder.Info().Version; got != "2" {
		t.Errorf("failed reload must keep version 2, got %q", got)
	}
}

func TestOrdersAndKPIs(t *testing.T) {
	env := createTestServer(t)

	orders := []domain.Order{
		{ID: "o1", Status: "Entregue", CustomerState: "SP", CategoryCode: "automotivo", CategoryLabel: "Automotivo", Revenue: 100},
		{ID: "o2", Status: "Entregue", CustomerState: "RJ", CategoryCode: "beleza_saude", CategoryLabel: "Beleza & Saúde", Revenue: 50, Late: true, DelayDays: 4},
		{ID: "o3", Status: domain.StatusCanceled, CustomerState: "SP", CategoryCode: "automotivo", CategoryLabel: "Automotivo"},
	}

	rr := env.do(t, http.MethodGet, "/kpis", nil)
	if decode[analytics.Snapshot](t, rr).KPIs.Orders != 0 {
		t.Fatal("expected empty dataset before ingest")
	}

	rr = env.do(t, http.MethodPost, "/orders", orders)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	result := decode[dataset.IngestResult](t, rr)
	if result.Saved != 3 || result.Categories != 2 {
		t.Errorf("unexpected ingest result: %+v", result)
	}

	t.Run("CacheInvalidatedByIngest", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/kpis", nil)
		snap := decode[analytics.Snapshot](t, rr)
		if snap.KPIs.Orders != 3 {
			t.Errorf("expected 3 orders after ingest, got %d", snap.KPIs.Orders)
		}
		if snap.KPIs.Revenue != 150 {
			t.Errorf("expected revenue 150, got %v", snap.KPIs.Revenue)
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/kpis?states=SP&statuses=Entregue,Cancelado", nil)
		snap := decode[analytics.Snapshot](t, rr)
		if snap.KPIs.Orders != 2 {
			t.Errorf("expected 2 SP orders, got %d", snap.KPIs.Orders)
		}
		if snap.KPIs.CancelRatePct != 50 {
			t.Errorf("expected 50%% cancel rate, got %v", snap.KPIs.CancelRatePct)
		}
	})

	t.Run("Options", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/kpis/options", nil)
		opts := decode[analytics.FilterOptions](t, rr)
		if len(opts.States) != 2 || len(opts.Categories) != 2 {
			t.Errorf("unexpected options: %+v", opts)
		}
	})

	t.Run("CategoriesFromDataset", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/categories", nil)
		cats := decode[map[string][]string](t, rr)["categories"]
		if len(cats) != 2 {
			t.Errorf("expected 2 categories, got %v", cats)
		}

		rr = env.do(t, http.MethodPost, "/categories/reload", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("InvalidOrder", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/orders", []domain.Order{{ID: "bad"}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/orders", "[]")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthAndMetrics(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	health := decode[map[string]any](t, rr)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", health)
	}
	if health["modelLoaded"] != true {
		t.Error("expected modelLoaded true")
	}

	rr = env.do(t, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected ready 200, got %d", rr.Code)
	}

	env.do(t, http.MethodGet, "/simulations/missing", nil)

	rr = env.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `route="/simulations/{id}"`) {
		t.Error("expected request metrics labeled by route pattern")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := createTestServer(t)

	rr := env.do(t, http.MethodOptions, "/simulate", nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS header")
	}
}
