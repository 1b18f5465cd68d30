package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector("heron")

	c.ObserveSimulation("at_risk", "national_difficult_access", true, 5, time.Millisecond)
	c.ObserveSimulation("on_time", "local", false, -3, time.Millisecond)
	c.ObserveFailure("prediction_failed")
	c.ObserveIngest(42)
	c.ObserveModelReload(nil)
	c.ObserveModelReload(errors.New("bad artifact"))
	c.ObserveRequest("/simulate", "POST", 200, 3*time.Millisecond)

	if got := testutil.ToFloat64(c.GuardrailOverrides); got != 1 {
		t.Errorf("expected 1 override, got %f", got)
	}
	if got := testutil.ToFloat64(c.SimulationsTotal.WithLabelValues("at_risk", "national_difficult_access")); got != 1 {
		t.Errorf("expected 1 at-risk simulation, got %f", got)
	}
	if got := testutil.ToFloat64(c.OrdersIngestedTotal); got != 42 {
		t.Errorf("expected 42 ingested orders, got %f", got)
	}
	if got := testutil.ToFloat64(c.ModelReloadsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed reload, got %f", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("heron")
	b := NewCollector("heron")

	a.ObserveIngest(1)
	if got := testutil.ToFloat64(b.OrdersIngestedTotal); got != 0 {
		t.Errorf("collectors should not share state, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector("heron")
	c.ObserveFailure("no_model")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `heron_simulation_failures_total{reason="no_model"} 1`) {
		t.Error("metrics output missing failure counter")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveSimulation("on_time", "local", false, 0, 0)
	c.ObserveFailure("x")
	c.ObserveIngest(1)
	c.ObserveModelReload(nil)
	c.ObserveRequest("/", "GET", 200, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil collector should serve 404, got %d", rec.Code)
	}
}
