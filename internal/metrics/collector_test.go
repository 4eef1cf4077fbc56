package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", `outcome="a"`)
	b := c.Counter("x_total", "x", `outcome="a"`)
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Errorf("expected shared counter value 3, got %d", a.Value())
	}
}

func TestGauge_IncDec(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("inflight", "in flight", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Errorf("expected 1, got %d", g.Value())
	}
	g.Set(7)
	if g.Value() != 7 {
		t.Errorf("expected 7, got %d", g.Value())
	}
}

func TestRender_Histogram(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("fetch_seconds", "fetch", `kind="audio"`, []float64{1, 10})
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	out := c.Render()
	for _, want := range []string{
		"# TYPE fetch_seconds histogram",
		`fetch_seconds_bucket{kind="audio",le="1"} 1`,
		`fetch_seconds_bucket{kind="audio",le="10"} 2`,
		`fetch_seconds_bucket{kind="audio",le="+Inf"} 3`,
		`fetch_seconds_count{kind="audio"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q\n%s", want, out)
		}
	}
	if h.Count() != 3 {
		t.Errorf("Count: got %d", h.Count())
	}
}

func TestHandler_CountersWithLabels(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("outcomes_total", "by outcome", `outcome="deduped"`).Inc()
	c.Counter("outcomes_total", "by outcome", `outcome="processed"`).Add(2)

	rr := httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	if strings.Count(body, "# TYPE outcomes_total counter") != 1 {
		t.Errorf("expected one TYPE line:\n%s", body)
	}
	if !strings.Contains(body, `outcomes_total{outcome="processed"} 2`) {
		t.Errorf("missing processed series:\n%s", body)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type: %q", rr.Header().Get("Content-Type"))
	}
}

func TestOutcome_RegistersOnGlobalCollector(t *testing.T) {
	before := Outcome("test_only").Value()
	Outcome("test_only").Inc()
	if Outcome("test_only").Value() != before+1 {
		t.Error("Outcome should return the same counter")
	}
}
