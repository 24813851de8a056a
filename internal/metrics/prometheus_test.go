package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc("foo")
	m.Add("bar", 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE ponswarp_signaling_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `ponswarp_signaling_events_total{event="bar"} 2`) {
		t.Fatalf("missing bar counter: %s", body)
	}
	if !strings.Contains(body, `ponswarp_signaling_events_total{event="foo"} 1`) {
		t.Fatalf("missing foo counter: %s", body)
	}
	if !strings.Contains(body, `ponswarp_signaling_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestPrometheusHandler_Gauges(t *testing.T) {
	m := New()
	rr := httptest.NewRecorder()
	PrometheusHandler(m, func() map[string]int {
		return map[string]int{"rooms": 3, "peers": 7}
	}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	if !strings.Contains(body, "ponswarp_signaling_rooms 3") {
		t.Fatalf("missing rooms gauge: %s", body)
	}
	if !strings.Contains(body, "ponswarp_signaling_peers 7") {
		t.Fatalf("missing peers gauge: %s", body)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Inc("x")
	if got := m.Get("x"); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}
	if m.Snapshot() != nil {
		t.Fatalf("expected nil snapshot")
	}
}

func TestMetrics_SnapshotIsCopy(t *testing.T) {
	m := New()
	m.Inc("a")
	snap := m.Snapshot()
	snap["a"] = 99
	if got := m.Get("a"); got != 1 {
		t.Fatalf("Get(a)=%d, want 1", got)
	}
}
