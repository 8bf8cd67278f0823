package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusObserver(t *testing.T) {
	obs := NewPrometheusObserver()

	obs.IncOnline()
	obs.IncOnline()
	obs.DecOnline()
	obs.RecordPush()
	obs.ObservePushLatency(0.001)
	obs.UpdateEventLag(3)
	obs.RecordResolution("override")
	obs.RecordResolution("override")
	obs.RecordPreferenceWrite()
	obs.ObserveHTTP("/v1/features/resolved", "GET", "200", 0.01)

	rec := httptest.NewRecorder()
	obs.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"featuregate_online_clients 1",
		"featuregate_push_total 1",
		"featuregate_hub_pending_messages 3",
		`featuregate_resolutions_total{source="override"} 2`,
		"featuregate_preference_writes_total 1",
		`featuregate_http_duration_seconds_count{method="GET",path="/v1/features/resolved",status="200"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestObserversAreIndependent(t *testing.T) {
	a := NewPrometheusObserver()
	b := NewPrometheusObserver()
	a.RecordPush()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "featuregate_push_total 1") {
		t.Error("observers share state through a global registry")
	}
}
