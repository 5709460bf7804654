package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetIndexed(3)
	m.IngestResult("added")
	m.PatchOutcome("patched", 0.1)
	m.PluginFailure("x", "apply")
	m.SetGate(false)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetIndexed(7)
	m.IngestResult("added")
	m.SetGate(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"adgobye_indexed_contents 7",
		`adgobye_ingest_results_total{result="added"} 1`,
		"adgobye_gate_open 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
