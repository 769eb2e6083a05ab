package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveVerdict("admitted")
	r.ObserveGeoLookup("hit")
	r.LimiterBackendError(false)
	r.AnomalyFlagged("volume")
	r.ObserveScan(time.Second, 1)
	r.LogsPurged(3)
	r.RecordFailed()
	r.SetDenyListSize(2)
	r.DenyListReloaded(true)
}

func TestHandlerExposesRecordedSeries(t *testing.T) {
	r := NewRecorder("")
	r.ObserveVerdict("blocked")
	r.ObserveVerdict("blocked")
	r.AnomalyFlagged("sensitive_paths")
	r.SetDenyListSize(4)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`ipguard_requests_total{verdict="blocked"} 2`,
		`ipguard_anomaly_flags_total{heuristic="sensitive_paths"} 1`,
		`ipguard_denylist_entries 4`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestRecordersAreIndependent(t *testing.T) {
	a := NewRecorder("")
	b := NewRecorder("")
	a.ObserveVerdict("admitted")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `verdict="admitted"`) {
		t.Fatal("recorders must not share a registry")
	}
}
