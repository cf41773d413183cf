package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncJobTransition(t *testing.T) {
	before := testutil.ToFloat64(JobTransitions.WithLabelValues("assigned", "pending"))
	IncJobTransition("assigned", "pending")
	after := testutil.ToFloat64(JobTransitions.WithLabelValues("assigned", "pending"))

	if after-before != 1 {
		t.Fatalf("transition counter delta = %v, want 1", after-before)
	}
}

func TestSetPrinterReady(t *testing.T) {
	SetPrinterReady("P1", true)
	if got := testutil.ToFloat64(PrinterReady.WithLabelValues("P1")); got != 1 {
		t.Fatalf("ready gauge = %v, want 1", got)
	}
	SetPrinterReady("P1", false)
	if got := testutil.ToFloat64(PrinterReady.WithLabelValues("P1")); got != 0 {
		t.Fatalf("ready gauge = %v, want 0", got)
	}
	DeletePrinter("P1")
}

func TestHandlerExposesMetrics(t *testing.T) {
	IncJobsEnqueued()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "printq_jobs_enqueued_total") {
		t.Fatalf("metrics output missing printq_jobs_enqueued_total")
	}
}
