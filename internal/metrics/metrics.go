package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Jobs
	JobsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "printq_jobs_enqueued_total",
			Help: "Total number of print jobs enqueued",
		},
	)
	JobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printq_job_transitions_total",
			Help: "Number of job state transitions",
		},
		[]string{"from", "to"},
	)
	StaleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printq_stale_transitions_total",
			Help: "Transitions that found the job missing or in an unexpected state",
		},
		[]string{"op"}, // op: complete|return
	)

	// Dispatcher
	DispatchCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printq_dispatch_cycles_total",
			Help: "Dispatch cycles by result",
		},
		[]string{"result"}, // result: dispatched|idle|no_printers|no_ready|error
	)
	SubmitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printq_submit_failures_total",
			Help: "Print submissions that failed",
		},
		[]string{"reason"}, // reason: driver|missing_file
	)
	WaitTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "printq_wait_timeouts_total",
			Help: "Completion waits that hit the ceiling",
		},
	)
	WaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "printq_job_wait_seconds",
			Help:    "Time from submission to detected completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 7), // 1s..64s
		},
	)

	// Printers
	PrinterReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "printq_printer_ready",
			Help: "1 when the printer last reported ready",
		},
		[]string{"printer"},
	)

	// Reports
	ReportDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "printq_report_dropped_total",
			Help: "Status reports dropped because a sink failed or the queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued,
		JobTransitions,
		StaleTransitions,
		DispatchCycles,
		SubmitFailures,
		WaitTimeouts,
		WaitSeconds,
		PrinterReady,
		ReportDrops,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func IncJobsEnqueued() {
	JobsEnqueued.Inc()
}

func IncJobTransition(from, to string) {
	JobTransitions.WithLabelValues(from, to).Inc()
}

func IncStaleTransition(op string) {
	StaleTransitions.WithLabelValues(op).Inc()
}

func IncDispatchCycle(result string) {
	DispatchCycles.WithLabelValues(result).Inc()
}

func IncSubmitFailure(reason string) {
	SubmitFailures.WithLabelValues(reason).Inc()
}

func IncWaitTimeout() {
	WaitTimeouts.Inc()
}

func ObserveWait(d time.Duration) {
	WaitSeconds.Observe(d.Seconds())
}

func SetPrinterReady(printer string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	PrinterReady.WithLabelValues(printer).Set(v)
}

func DeletePrinter(printer string) {
	PrinterReady.DeleteLabelValues(printer)
}

func IncReportDrop() {
	ReportDrops.Inc()
}
