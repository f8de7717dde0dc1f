package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/store"
)

var httpRequests = promauto.NewCounterVec(promclient.CounterOpts{
	Name: "packforge_http_requests_total",
	Help: "HTTP requests by method, path and status code",
}, []string{"method", "path", "status"})

var httpDuration = promauto.NewHistogramVec(promclient.HistogramOpts{
	Name:    "packforge_http_request_duration_seconds",
	Help:    "HTTP request latency",
	Buckets: promclient.DefBuckets,
}, []string{"method", "path"})

// Exporter exports Prometheus metrics for the scheduler daemon
type Exporter struct {
	store            store.Store
	startTime        time.Time
	mu               sync.RWMutex
	tickResults      map[string]int64 // result -> count
	dispatchFailures map[string]int64 // kind -> count
}

// NewExporter creates a new Prometheus exporter
func NewExporter(s store.Store) *Exporter {
	return &Exporter{
		store:            s,
		startTime:        time.Now(),
		tickResults:      make(map[string]int64),
		dispatchFailures: make(map[string]int64),
	}
}

// RecordTick records the outcome of one scheduler pass
func (e *Exporter) RecordTick(result string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickResults[result]++
}

// RecordDispatchFailure records a failed job dispatch
func (e *Exporter) RecordDispatchFailure(kind string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatchFailures[kind]++
}

// ServeHTTP serves Prometheus-compatible metrics at /metrics
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Job counts straight from the store, one count per state so the
	// series always exist even at zero.
	jobsByStatus := map[models.JobStatus]int{}
	for _, status := range []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusRunning,
		models.JobStatusDone,
		models.JobStatusFailed,
	} {
		count, err := e.store.CountJobs(status)
		if err != nil {
			http.Error(w, fmt.Sprintf("Error collecting job metrics: %v", err), http.StatusInternalServerError)
			return
		}
		jobsByStatus[status] = count
	}

	fmt.Fprintf(w, "# HELP packforge_jobs_total Total number of jobs by status\n")
	fmt.Fprintf(w, "# TYPE packforge_jobs_total gauge\n")
	for _, status := range []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusRunning,
		models.JobStatusDone,
		models.JobStatusFailed,
	} {
		fmt.Fprintf(w, "packforge_jobs_total{status=\"%s\"} %d\n", status, jobsByStatus[status])
	}

	fmt.Fprintf(w, "\n# HELP packforge_queue_length Number of jobs waiting for a slot\n")
	fmt.Fprintf(w, "# TYPE packforge_queue_length gauge\n")
	fmt.Fprintf(w, "packforge_queue_length %d\n", jobsByStatus[models.JobStatusQueued])

	fmt.Fprintf(w, "\n# HELP packforge_active_jobs Number of currently running jobs\n")
	fmt.Fprintf(w, "# TYPE packforge_active_jobs gauge\n")
	fmt.Fprintf(w, "packforge_active_jobs %d\n", jobsByStatus[models.JobStatusRunning])

	e.mu.RLock()
	fmt.Fprintf(w, "\n# HELP packforge_ticks_total Scheduler passes by result\n")
	fmt.Fprintf(w, "# TYPE packforge_ticks_total counter\n")
	for _, result := range []string{"ok", "saturated", "backlog", "error"} {
		fmt.Fprintf(w, "packforge_ticks_total{result=\"%s\"} %d\n", result, e.tickResults[result])
	}

	fmt.Fprintf(w, "\n# HELP packforge_dispatch_failures_total Dispatches that ended in a failed writeback\n")
	fmt.Fprintf(w, "# TYPE packforge_dispatch_failures_total counter\n")
	for _, kind := range []string{"error", "panic"} {
		fmt.Fprintf(w, "packforge_dispatch_failures_total{kind=\"%s\"} %d\n", kind, e.dispatchFailures[kind])
	}
	e.mu.RUnlock()

	fmt.Fprintf(w, "\n# HELP packforge_uptime_seconds Daemon uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE packforge_uptime_seconds gauge\n")
	fmt.Fprintf(w, "packforge_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	// Append everything registered with the default Prometheus
	// registry (HTTP counters, go_* and process_* collectors).
	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}

	w.Write(buf.Bytes())
}

// HTTPMiddleware records request counts and latency for every route.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
