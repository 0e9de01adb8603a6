// Package metrics exposes Prometheus instrumentation for the trace
// sub-pipeline: envelopes emitted per stage, live trace handles,
// contexts created/destroyed, limit hits, and the ambient process and
// HTTP metrics every endpoint already reports through.
package metrics

import (
	"io/ioutil"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// EnvelopesEmittedTotal counts envelopes successfully handed to an
	// embedded emitter input, by host input and stage.
	EnvelopesEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracepipe_envelopes_emitted_total",
			Help: "Total number of trace envelopes emitted, by host input and stage",
		},
		[]string{"host_input", "stage"},
	)

	// EnvelopesDiscardedTotal counts envelopes dropped because the
	// packed-records buffer failed to decode (spec's DecodeFailure).
	EnvelopesDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracepipe_envelopes_discarded_total",
			Help: "Total number of trace envelopes discarded due to malformed input",
		},
		[]string{"host_input", "stage"},
	)

	// LiveHandles reports the current live TraceEvent count per host
	// input's context.
	LiveHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracepipe_context_live_handles",
			Help: "Current number of live TraceEvents for a host input's trace context",
		},
		[]string{"host_input"},
	)

	// ContextsCreatedTotal counts successful context_new calls.
	ContextsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracepipe_contexts_created_total",
			Help: "Total number of trace contexts successfully created",
		},
		[]string{"host_input", "output_kind"},
	)

	// ContextsDestroyedTotal counts context_destroy requests handled by
	// the control surface, whether the teardown they start is immediate
	// or deferred, and whether or not a context was installed.
	ContextsDestroyedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracepipe_contexts_destroyed_total",
			Help: "Total number of trace context destroy requests handled",
		},
		[]string{"host_input"},
	)

	// LimitHitsTotal counts every observed limit-hit that triggered a
	// self-requested destroy, by limit kind.
	LimitHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracepipe_limit_hits_total",
			Help: "Total number of times a context's configured limit was observed hit",
		},
		[]string{"host_input", "limit_kind"},
	)

	// OutputSendDuration measures how long a sink's Send call took.
	OutputSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracepipe_output_send_duration_seconds",
			Help:    "Time spent delivering a batch of entries to an output",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"output_kind"},
	)

	// HTTPResponseTimeSeconds measures control-surface latency.
	HTTPResponseTimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracepipe_http_response_time_seconds",
			Help:    "HTTP control surface response time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// Process-level metrics, reported by UpdateSystemMetrics.
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracepipe_memory_usage_bytes",
			Help: "Process memory usage by category",
		},
		[]string{"category"},
	)
	Goroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracepipe_goroutines",
		Help: "Current number of goroutines",
	})
	GCRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracepipe_gc_runs_total",
		Help: "Total number of completed GC cycles",
	})
	FileDescriptors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracepipe_open_file_descriptors",
		Help: "Current number of open file descriptors",
	})
)

var metricsRegisteredOnce sync.Once

// lastNumGC is the GC cycle count seen by the previous
// UpdateSystemMetrics call, so GCRuns only grows by new cycles.
var lastNumGC uint32

// safeRegister registers collector, tolerating a duplicate
// registration (the same metric being wired up by two independently
// constructed components) rather than panicking.
func safeRegister(collector prometheus.Collector) {
	defer func() {
		recover()
	}()
	prometheus.MustRegister(collector)
}

// Server serves Prometheus's scrape endpoint and a basic liveness
// check on its own listener, separate from the trace control surface.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer returns a metrics Server bound to addr. Metrics are
// registered exactly once across the process regardless of how many
// Server instances are constructed.
func NewServer(addr string, logger *logrus.Logger) *Server {
	metricsRegisteredOnce.Do(func() {
		safeRegister(EnvelopesEmittedTotal)
		safeRegister(EnvelopesDiscardedTotal)
		safeRegister(ContextsDestroyedTotal)
		safeRegister(OutputSendDuration)
		safeRegister(HTTPResponseTimeSeconds)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start begins serving in the background. Errors other than a clean
// shutdown are logged, not returned, matching the fire-and-forget
// lifecycle of the teacher's metrics server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Stop closes the metrics listener.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")
	return s.server.Close()
}

// RecordEnvelopeEmitted increments EnvelopesEmittedTotal for one
// successful emission.
func RecordEnvelopeEmitted(hostInput, stage string) {
	EnvelopesEmittedTotal.WithLabelValues(hostInput, stage).Inc()
}

// RecordEnvelopeDiscarded increments EnvelopesDiscardedTotal for one
// decode failure.
func RecordEnvelopeDiscarded(hostInput, stage string) {
	EnvelopesDiscardedTotal.WithLabelValues(hostInput, stage).Inc()
}

// RecordContextCreated increments ContextsCreatedTotal.
func RecordContextCreated(hostInput, outputKind string) {
	ContextsCreatedTotal.WithLabelValues(hostInput, outputKind).Inc()
}

// RecordContextDestroyed increments ContextsDestroyedTotal.
func RecordContextDestroyed(hostInput string) {
	ContextsDestroyedTotal.WithLabelValues(hostInput).Inc()
}

// RecordLimitHit increments LimitHitsTotal for the given limit kind.
func RecordLimitHit(hostInput, limitKind string) {
	LimitHitsTotal.WithLabelValues(hostInput, limitKind).Inc()
}

// SetLiveHandles sets the live handle gauge for a host input.
func SetLiveHandles(hostInput string, count int) {
	LiveHandles.WithLabelValues(hostInput).Set(float64(count))
}

// RecordOutputSendDuration observes how long a Send call took.
func RecordOutputSendDuration(outputKind string, d time.Duration) {
	OutputSendDuration.WithLabelValues(outputKind).Observe(d.Seconds())
}

// RecordHTTPResponseTime observes control-surface request latency.
func RecordHTTPResponseTime(endpoint, method string, d time.Duration) {
	HTTPResponseTimeSeconds.WithLabelValues(endpoint, method).Observe(d.Seconds())
}

// UpdateSystemMetrics refreshes the process-level gauges. Intended to
// be called on a timer from the owning process, mirroring the
// teacher's EnhancedMetrics.UpdateSystemMetrics.
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))

	Goroutines.Set(float64(runtime.NumGoroutine()))
	GCRuns.Add(float64(m.NumGC - lastNumGC))
	lastNumGC = m.NumGC

	if fds := getOpenFileDescriptors(); fds >= 0 {
		FileDescriptors.Set(float64(fds))
	}
}

func getOpenFileDescriptors() int {
	files, err := ioutil.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(files)
}
