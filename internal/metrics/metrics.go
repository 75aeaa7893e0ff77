// Package metrics exposes scheduler and job metrics in Prometheus format.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopost/internal/model"
)

const namespace = "autopost"

type Collector struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	dispatched    *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	inFlight      prometheus.Gauge
	entries       *prometheus.GaugeVec
	persistErrors prometheus.Counter
	ticks         prometheus.Counter
	httpTotal     *prometheus.CounterVec
}

// New builds a collector on a private registry, with Go runtime and process
// collectors included.
func New() (*Collector, error) {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "total",
			Help: "Finished job executions by platform and status.",
		}, []string{"platform", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Job execution time by platform.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"platform"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "dispatched_total",
			Help: "Entries handed to the runner.",
		}, []string{"platform"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "skipped_total",
			Help: "Due entries not dispatched on a tick, by reason.",
		}, []string{"reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "in_flight",
			Help: "Jobs currently executing.",
		}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "entries",
			Help: "Schedule entries by status.",
		}, []string{"status"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "persist_errors_total",
			Help: "Failed store writes observed by the scheduler.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler ticks evaluated.",
		}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Debug server requests.",
		}, []string{"path", "status"}),
	}
	for _, col := range []prometheus.Collector{
		c.jobsTotal, c.jobDuration, c.dispatched, c.skipped, c.inFlight,
		c.entries, c.persistErrors, c.ticks, c.httpTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveJob(platform string, status model.JobStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(platform, string(status)).Inc()
	c.jobDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (c *Collector) Dispatched(platform string) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(platform).Inc()
	c.inFlight.Inc()
}

func (c *Collector) Done() {
	if c == nil {
		return
	}
	c.inFlight.Dec()
}

func (c *Collector) Skipped(reason string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(reason).Inc()
}

func (c *Collector) PersistError() {
	if c == nil {
		return
	}
	c.persistErrors.Inc()
}

// AlertFailures exports a counter read from fn, the log alert sink's count
// of failed sends.
func (c *Collector) AlertFailures(fn func() int64) error {
	if c == nil || fn == nil {
		return nil
	}
	return c.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "log", Name: "alert_failures_total",
		Help: "Log alerts the Telegram sink failed to send.",
	}, func() float64 { return float64(fn()) }))
}

func (c *Collector) Tick() {
	if c == nil {
		return
	}
	c.ticks.Inc()
}

// SetEntries publishes the current count of entries per status.
func (c *Collector) SetEntries(counts map[model.EntryStatus]int) {
	if c == nil {
		return
	}
	for _, s := range []model.EntryStatus{model.EntryIdle, model.EntryRunning, model.EntryDisabled} {
		c.entries.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// InstrumentHandler counts requests served by next.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		c.httpTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
