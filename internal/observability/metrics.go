package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_http_requests_total",
			Help: "Total HTTP requests by status code",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "generation_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_request_errors_total",
			Help: "Total errors by code",
		}, []string{"code"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_runs_total",
			Help: "Completed generation runs by mode",
		}, []string{"mode"},
	)
	RowsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_rows_processed_total",
			Help: "Data rows evaluated by mode",
		}, []string{"mode"},
	)
	AdsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_ads_total",
			Help: "Ads produced by mode",
		}, []string{"mode"},
	)
	AdsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_ads_skipped_total",
			Help: "Ads excluded by platform limits",
		}, []string{"mode"},
	)
	Warnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_warnings_total",
			Help: "Distinct warnings returned by mode",
		}, []string{"mode"},
	)
	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_run_duration_seconds",
		Help:    "Engine run latency seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"mode"})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors,
		RunsTotal, RowsProcessed, AdsGenerated, AdsSkipped, Warnings, RunDuration)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// ObserveRun records one finished engine call.
func ObserveRun(mode string, rows, ads, skipped, warnings int, took time.Duration) {
	RunsTotal.WithLabelValues(mode).Inc()
	RowsProcessed.WithLabelValues(mode).Add(float64(rows))
	AdsGenerated.WithLabelValues(mode).Add(float64(ads))
	AdsSkipped.WithLabelValues(mode).Add(float64(skipped))
	Warnings.WithLabelValues(mode).Add(float64(warnings))
	RunDuration.WithLabelValues(mode).Observe(took.Seconds())
}

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
