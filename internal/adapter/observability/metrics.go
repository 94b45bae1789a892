package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	WorkersAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workers_alive",
			Help: "Number of live workers by bank",
		},
		[]string{"bank"},
	)
	WorkerStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_starts_total",
			Help: "Total number of workers started",
		},
		[]string{"bank"},
	)
	WorkerStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_stops_total",
			Help: "Total number of workers stopped by reason",
		},
		[]string{"bank", "reason"},
	)
	AdapterFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_failures_total",
			Help: "Total number of failed bank adapter operations",
		},
		[]string{"bank", "operation"},
	)
	StatementCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statement_cycles_total",
			Help: "Total number of completed fetch-upload cycles",
		},
		[]string{"bank"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statement_uploads_total",
			Help: "Total number of statement sink uploads by outcome",
		},
		[]string{"bank", "outcome"},
	)
	UploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statement_upload_duration_seconds",
			Help:    "Statement sink upload duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"bank"},
	)

	BalanceAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balance_alerts_total",
			Help: "Total number of balance alerts emitted by urgency",
		},
		[]string{"urgency"},
	)

	MessengerSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_sends_total",
			Help: "Total number of messenger deliveries by outcome",
		},
		[]string{"outcome"},
	)
	MessengerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_dropped_total",
			Help: "Total number of messages dropped after sustained send failures",
		},
	)

	CaptchaSolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captcha_solves_total",
			Help: "Total number of remote CAPTCHA solve attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(WorkersAlive)
	prometheus.MustRegister(WorkerStartsTotal)
	prometheus.MustRegister(WorkerStopsTotal)
	prometheus.MustRegister(AdapterFailuresTotal)
	prometheus.MustRegister(StatementCyclesTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(UploadDuration)
	prometheus.MustRegister(BalanceAlertsTotal)
	prometheus.MustRegister(MessengerSendsTotal)
	prometheus.MustRegister(MessengerDroppedTotal)
	prometheus.MustRegister(CaptchaSolvesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func WorkerStarted(bank string) {
	WorkerStartsTotal.WithLabelValues(bank).Inc()
	WorkersAlive.WithLabelValues(bank).Inc()
}

func WorkerStopped(bank, reason string) {
	WorkersAlive.WithLabelValues(bank).Dec()
	WorkerStopsTotal.WithLabelValues(bank, reason).Inc()
}

func AdapterFailed(bank, operation string) {
	AdapterFailuresTotal.WithLabelValues(bank, operation).Inc()
}

func CycleCompleted(bank string) {
	StatementCyclesTotal.WithLabelValues(bank).Inc()
}

func UploadSucceeded(bank string, dur time.Duration) {
	UploadsTotal.WithLabelValues(bank, "ok").Inc()
	UploadDuration.WithLabelValues(bank).Observe(dur.Seconds())
}

func UploadFailed(bank string) {
	UploadsTotal.WithLabelValues(bank, "failed").Inc()
}

func AlertEmitted(urgency string) {
	BalanceAlertsTotal.WithLabelValues(urgency).Inc()
}
