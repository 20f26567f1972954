// Package metrics exposes workflow counters and HTTP timings to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaxtrack"

// Recorder holds the service's collectors. A nil *Recorder is valid and
// records nothing, which keeps tests free of registry setup.
type Recorder struct {
	transitions   *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	drained       *prometheus.CounterVec
	drainFailures *prometheus.CounterVec
	configGaps    *prometheus.CounterVec
	drainDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "appointment_transitions_total",
				Help:      "Appointment status transitions",
			},
			[]string{"from", "to"},
		),
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bookings_total",
				Help:      "Booking attempts by outcome",
			},
			[]string{"outcome"},
		),
		drained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_requests_processed_total",
				Help:      "Pending vaccine requests turned into enrollments",
			},
			[]string{"kind"},
		),
		drainFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pending_requests_failed_total",
				Help:      "Pending vaccine requests left queued after a failed attempt",
			},
			[]string{"kind"},
		),
		configGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dose_interval_gaps_total",
				Help:      "Doses left unscheduled because no interval was configured",
			},
			[]string{"vaccine_id"},
		),
		drainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pending_drain_duration_seconds",
				Help:      "Time spent draining one appointment's pending requests",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(
		r.transitions, r.bookings, r.drained, r.drainFailures,
		r.configGaps, r.drainDuration, r.httpRequests, r.httpDuration,
	)
	return r
}

func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) Booking(outcome string) {
	if r == nil {
		return
	}
	r.bookings.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RequestProcessed(kind string) {
	if r == nil {
		return
	}
	r.drained.WithLabelValues(kind).Inc()
}

func (r *Recorder) RequestFailed(kind string) {
	if r == nil {
		return
	}
	r.drainFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) ConfigGaps(vaccineID string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.configGaps.WithLabelValues(vaccineID).Add(float64(n))
}

func (r *Recorder) ObserveDrain(d time.Duration) {
	if r == nil {
		return
	}
	r.drainDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency labelled by route template.
func (r *Recorder) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			method := c.Request().Method
			r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			r.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
