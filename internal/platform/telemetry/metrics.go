// Package telemetry exposes Prometheus metrics for the record engine and the
// HTTP layer, served on /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chain race outcomes reported by the linker.
const (
	RaceRetried   = "retried"
	RaceExhausted = "exhausted"
)

var (
	recordsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrition_clinical_records_created_total",
		Help: "Clinical records persisted, by record type",
	}, []string{"record_type"})

	chainRaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrition_clinical_record_chain_races_total",
		Help: "Latest-record races detected while attaching a record",
	}, []string{"outcome"})

	chainRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nutrition_clinical_record_chain_repairs_total",
		Help: "Successor records re-linked after an administrative delete",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nutrition_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// RecordCreated counts one persisted record of the given type.
func RecordCreated(recordType string) {
	recordsCreated.WithLabelValues(recordType).Inc()
}

// ChainRace counts a detected latest-record race with its outcome.
func ChainRace(outcome string) {
	chainRaces.WithLabelValues(outcome).Inc()
}

// ChainRepaired counts successors re-linked during a delete.
func ChainRepaired(n int) {
	chainRepairs.Add(float64(n))
}

// Middleware observes request latency labelled by the matched route pattern.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
