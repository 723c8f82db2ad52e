// Package telemetry exposes harvest counters to prometheus. Render failures
// and product aborts never surface as errors, so these counters are the
// place to see them.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "review_harvester"

// Render levels.
const (
	LevelSearch = "search"
	LevelReview = "review"
)

var (
	RenderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "render_requests_total", Help: "Page renders."},
		[]string{"level", "status"}, // status: ok|error
	)
	RenderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "render_duration_seconds",
			Help:    "Page render duration seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"level"},
	)
	ProductWalks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "product_walks_total", Help: "Product review walks by outcome."},
		[]string{"outcome"}, // outcome: completed|aborted
	)
	RecordsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "records_extracted_total", Help: "Review records extracted."},
	)
	FieldsAbsent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fields_absent_total", Help: "Review fields that resolved to null."},
		[]string{"field"},
	)
	CardsWithoutLink = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "cards_without_link_total", Help: "Search result cards skipped for lack of a link."},
	)
)

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(RenderRequests, RenderLatency, ProductWalks, RecordsExtracted, FieldsAbsent, CardsWithoutLink)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveRender(level string, err error, dur time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RenderRequests.WithLabelValues(level, status).Inc()
	RenderLatency.WithLabelValues(level).Observe(dur.Seconds())
}

func ObserveWalk(completed bool) {
	if completed {
		ProductWalks.WithLabelValues("completed").Inc()
		return
	}
	ProductWalks.WithLabelValues("aborted").Inc()
}

func ObserveRecords(n int) { RecordsExtracted.Add(float64(n)) }

func ObserveAbsentField(field string) { FieldsAbsent.WithLabelValues(field).Inc() }

func ObserveCardsWithoutLink(n int) { CardsWithoutLink.Add(float64(n)) }
