package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "densimap_http_requests_total",
		Help: "HTTP requests served, by matched route and status code.",
	}, []string{"route", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "densimap_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds, by matched route.",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})

	featuresReturned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "densimap_geojson_features_returned",
		Help:    "Features per geojson response after zoom and viewport filtering.",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, featuresReturned)
}
