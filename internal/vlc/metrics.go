package vlc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlcbridge_vlc_requests_total",
		Help: "Requests issued to VLC HTTP interfaces by operation and outcome",
	}, []string{
		"op",     // probe|status|command|art
		"result", // ok|error|skipped
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vlcbridge_vlc_request_duration_seconds",
		Help:    "Latency of VLC HTTP interface requests",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"op"})
)

func observeRequest(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	requestsTotal.WithLabelValues(op, result).Inc()
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func observeSkipped(op string) {
	requestsTotal.WithLabelValues(op, "skipped").Inc()
}
