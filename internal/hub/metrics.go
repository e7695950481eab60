package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vlcbridge_hub_clients",
		Help: "Number of connected hub WebSocket clients",
	})

	wsMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlcbridge_hub_messages_total",
		Help: "Inbound hub messages by kind, message name and response code",
	}, []string{"kind", "msg", "code"})

	wsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlcbridge_hub_events_total",
		Help: "Outbound hub events by message name",
	}, []string{"msg"})

	artRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlcbridge_art_requests_total",
		Help: "Artwork proxy requests by result",
	}, []string{"result"})
)
