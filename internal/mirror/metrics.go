package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mirrorPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vlcbridge_mqtt_state_publishes_total",
		Help: "Player states published to the MQTT mirror.",
	})

	mirrorCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlcbridge_mqtt_commands_total",
		Help: "Commands received on MQTT command topics, by result.",
	}, []string{"result"})

	telemetryPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vlcbridge_telemetry_points_total",
		Help: "Points queued for the time-series store.",
	})
)
