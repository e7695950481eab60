package mirror

import (
	"context"

	"github.com/nerrad567/vlcbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
)

// measurementDeviceState records session device-state transitions.
const measurementDeviceState = "device_state"

// PointWriter is the time-series surface Telemetry needs. *influxdb.Client
// satisfies it.
type PointWriter interface {
	WritePlayerState(p influxdb.PlayerPoint)
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// Telemetry writes every push as a time-series point. Writes are
// non-blocking.
type Telemetry struct {
	w PointWriter
}

// NewTelemetry creates a telemetry observer.
func NewTelemetry(w PointWriter) *Telemetry {
	return &Telemetry{w: w}
}

// ObserveState writes a player_state point.
func (t *Telemetry) ObserveState(_ context.Context, entityID string, state player.State) {
	t.w.WritePlayerState(influxdb.PlayerPoint{
		EntityID: entityID,
		State:    string(state.Playback),
		Volume:   state.Volume,
		Muted:    state.Muted,
		Position: state.MediaPosition,
		Duration: state.MediaDuration,
		Shuffle:  state.Shuffle,
	})
	telemetryPoints.Inc()
}

// ObserveDeviceState writes a device_state point tagged with the state. Line
// protocol needs a field, so each transition carries count=1.
func (t *Telemetry) ObserveDeviceState(_ context.Context, state session.DeviceState) {
	t.w.WritePoint(measurementDeviceState,
		map[string]string{"state": string(state)},
		map[string]interface{}{"count": 1})
	telemetryPoints.Inc()
}
