package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementPlayerState is the measurement written for every player push.
const MeasurementPlayerState = "player_state"

// PlayerPoint is one sample of a player's attributes.
type PlayerPoint struct {
	EntityID string
	State    string
	Volume   int
	Muted    bool
	Position int
	Duration int
	Shuffle  bool
	// Time defaults to now.
	Time time.Time
}

// WritePlayerState queues a player_state point tagged by entity and
// playback state.
func (c *Client) WritePlayerState(p PlayerPoint) {
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.WritePointWithTime(MeasurementPlayerState,
		map[string]string{
			"entity_id": p.EntityID,
			"state":     p.State,
		},
		map[string]interface{}{
			"volume":   p.Volume,
			"muted":    p.Muted,
			"position": p.Position,
			"duration": p.Duration,
			"shuffle":  p.Shuffle,
		},
		ts,
	)
}

// WritePoint queues a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a custom point with an explicit timestamp.
// Points are dropped while disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
