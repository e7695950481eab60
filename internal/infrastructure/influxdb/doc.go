// Package influxdb writes player telemetry to InfluxDB 2.x.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePlayerState(influxdb.PlayerPoint{EntityID: id, State: "PLAYING", Volume: 75})
//
// # Error Handling
//
// Writes never block and never return errors; batch failures arrive through
// the SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
