// Package mirror forwards player state to systems outside the hub.
//
// MQTT publishes every attribute push retained under <prefix>/state/<entity>,
// reports device state on <prefix>/status and accepts JSON commands on
// <prefix>/command/<entity>. Telemetry writes each push as an InfluxDB
// player_state point. Both implement hub.Observer.
package mirror
