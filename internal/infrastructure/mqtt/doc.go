// Package mqtt connects the bridge to an MQTT broker for the optional state
// mirror.
//
// The package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retain
//   - Subscriptions that survive reconnects
//   - Last Will and Testament on the status topic
//
// # Topics
//
// All topics live under a configurable prefix (default "vlcbridge"):
//
//	<prefix>/status              bridge liveness and device state (retained)
//	<prefix>/state/<entity_id>   player attributes (retained)
//	<prefix>/command/<entity_id> JSON commands into the bridge
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the same host
//   - Credentials are never logged
package mqtt
