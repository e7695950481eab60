// Package session owns the integration lifecycle between the hub and the
// configured VLC players.
//
// A Manager reacts to hub events (connect, disconnect, subscribe,
// unsubscribe), runs the setup flow, builds one player.Adapter per reachable
// device, and reports the integration-wide device state through a Gateway.
//
// Entity initialisation is serialised: concurrent triggers from connect and
// subscribe collapse into a single pass, so every entity is registered with
// the hub exactly once and no probe is issued twice for the same trigger.
//
// A background connectivity monitor checks every device on a fixed interval
// and reports CONNECTED when all of them answer, CONNECTING otherwise.
package session
