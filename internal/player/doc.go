// Package player implements the hub media-player entity for one VLC device.
//
// An Adapter caches the player's State, refreshes it by polling, pushes the
// full attribute set to a Sink (no diffing), and maps hub command ids onto
// vlc.Client operations. Monitoring is an explicit cancellable loop owned by
// the adapter and started and stopped idempotently.
package player
