// Package hub implements the hub-facing side of the VLC bridge.
//
// It provides:
//   - a WebSocket integration API carrying requests, responses and events
//     between the remote-control hub and the session
//   - the hub-visible entity set and device state (session.Gateway)
//   - an artwork proxy so the hub can load cover art without the player
//     credentials
//   - health and Prometheus metrics endpoints
//
// # Protocol
//
// Every frame is a JSON object with a kind ("req", "resp" or "event"), a
// message name, and optional msg_data. Requests carry an id that is echoed
// in the response as req_id together with an HTTP-style status code.
//
// # Lifecycle
//
//	srv, err := hub.New(deps)
//	mgr := session.NewManager(registry, srv, opts)
//	srv.SetSession(mgr)
//	srv.Start(ctx)
//	defer srv.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package hub
