// Package vlc is a client for VLC's HTTP control interface.
//
// VLC offers no push notifications: state is read by polling
// /requests/status.json and commands are issued as query parameters on the
// same path. Authentication is HTTP Basic with an empty user name and the
// interface password.
//
// Volume is exchanged with callers on a 0-100 scale and converted to VLC's
// native 0-512 scale (256 is 100% output).
package vlc
