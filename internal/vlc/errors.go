package vlc

import "errors"

// Transport errors. They never leave this package: the public operations log
// them and report a boolean or absent result instead.
var (
	// ErrNotConnected is returned when an operation is attempted before a successful probe.
	ErrNotConnected = errors.New("vlc: not connected")

	// ErrUnexpectedStatus is returned for any non-200 HTTP response.
	ErrUnexpectedStatus = errors.New("vlc: unexpected HTTP status")

	// ErrInvalidResponse is returned when the status document is not valid JSON.
	ErrInvalidResponse = errors.New("vlc: invalid status document")

	// ErrNoArtwork is returned when the player has no artwork for the current item.
	ErrNoArtwork = errors.New("vlc: no artwork")
)
