package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrRecordNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRecordNotFound is returned when a device ID does not exist.
	ErrRecordNotFound = errors.New("device: not found")

	// ErrRecordExists is returned when a player at the same host and port is already configured.
	ErrRecordExists = errors.New("device: already exists")

	// ErrInvalidRecord is returned when record validation fails.
	ErrInvalidRecord = errors.New("device: invalid")
)
