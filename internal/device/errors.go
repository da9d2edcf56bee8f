package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidPayload) {
//	    // drop the message
//	}
var (
	// ErrInvalidPayload is returned when a state payload cannot be decoded
	// for its facet.
	ErrInvalidPayload = errors.New("device: invalid payload")

	// ErrUnknownCommand is returned for commands outside on/off/toggle.
	ErrUnknownCommand = errors.New("device: unknown command")

	// ErrInvalidID is returned for device IDs that cannot be used as a
	// single topic segment.
	ErrInvalidID = errors.New("device: invalid id")
)
