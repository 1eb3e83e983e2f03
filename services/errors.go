package services

import "errors"

var (
	// ErrNotReady is returned when a session is not in the READY state
	ErrNotReady = errors.New("session not ready")
	// ErrDeviceNotFound is returned for an unknown device id
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceExists is returned when creating a device id that is taken
	ErrDeviceExists = errors.New("device already exists")
	// ErrInvalidRequest is returned for malformed caller input
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMultiDeviceDisabled is returned when only the default device may exist
	ErrMultiDeviceDisabled = errors.New("multi-device mode is disabled")
	// ErrSessionClosed is returned by sessions that were shut down
	ErrSessionClosed = errors.New("session closed")
)
