package capture

import (
	"errors"
	"image"

	"plategate/internal/model"
)

var (
	ErrNotInitialized = errors.New("camera not initialized")
	ErrUnknownDevice  = errors.New("unknown camera index")
)

// Device is an open capture handle. Handles are not reentrant; the manager
// serializes all access behind a per-device lock.
type Device interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// Driver enumerates and opens camera devices.
type Driver interface {
	Devices() ([]model.CameraDevice, error)
	Open(index int) (Device, error)
}
