package capture

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrorKind names a class of camera acquisition failure.
type ErrorKind string

const (
	PermissionDenied       ErrorKind = "permission-denied"
	NoDevice               ErrorKind = "no-device"
	DeviceBusy             ErrorKind = "device-busy"
	UnsupportedConstraints ErrorKind = "unsupported-constraints"
	NotSupported           ErrorKind = "not-supported"
	InsecureContext        ErrorKind = "insecure-context"
	Unknown                ErrorKind = "unknown"
)

var kindMessages = map[ErrorKind]string{
	PermissionDenied:       "Camera access denied. Grant access to the video device and try again.",
	NoDevice:               "No camera was found on this device.",
	DeviceBusy:             "The camera is being used by another application.",
	UnsupportedConstraints: "The requested camera configuration is not supported.",
	NotSupported:           "Camera capture is not supported on this platform.",
	InsecureContext:        "Camera access requires a secure context.",
	Unknown:                "Unknown error while accessing the camera.",
}

// CameraError is the typed failure of an acquisition. It is fatal to the current session.
type CameraError struct {
	Kind ErrorKind
	Err  error
}

func (e *CameraError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera error (%s)", e.Kind)
	}
	return fmt.Sprintf("camera error (%s): %v", e.Kind, e.Err)
}

func (e *CameraError) Unwrap() error { return e.Err }

// Message is the operator-facing text for the error kind.
func (e *CameraError) Message() string {
	if m, ok := kindMessages[e.Kind]; ok {
		return m
	}
	return kindMessages[Unknown]
}

// NewCameraError builds a CameraError of the given kind.
func NewCameraError(kind ErrorKind, err error) *CameraError {
	return &CameraError{Kind: kind, Err: err}
}

// Classify turns any acquisition error into a *CameraError. Errors that already carry a
// kind are returned as-is; OS permission failures map to PermissionDenied and
// ENODEV/ENOENT to NoDevice; everything else is Unknown.
func Classify(err error) *CameraError {
	if err == nil {
		return nil
	}
	var ce *CameraError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return NewCameraError(PermissionDenied, err)
	case errors.Is(err, syscall.ENODEV), errors.Is(err, os.ErrNotExist):
		return NewCameraError(NoDevice, err)
	case errors.Is(err, syscall.EBUSY):
		return NewCameraError(DeviceBusy, err)
	}
	return NewCameraError(Unknown, err)
}

// IsKind reports whether err is a CameraError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CameraError
	return errors.As(err, &ce) && ce.Kind == kind
}
