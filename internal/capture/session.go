// Package capture owns the camera for one kiosk session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyHeld is returned when acquiring a session that already holds the camera.
	// Release first to change constraints.
	ErrAlreadyHeld = errors.New("camera is already held by this session")
	// ErrNotAcquired is returned when reading frames from a released session.
	ErrNotAcquired = errors.New("camera has not been acquired")
)

// Constraints describe the stream requested from the camera.
type Constraints struct {
	Width      int
	Height     int
	FacingMode string
	DevicePath string
}

// Relaxed drops the resolution requirement so any mode of the same device is accepted.
func (c Constraints) Relaxed() Constraints {
	return Constraints{FacingMode: c.FacingMode, DevicePath: c.DevicePath}
}

// FrameSource is a live video source. Close turns the camera off.
type FrameSource interface {
	Read(ctx context.Context) (image.Image, error)
	Label() string
	Close() error
}

// Camera opens a FrameSource. Implementations do not retry internally.
type Camera interface {
	Acquire(ctx context.Context, c Constraints) (FrameSource, error)
}

// Session is the exclusive owner of one camera acquisition.
type Session struct {
	mu     sync.Mutex
	camera Camera
	source FrameSource
	active Constraints
	logger *zap.SugaredLogger
}

// NewSession returns a released session for the given camera.
func NewSession(camera Camera, logger *zap.SugaredLogger) *Session {
	return &Session{camera: camera, logger: logger}
}

// Acquire turns the camera on. Failures are always *CameraError.
func (s *Session) Acquire(ctx context.Context, c Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return ErrAlreadyHeld
	}

	src, err := s.camera.Acquire(ctx, c)
	if err != nil {
		ce := Classify(err)
		s.logger.Warnw("camera acquisition failed", "kind", ce.Kind, "error", err)
		return ce
	}
	s.source = src
	s.active = c
	s.logger.Infow("camera acquired", "label", src.Label(), "width", c.Width, "height", c.Height)
	return nil
}

// AcquireWithFallback tries the constraints as given and, when the device rejects them,
// once more with Relaxed constraints.
func (s *Session) AcquireWithFallback(ctx context.Context, c Constraints) error {
	err := s.Acquire(ctx, c)
	if err == nil || !IsKind(err, UnsupportedConstraints) {
		return err
	}
	s.logger.Infow("retrying camera acquisition with relaxed constraints")
	return s.Acquire(ctx, c.Relaxed())
}

// Release turns the camera off. It is idempotent and safe before Acquire.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		return nil
	}
	src := s.source
	s.source = nil
	if err := src.Close(); err != nil {
		return fmt.Errorf("failed to release camera %s: %w", src.Label(), err)
	}
	s.logger.Infow("camera released", "label", src.Label())
	return nil
}

// Frame reads the current frame from the live source.
func (s *Session) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()

	if src == nil {
		return nil, ErrNotAcquired
	}
	return src.Read(ctx)
}

// Held reports whether the session currently owns the camera.
func (s *Session) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// Constraints returns the constraints of the current acquisition.
func (s *Session) Constraints() Constraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
