// Package enroll implements the face enrollment flow: capture requiredSamples signatures
// of one employee, average them and register the result with the verification service.
//
// Steps move preparing -> capturing -> processing -> complete. A camera error while
// starting or capturing, or a rejected registration under the fail-closed policy, ends in
// failed. Only Reset leaves complete or failed.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/descriptor"
	"github.com/andresmejia3/sentinel-kiosk/internal/extractor"
	"github.com/andresmejia3/sentinel-kiosk/internal/report"
	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var (
	// ErrCaptureLocked rejects a capture while another is in flight or during the cool-off.
	ErrCaptureLocked = errors.New("capture is locked")
	// ErrSampleSetFull rejects a capture once requiredSamples were accepted.
	ErrSampleSetFull = errors.New("sample set is full")
	// ErrInvalidStep is returned when an action is not allowed in the current step.
	ErrInvalidStep = errors.New("action not allowed in current enrollment step")
	// ErrNoFace is returned by Capture when the frame has no detectable face.
	ErrNoFace = errors.New("no face detected")
)

// Registrar stores an enrolled template. *rpc.Client satisfies it.
type Registrar interface {
	RegisterFace(ctx context.Context, employeeID int, sig types.FaceSignature, photo string) rpc.Outcome
}

// Options tune the flow.
type Options struct {
	RequiredSamples int
	Cooloff         time.Duration
	// FailOpen reports completion even when registration failed.
	FailOpen    bool
	PhotoWidth  int
	Constraints capture.Constraints
}

// Deps are the collaborators of a Session.
type Deps struct {
	Camera    *capture.Session
	Extractor extractor.Extractor
	Registrar Registrar
	Reporter  report.Reporter
	Clock     clock.Clock
	Logger    *zap.SugaredLogger
}

// Session is one employee's enrollment. It is safe for concurrent use; captures are
// serialized by the capture-lock.
type Session struct {
	deps       Deps
	opts       Options
	employeeID int

	mu          sync.Mutex
	step        types.Step
	samples     []types.FaceSignature
	inFlight    bool
	lockedUntil time.Time
	lastFrame   image.Image
	// pending is the aggregate awaiting registration, kept for Retry.
	pending *types.FaceSignature
	photo   string
}

// New creates a session in the preparing step.
func New(employeeID int, deps Deps, opts Options) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Reporter == nil {
		deps.Reporter = report.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if opts.RequiredSamples < 1 {
		opts.RequiredSamples = 5
	}
	return &Session{
		deps:       deps,
		opts:       opts,
		employeeID: employeeID,
		step:       types.StepPreparing,
		samples:    make([]types.FaceSignature, 0, opts.RequiredSamples),
	}
}

// Step returns the current step.
func (s *Session) Step() types.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Samples returns a copy of the accepted samples.
func (s *Session) Samples() []types.FaceSignature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.FaceSignature(nil), s.samples...)
}

// EmployeeID returns the employee being enrolled.
func (s *Session) EmployeeID() int { return s.employeeID }

// Start acquires the camera and enters capturing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.step != types.StepPreparing {
		s.mu.Unlock()
		return fmt.Errorf("start from %s: %w", s.step, ErrInvalidStep)
	}
	s.mu.Unlock()

	if err := s.deps.Camera.AcquireWithFallback(ctx, s.opts.Constraints); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.step = types.StepCapturing
	s.mu.Unlock()

	if s.deps.Extractor.Manual() {
		s.deps.Reporter.Status("Face detection unavailable, using manual capture", types.SeverityWarning)
	}
	s.deps.Reporter.Status(fmt.Sprintf("Look at the camera and capture %d samples", s.opts.RequiredSamples), types.SeverityInfo)
	s.deps.Reporter.Progress(0, s.opts.RequiredSamples)
	s.deps.Logger.Infow("enrollment started", "employee_id", s.employeeID, "required", s.opts.RequiredSamples)
	return nil
}

// Capture takes one frame and, when it holds a face, accepts its signature. The sample
// that fills the set runs processing before Capture returns.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.step != types.StepCapturing:
		s.mu.Unlock()
		return fmt.Errorf("capture during %s: %w", s.step, ErrInvalidStep)
	case len(s.samples) >= s.opts.RequiredSamples:
		s.mu.Unlock()
		return ErrSampleSetFull
	case s.inFlight || s.deps.Clock.Now().Before(s.lockedUntil):
		s.mu.Unlock()
		return ErrCaptureLocked
	}
	s.inFlight = true
	s.mu.Unlock()

	det, frame, err := s.detect(ctx)

	s.mu.Lock()
	s.inFlight = false
	if s.step != types.StepCapturing {
		// Reset while the capture was in flight.
		s.mu.Unlock()
		return fmt.Errorf("capture interrupted: %w", ErrInvalidStep)
	}
	if err != nil {
		s.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// The operator cancelled; the session stays in capturing.
			return err
		}
		var ce *capture.CameraError
		if errors.As(err, &ce) {
			s.fail(ce)
			return ce
		}
		s.deps.Reporter.Status("Capture failed, please try again", types.SeverityWarning)
		s.deps.Logger.Warnw("sample extraction failed", "error", err)
		return err
	}
	if det == nil {
		s.mu.Unlock()
		s.deps.Reporter.Status("No face detected, please face the camera", types.SeverityWarning)
		return ErrNoFace
	}

	s.samples = append(s.samples, det.Signature)
	s.lastFrame = frame
	s.lockedUntil = s.deps.Clock.Now().Add(s.opts.Cooloff)
	captured := len(s.samples)
	full := captured == s.opts.RequiredSamples
	if full {
		s.step = types.StepProcessing
	}
	s.mu.Unlock()

	s.deps.Reporter.Progress(captured, s.opts.RequiredSamples)
	s.deps.Logger.Debugw("sample accepted", "employee_id", s.employeeID, "captured", captured)
	if !full {
		s.deps.Reporter.Status(fmt.Sprintf("Sample %d of %d captured", captured, s.opts.RequiredSamples), types.SeverityInfo)
		return nil
	}
	return s.process(ctx)
}

// detect reads a frame and extracts its signature. A nil detection means no face.
func (s *Session) detect(ctx context.Context) (*types.Detection, image.Image, error) {
	frame, err := s.deps.Camera.Frame(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, capture.Classify(err)
	}
	det, ok, err := s.deps.Extractor.Detect(ctx, frame)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, frame, nil
	}
	return &det, frame, nil
}

// process aggregates the samples, releases the camera and registers the template.
func (s *Session) process(ctx context.Context) error {
	s.mu.Lock()
	agg, err := descriptor.Aggregate(s.samples)
	frame := s.lastFrame
	s.mu.Unlock()
	if err != nil {
		s.fail(err)
		return err
	}

	s.deps.Reporter.Status("Processing face data...", types.SeverityInfo)
	photo, err := utils.EncodeReferencePhoto(frame, s.opts.PhotoWidth)
	if err != nil {
		s.deps.Logger.Warnw("reference photo unavailable", "error", err)
		photo = ""
	}
	if err := s.deps.Camera.Release(); err != nil {
		s.deps.Logger.Warnw("camera release failed", "error", err)
	}

	s.mu.Lock()
	s.pending = &agg
	s.photo = photo
	s.mu.Unlock()
	return s.submit(ctx)
}

// submit sends the pending aggregate and moves to complete or failed.
func (s *Session) submit(ctx context.Context) error {
	s.mu.Lock()
	agg := *s.pending
	photo := s.photo
	s.mu.Unlock()

	out := s.deps.Registrar.RegisterFace(ctx, s.employeeID, agg, photo)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != types.StepProcessing {
		return fmt.Errorf("registration interrupted: %w", ErrInvalidStep)
	}

	if out.Success {
		s.step = types.StepComplete
		s.clearLocked()
		s.deps.Reporter.Status("Face registered successfully", types.SeveritySuccess)
		s.deps.Logger.Infow("enrollment complete", "employee_id", s.employeeID)
		return nil
	}

	if s.opts.FailOpen {
		s.step = types.StepComplete
		s.clearLocked()
		s.deps.Reporter.Status("Enrollment completed, but the server did not confirm it: "+out.Message, types.SeverityWarning)
		s.deps.Logger.Warnw("registration failed, completing anyway", "employee_id", s.employeeID, "error", out.Err)
		return nil
	}

	s.step = types.StepFailed
	s.deps.Reporter.Status("Registration failed: "+out.Message, types.SeverityError)
	s.deps.Logger.Errorw("registration failed", "employee_id", s.employeeID, "error", out.Err, "transport", out.Transport())
	return fmt.Errorf("register face: %w", out.Err)
}

// Retry re-submits the retained aggregate after a failed registration.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.step != types.StepFailed || s.pending == nil {
		s.mu.Unlock()
		return fmt.Errorf("retry from %s: %w", s.step, ErrInvalidStep)
	}
	s.step = types.StepProcessing
	s.mu.Unlock()

	s.deps.Reporter.Status("Retrying registration...", types.SeverityInfo)
	return s.submit(ctx)
}

// Reset releases the camera, discards all samples and returns to preparing.
func (s *Session) Reset() error {
	s.mu.Lock()
	s.step = types.StepPreparing
	s.clearLocked()
	s.pending = nil
	s.photo = ""
	s.lockedUntil = time.Time{}
	s.mu.Unlock()

	s.deps.Reporter.Progress(0, s.opts.RequiredSamples)
	return s.deps.Camera.Release()
}

// fail moves to failed, releases the camera and reports the error.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.step = types.StepFailed
	s.clearLocked()
	s.mu.Unlock()

	if rerr := s.deps.Camera.Release(); rerr != nil {
		s.deps.Logger.Warnw("camera release failed", "error", rerr)
	}

	msg := err.Error()
	var ce *capture.CameraError
	if errors.As(err, &ce) {
		msg = ce.Message()
	}
	s.deps.Reporter.Status(msg, types.SeverityError)
	s.deps.Logger.Errorw("enrollment failed", "employee_id", s.employeeID, "error", err)
}

func (s *Session) clearLocked() {
	s.samples = s.samples[:0]
	s.lastFrame = nil
}
