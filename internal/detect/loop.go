// Package detect runs the live recognition loop of the verification screen.
package detect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/extractor"
	"github.com/andresmejia3/sentinel-kiosk/internal/report"
	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

var (
	// ErrBusy is returned by Trigger while a recognition attempt is in flight.
	ErrBusy = errors.New("recognition already in progress")
	// ErrNoFace is returned by Trigger when the current frame has no face.
	ErrNoFace = errors.New("no face detected")
	// ErrRunning is returned when Run is called on a loop that is already running.
	ErrRunning = errors.New("detection loop already running")
)

const readyMessage = "Ready for recognition"

// Recognizer is the remote side of a recognition attempt. *rpc.Client satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, sig types.FaceSignature, deviceInfo string) rpc.Result
	KioskStats(ctx context.Context) rpc.Stats
}

// Options tune the loop timing. Durations are measured on Deps.Clock.
type Options struct {
	TickInterval      time.Duration
	AutoCaptureDelay  time.Duration
	ResetDelay        time.Duration
	FailureResetDelay time.Duration
	MinConfidence     float64
}

// Deps are the collaborators of a Loop.
type Deps struct {
	Camera     *capture.Session
	Extractor  extractor.Extractor
	Recognizer Recognizer
	Reporter   report.Reporter
	Clock      clock.Clock
	Logger     *zap.SugaredLogger
	// DeviceInfo describes this kiosk for the attendance record.
	DeviceInfo func(now time.Time) string
}

// Loop polls the camera on a fixed tick and verifies detected faces, at most once per
// AutoCaptureDelay and never two attempts at a time.
type Loop struct {
	deps Deps
	opts Options

	running    atomic.Bool
	processing atomic.Bool

	mu              sync.Mutex
	lastRecognition time.Time
	resetAt         time.Time
	cameraFault     bool
}

// New creates a stopped loop; nil Clock, Reporter, Logger and DeviceInfo get defaults.
func New(deps Deps, opts Options) *Loop {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Reporter == nil {
		deps.Reporter = report.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.DeviceInfo == nil {
		deps.DeviceInfo = func(time.Time) string { return "{}" }
	}
	return &Loop{deps: deps, opts: opts}
}

// Run ticks until ctx is cancelled. Nothing fires after it returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	ticker := l.deps.Clock.Ticker(l.opts.TickInterval)
	defer ticker.Stop()

	l.deps.Reporter.Status(readyMessage, types.SeverityReady)
	l.deps.Logger.Infow("detection loop started", "tick", l.opts.TickInterval, "debounce", l.opts.AutoCaptureDelay)

	for {
		select {
		case <-ctx.Done():
			l.deps.Reporter.Hint(nil)
			l.deps.Logger.Infow("detection loop stopped")
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// LastRecognition returns when the last verification call was issued.
func (l *Loop) LastRecognition() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRecognition
}

func (l *Loop) tick(ctx context.Context) {
	l.resetDisplay()

	if !l.processing.CompareAndSwap(false, true) {
		return
	}
	defer l.processing.Store(false)

	det, ok, err := l.poll(ctx)
	if err != nil {
		l.reportFault(err, false)
		return
	}
	if !ok {
		return
	}

	now := l.deps.Clock.Now()
	l.mu.Lock()
	if !l.lastRecognition.IsZero() && now.Sub(l.lastRecognition) < l.opts.AutoCaptureDelay {
		l.mu.Unlock()
		return
	}
	l.lastRecognition = now
	l.mu.Unlock()

	l.recognize(ctx, det.Signature, now)
}

// poll detects a face in the current frame and updates the hint. A frame read failure
// comes back as a *capture.CameraError, or as the context error when ctx is done.
func (l *Loop) poll(ctx context.Context) (types.Detection, bool, error) {
	frame, err := l.deps.Camera.Frame(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Detection{}, false, ctxErr
		}
		return types.Detection{}, false, capture.Classify(err)
	}
	l.mu.Lock()
	l.cameraFault = false
	l.mu.Unlock()

	det, ok, err := l.deps.Extractor.Detect(ctx, frame)
	if err != nil {
		return types.Detection{}, false, fmt.Errorf("face detection failed: %w", err)
	}
	if !ok {
		l.deps.Reporter.Hint(nil)
		return types.Detection{}, false, nil
	}
	box := det.Box
	l.deps.Reporter.Hint(&box)
	return det, true, nil
}

// reportFault surfaces a poll error. Camera faults are reported once per outage on ticks
// and every time on a manual trigger.
func (l *Loop) reportFault(err error, always bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	var ce *capture.CameraError
	if !errors.As(err, &ce) {
		l.deps.Logger.Warnw("face detection failed", "error", err)
		if always {
			l.deps.Reporter.Status("Capture failed, please try again", types.SeverityWarning)
		}
		return
	}

	l.mu.Lock()
	first := !l.cameraFault
	l.cameraFault = true
	l.mu.Unlock()

	if !first && !always {
		return
	}
	l.deps.Reporter.Status(ce.Message(), types.SeverityError)
	l.deps.Logger.Errorw("camera read failed", "kind", ce.Kind, "error", err)
}

// Trigger runs one recognition attempt now, bypassing the debounce.
func (l *Loop) Trigger(ctx context.Context) (types.VerificationAttempt, error) {
	if !l.processing.CompareAndSwap(false, true) {
		return types.VerificationAttempt{}, ErrBusy
	}
	defer l.processing.Store(false)

	det, ok, err := l.poll(ctx)
	if err != nil {
		l.reportFault(err, true)
		l.scheduleReset(l.opts.FailureResetDelay)
		return types.VerificationAttempt{}, err
	}
	if !ok {
		l.deps.Reporter.Status("No face detected, please face the camera", types.SeverityWarning)
		l.scheduleReset(l.opts.FailureResetDelay)
		return types.VerificationAttempt{
			ID:     uuid.NewString(),
			At:     l.deps.Clock.Now(),
			Result: types.ResultNoFace,
		}, ErrNoFace
	}

	now := l.deps.Clock.Now()
	l.mu.Lock()
	l.lastRecognition = now
	l.mu.Unlock()

	return l.recognize(ctx, det.Signature, now), nil
}

// recognize runs the verification pipeline once and reports the outcome.
func (l *Loop) recognize(ctx context.Context, sig types.FaceSignature, at time.Time) types.VerificationAttempt {
	attempt := types.VerificationAttempt{ID: uuid.NewString(), Signature: sig, At: at}
	l.deps.Reporter.Status("Recognizing...", types.SeverityInfo)

	res := l.deps.Recognizer.Recognize(ctx, sig, l.deps.DeviceInfo(at))
	attempt.EmployeeID = res.EmployeeID
	attempt.Confidence = res.Confidence
	attempt.Message = res.Message

	if !res.Success {
		severity := types.SeverityError
		switch {
		case res.Transport():
			attempt.Result = types.ResultTransportError
		case !res.Matched:
			attempt.Result = types.ResultNoMatch
			severity = types.SeverityWarning
		default:
			// Recognized, but the follow-up call was refused.
			attempt.Result = types.ResultMatch
		}
		l.deps.Reporter.Status(failureMessage(res), severity)
		l.deps.Logger.Infow("recognition failed",
			"attempt", attempt.ID, "result", attempt.Result, "employee_id", res.EmployeeID, "error", res.Err)
		l.scheduleReset(l.opts.FailureResetDelay)
		return attempt
	}

	attempt.Result = types.ResultMatch
	rec := types.Recognition{
		EmployeeName:      res.Employee.Name,
		Department:        res.Employee.Department,
		Photo:             res.Employee.Image,
		Action:            res.Attendance.Action,
		Time:              res.Attendance.Time,
		Confidence:        res.Confidence,
		ConfidencePercent: int(math.Round(res.Confidence * 100)),
		LowConfidence:     res.Confidence < l.opts.MinConfidence,
	}
	l.deps.Reporter.Recognized(rec)
	l.deps.Reporter.Status(successMessage(rec), types.SeveritySuccess)
	l.deps.Logger.Infow("attendance recorded",
		"attempt", attempt.ID, "employee_id", res.EmployeeID, "action", rec.Action, "confidence", res.Confidence)
	l.scheduleReset(l.opts.ResetDelay)

	if stats := l.deps.Recognizer.KioskStats(ctx); stats.Success {
		l.deps.Reporter.Stats(stats.KioskStats)
	} else {
		l.deps.Logger.Debugw("kiosk stats unavailable", "error", stats.Err)
	}
	return attempt
}

func failureMessage(res rpc.Result) string {
	switch {
	case res.Transport():
		return "Connection error, please try again"
	case !res.Matched:
		return res.Message
	default:
		return "Attendance not recorded: " + res.Message
	}
}

func successMessage(rec types.Recognition) string {
	if rec.Action == rpc.ActionCheckOut {
		return fmt.Sprintf("Goodbye, %s", rec.EmployeeName)
	}
	return fmt.Sprintf("Welcome, %s", rec.EmployeeName)
}

// scheduleReset returns the display to ready after d, on a later tick.
func (l *Loop) scheduleReset(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetAt = l.deps.Clock.Now().Add(d)
}

func (l *Loop) resetDisplay() {
	l.mu.Lock()
	due := !l.resetAt.IsZero() && !l.deps.Clock.Now().Before(l.resetAt)
	if due {
		l.resetAt = time.Time{}
	}
	l.mu.Unlock()

	if due {
		l.deps.Reporter.Status(readyMessage, types.SeverityReady)
	}
}
