package enroll

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/report"
	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

type stubCamera struct {
	err     error
	sources []*stubSource
}

func (c *stubCamera) Acquire(context.Context, capture.Constraints) (capture.FrameSource, error) {
	if c.err != nil {
		return nil, c.err
	}
	src := &stubSource{}
	c.sources = append(c.sources, src)
	return src, nil
}

type stubSource struct{ closed bool }

func (s *stubSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}
func (s *stubSource) Label() string { return "stub" }
func (s *stubSource) Close() error {
	s.closed = true
	return nil
}

// seqExtractor returns the queued signatures in order; an empty queue means no face.
type seqExtractor struct {
	mu    sync.Mutex
	queue []types.FaceSignature
}

func (e *seqExtractor) Detect(context.Context, image.Image) (types.Detection, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return types.Detection{}, false, nil
	}
	sig := e.queue[0]
	e.queue = e.queue[1:]
	return types.Detection{Box: types.Box{Width: 10, Height: 10}, Signature: sig}, true, nil
}
func (e *seqExtractor) Manual() bool { return false }
func (e *seqExtractor) Close() error { return nil }

type registerCall struct {
	employeeID int
	sig        types.FaceSignature
	photo      string
}

type fakeRegistrar struct {
	mu       sync.Mutex
	calls    []registerCall
	outcomes []rpc.Outcome // consumed per call; default success
}

func (r *fakeRegistrar) RegisterFace(_ context.Context, employeeID int, sig types.FaceSignature, photo string) rpc.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, registerCall{employeeID, sig, photo})
	if len(r.outcomes) > 0 {
		out := r.outcomes[0]
		r.outcomes = r.outcomes[1:]
		return out
	}
	return rpc.Outcome{Success: true}
}

var transportFailure = rpc.Outcome{
	Message: rpc.ConnectionErrorMessage,
	Err:     &rpc.TransportError{Op: "register_face", Err: errors.New("dial tcp: connection refused")},
}

func signatures(n int) []types.FaceSignature {
	out := make([]types.FaceSignature, n)
	for k := range out {
		for i := range out[k] {
			out[k][i] = float64(k+1) * 0.01 * float64(i%7-3)
		}
	}
	return out
}

type harness struct {
	session   *Session
	camera    *stubCamera
	cam       *capture.Session
	registrar *fakeRegistrar
	reporter  *report.Recorder
	clock     *clock.Mock
}

func newHarness(t *testing.T, sigs []types.FaceSignature, opts Options) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	h := &harness{
		camera:    &stubCamera{},
		registrar: &fakeRegistrar{},
		reporter:  &report.Recorder{},
		clock:     clock.NewMock(),
	}
	h.cam = capture.NewSession(h.camera, logger)
	if opts.RequiredSamples == 0 {
		opts.RequiredSamples = 5
	}
	if opts.Cooloff == 0 {
		opts.Cooloff = time.Second
	}
	h.session = New(42, Deps{
		Camera:    h.cam,
		Extractor: &seqExtractor{queue: sigs},
		Registrar: h.registrar,
		Reporter:  h.reporter,
		Clock:     h.clock,
		Logger:    logger,
	}, opts)
	return h
}

// captureAll accepts n samples, advancing past the cool-off between them.
func (h *harness) captureAll(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := h.session.Capture(context.Background()); err != nil {
			t.Fatalf("capture %d failed: %v", i+1, err)
		}
		h.clock.Add(time.Second)
	}
}

func TestEnrollment_ScenarioA(t *testing.T) {
	sigs := signatures(5)
	h := newHarness(t, sigs, Options{})

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.captureAll(t, 5)

	if step := h.session.Step(); step != types.StepComplete {
		t.Fatalf("expected complete, got %s", step)
	}
	if len(h.registrar.calls) != 1 {
		t.Fatalf("expected exactly one register call, got %d", len(h.registrar.calls))
	}

	call := h.registrar.calls[0]
	if call.employeeID != 42 {
		t.Errorf("employee id = %d", call.employeeID)
	}
	for i := 0; i < types.SignatureDim; i++ {
		var sum float64
		for _, s := range sigs {
			sum += s[i]
		}
		if math.Abs(call.sig[i]-sum/5) > 1e-9 {
			t.Fatalf("component %d = %f, want mean %f", i, call.sig[i], sum/5)
		}
	}
	if call.photo == "" {
		t.Error("expected a reference photo")
	}
	if h.cam.Held() {
		t.Error("camera should be released after processing")
	}
	if !h.reporter.HasSeverity(types.SeveritySuccess) {
		t.Error("expected a success status")
	}
}

func TestEnrollment_StaysCapturingBelowRequired(t *testing.T) {
	h := newHarness(t, signatures(5), Options{})
	h.session.Start(context.Background())

	for k := 1; k < 5; k++ {
		if err := h.session.Capture(context.Background()); err != nil {
			t.Fatalf("capture %d: %v", k, err)
		}
		if step := h.session.Step(); step != types.StepCapturing {
			t.Fatalf("after %d samples expected capturing, got %s", k, step)
		}
		if got := len(h.session.Samples()); got != k {
			t.Fatalf("expected %d samples, got %d", k, got)
		}
		h.clock.Add(time.Second)
	}
	if len(h.registrar.calls) != 0 {
		t.Error("registration must not happen before the set is full")
	}
}

func TestEnrollment_CaptureLock(t *testing.T) {
	h := newHarness(t, signatures(5), Options{})
	h.session.Start(context.Background())

	if err := h.session.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Add(999 * time.Millisecond)
	if err := h.session.Capture(context.Background()); !errors.Is(err, ErrCaptureLocked) {
		t.Fatalf("expected ErrCaptureLocked within the cool-off, got %v", err)
	}
	if got := len(h.session.Samples()); got != 1 {
		t.Errorf("rejected capture changed the sample set: %d", got)
	}

	h.clock.Add(time.Millisecond)
	if err := h.session.Capture(context.Background()); err != nil {
		t.Fatalf("expected capture after the cool-off, got %v", err)
	}
}

func TestEnrollment_NoFaceIsNotAccepted(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.session.Start(context.Background())

	if err := h.session.Capture(context.Background()); !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
	if h.session.Step() != types.StepCapturing || len(h.session.Samples()) != 0 {
		t.Error("no-face capture must not change state")
	}
	// No cool-off after a rejected frame.
	if err := h.session.Capture(context.Background()); errors.Is(err, ErrCaptureLocked) {
		t.Error("no-face capture must not arm the capture-lock")
	}
}

func TestEnrollment_ScenarioC_PermissionDenied(t *testing.T) {
	h := newHarness(t, signatures(5), Options{})
	h.camera.err = syscall.EACCES

	err := h.session.Start(context.Background())
	if !capture.IsKind(err, capture.PermissionDenied) {
		t.Fatalf("expected permission-denied, got %v", err)
	}
	if h.session.Step() != types.StepFailed {
		t.Errorf("expected failed, got %s", h.session.Step())
	}
	if h.cam.Held() {
		t.Error("no camera resource may be held")
	}
	if h.reporter.Last().Severity != types.SeverityError {
		t.Errorf("expected error status, got %+v", h.reporter.Last())
	}
	if err := h.session.Capture(context.Background()); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("capture after failure should be invalid, got %v", err)
	}
}

func TestEnrollment_FailClosedThenRetry(t *testing.T) {
	h := newHarness(t, signatures(3), Options{RequiredSamples: 3})
	h.registrar.outcomes = []rpc.Outcome{transportFailure}

	h.session.Start(context.Background())
	for i := 0; i < 2; i++ {
		h.session.Capture(context.Background())
		h.clock.Add(time.Second)
	}
	if err := h.session.Capture(context.Background()); err == nil {
		t.Fatal("expected the registration error")
	}
	if h.session.Step() != types.StepFailed {
		t.Fatalf("expected failed, got %s", h.session.Step())
	}

	if err := h.session.Retry(context.Background()); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if h.session.Step() != types.StepComplete {
		t.Fatalf("expected complete after retry, got %s", h.session.Step())
	}
	if len(h.registrar.calls) != 2 {
		t.Fatalf("expected 2 register calls, got %d", len(h.registrar.calls))
	}
	if h.registrar.calls[0].sig != h.registrar.calls[1].sig {
		t.Error("retry must re-submit the same aggregate")
	}
}

func TestEnrollment_FailOpen(t *testing.T) {
	h := newHarness(t, signatures(2), Options{RequiredSamples: 2, FailOpen: true})
	h.registrar.outcomes = []rpc.Outcome{transportFailure}

	h.session.Start(context.Background())
	h.captureAll(t, 2)

	if h.session.Step() != types.StepComplete {
		t.Fatalf("expected degraded complete, got %s", h.session.Step())
	}
	if h.reporter.Last().Severity != types.SeverityWarning {
		t.Errorf("degraded completion should be reported as a warning, got %+v", h.reporter.Last())
	}
	if err := h.session.Retry(context.Background()); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("retry from complete should be invalid, got %v", err)
	}
}

func TestEnrollment_ResetReleasesCamera(t *testing.T) {
	h := newHarness(t, signatures(5), Options{})
	h.session.Start(context.Background())
	h.session.Capture(context.Background())

	if err := h.session.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if h.session.Step() != types.StepPreparing {
		t.Errorf("expected preparing, got %s", h.session.Step())
	}
	if len(h.session.Samples()) != 0 {
		t.Error("samples must be cleared")
	}
	if h.cam.Held() || !h.camera.sources[0].closed {
		t.Error("camera must be released on reset")
	}

	// A reset session can start again.
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestEnrollment_StartTwice(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.session.Start(context.Background())
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrInvalidStep) {
		t.Errorf("expected ErrInvalidStep, got %v", err)
	}
}

func TestEnrollment_CancelledCaptureKeepsSession(t *testing.T) {
	h := newHarness(t, signatures(5), Options{})
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.session.Capture(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var ce *capture.CameraError
	if errors.As(err, &ce) {
		t.Errorf("cancellation must not be classified as a camera error, got %v", ce)
	}
	if step := h.session.Step(); step != types.StepCapturing {
		t.Errorf("expected to stay in capturing, got %s", step)
	}
	if !h.cam.Held() {
		t.Error("expected the camera to stay held")
	}
	if h.reporter.HasSeverity(types.SeverityError) {
		t.Error("expected no error status for a cancel")
	}

	// The session is still usable.
	if err := h.session.Capture(context.Background()); err != nil {
		t.Errorf("capture after cancel failed: %v", err)
	}
}
