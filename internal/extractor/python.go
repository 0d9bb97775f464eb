package extractor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

const (
	statusOK    byte = 0
	statusError byte = 1

	// maxResponse guards against a corrupt length header allocating gigabytes.
	maxResponse = 16 * 1024 * 1024

	// startupTimeout bounds the warm-up frame when no read timeout is configured.
	startupTimeout = 30 * time.Second
)

// errWorkerClosed is returned by Detect after the worker process went away.
var errWorkerClosed = errors.New("extraction worker is closed")

// FaceResult is one face as decoded from the worker.
type FaceResult struct {
	Loc     [4]int32 // top, right, bottom, left
	Vec     types.FaceSignature
	Quality float64
}

// Box converts the worker's [top, right, bottom, left] location into a Box.
func (f FaceResult) Box() types.Box {
	return types.Box{
		X:      int(f.Loc[3]),
		Y:      int(f.Loc[0]),
		Width:  int(f.Loc[1] - f.Loc[3]),
		Height: int(f.Loc[2] - f.Loc[0]),
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// PythonExtractor drives a long-lived extraction process over a length-prefixed protocol.
//
// Request:  [uint32 len][JPEG bytes] on stdin.
// Response: [uint32 len][payload] on FD 3, where payload is
//
//	[0][uint32 n] n × ([4]int32 box, [128]float32 vec, float32 quality)  or
//	[1][uint32 msgLen][msg]
type PythonExtractor struct {
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewPythonExtractor starts the worker command (split on whitespace) and sends it one
// blank frame. A worker that exits or answers garbage is closed and reported as an error
// carrying its stderr.
func NewPythonExtractor(ctx context.Context, command string, readTimeout time.Duration) (*PythonExtractor, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty extractor command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	py := utils.NewSafeCommand(fields[0], fields[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to create stdin pipe: %w", err), w.Close(), r.Close())
	}

	if err := py.Start(); err != nil {
		return nil, multierr.Combine(fmt.Errorf("extractor failed to start: %w", err), w.Close(), r.Close())
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	ex := &PythonExtractor{
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: readTimeout,
	}
	if err := ex.warmUp(); err != nil {
		return nil, err
	}
	return ex, nil
}

// warmUp round-trips a blank frame so a worker that crashes on import is caught here,
// not on the first real capture.
func (w *PythonExtractor) warmUp() error {
	frame, err := utils.EncodeJPEG(image.NewGray(image.Rect(0, 0, 32, 32)))
	if err != nil {
		return multierr.Append(fmt.Errorf("failed to encode warm-up frame: %w", err), w.Close())
	}

	timeout := w.ReadTimeout
	if timeout <= 0 {
		timeout = startupTimeout
	}
	saved := w.ReadTimeout
	w.ReadTimeout = timeout
	_, err = w.ProcessFrame(frame)
	w.ReadTimeout = saved
	if err == nil {
		return nil
	}

	// A worker stuck before reading stdin would never see EOF.
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
	closeErr := w.Close()
	err = fmt.Errorf("extractor worker did not answer the warm-up frame: %w", err)
	if logs := w.stderr(); logs != "" {
		err = fmt.Errorf("%w\nworker stderr:\n%s", err, logs)
	}
	return multierr.Append(err, closeErr)
}

// stderr returns what the worker logged. Only call it after Close has reaped the process.
func (w *PythonExtractor) stderr() string {
	if w.Cmd == nil || w.Cmd.Stderr == nil {
		return ""
	}
	return strings.TrimSpace(w.Cmd.Stderr.String())
}

// ProcessFrame sends one encoded frame and decodes every face the worker found.
func (w *PythonExtractor) ProcessFrame(data []byte) ([]FaceResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errWorkerClosed
	}

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}
	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("worker response too large: %d bytes", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, err
	}
	return decodeResponse(body)
}

func decodeResponse(body []byte) ([]FaceResult, error) {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, err
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	if status != statusOK {
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	faces := make([]FaceResult, 0, n)
	for i := uint32(0); i < n; i++ {
		var f FaceResult
		var vec [types.SignatureDim]float32
		var quality float32
		if err := binary.Read(r, binary.BigEndian, &f.Loc); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
			return nil, fmt.Errorf("face %d vector: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &quality); err != nil {
			return nil, fmt.Errorf("face %d quality: %w", i, err)
		}
		for j, v := range vec {
			f.Vec[j] = float64(v)
		}
		f.Quality = float64(quality)
		faces = append(faces, f)
	}
	return faces, nil
}

// Detect encodes the frame, asks the worker, and keeps the largest face.
func (w *PythonExtractor) Detect(ctx context.Context, frame image.Image) (types.Detection, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Detection{}, false, err
	}
	data, err := utils.EncodeJPEG(frame)
	if err != nil {
		return types.Detection{}, false, fmt.Errorf("failed to encode frame: %w", err)
	}

	faces, err := w.ProcessFrame(data)
	if err != nil {
		return types.Detection{}, false, err
	}
	if len(faces) == 0 {
		return types.Detection{}, false, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box().Area() > best.Box().Area() {
			best = f
		}
	}
	return types.Detection{Box: best.Box(), Signature: best.Vec}, true, nil
}

func (w *PythonExtractor) Manual() bool { return false }

// Close shuts the worker down and waits for it to exit.
func (w *PythonExtractor) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := multierr.Combine(w.Stdin.Close(), w.DataPipe.Close())
	if w.Cmd != nil {
		// The worker exits on stdin EOF; a non-zero status after that is not interesting.
		_ = w.Cmd.Wait()
	}
	return err
}
