package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/availability"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// errNoFit is the text mediadevices returns when no driver satisfies the constraints.
const errNoFit = "failed to find the best driver"

// Webcam acquires local video devices through mediadevices.
type Webcam struct {
	logger *zap.SugaredLogger
}

// NewWebcam initializes the camera drivers.
func NewWebcam(logger *zap.SugaredLogger) *Webcam {
	mediadevicescamera.Initialize()
	return &Webcam{logger: logger}
}

// makeConstraints converts our constraints into a mediadevices request.
// Facing mode has no driver-level equivalent and is only logged.
func makeConstraints(c Constraints, logger *zap.SugaredLogger) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			if c.Width > 0 {
				constraint.Width = prop.IntExact(c.Width)
			} else {
				constraint.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
			}
			if c.Height > 0 {
				constraint.Height = prop.IntExact(c.Height)
			} else {
				constraint.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
			}
			if c.DevicePath != "" {
				constraint.DeviceID = prop.StringExact(c.DevicePath)
			}
			constraint.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatMJPEG,
				frame.FormatNV12,
				frame.FormatRGBA,
			}
			logger.Debugw("camera constraints", "constraint", constraint, "facing", c.FacingMode)
		},
	}
}

func videoDrivers() []driverutils.Driver {
	return driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
}

// classifyDriverError maps mediadevices failures onto CameraError kinds.
func classifyDriverError(err error) *CameraError {
	switch {
	case errors.Is(err, availability.ErrNoDevice):
		return NewCameraError(NoDevice, err)
	case errors.Is(err, availability.ErrBusy):
		return NewCameraError(DeviceBusy, err)
	case errors.Is(err, availability.ErrUnimplemented):
		return NewCameraError(NotSupported, err)
	case strings.Contains(err.Error(), errNoFit):
		if len(videoDrivers()) == 0 {
			return NewCameraError(NoDevice, err)
		}
		return NewCameraError(UnsupportedConstraints, err)
	}
	return Classify(err)
}

// Acquire opens the first video device that satisfies c.
func (w *Webcam) Acquire(ctx context.Context, c Constraints) (FrameSource, error) {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
	default:
		return nil, NewCameraError(NotSupported, errors.New(runtime.GOOS))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(makeConstraints(c, w.logger))
	if err != nil {
		return nil, classifyDriverError(err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, NewCameraError(NoDevice, errors.New("stream has no video track"))
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		var errs error
		for _, t := range tracks {
			errs = multierr.Append(errs, t.Close())
		}
		return nil, NewCameraError(Unknown, multierr.Append(errors.New("unexpected track type"), errs))
	}

	label := c.DevicePath
	if label == "" {
		label = track.ID()
	}
	return &webcamSource{track: track, reader: track.NewReader(false), label: label}, nil
}

type webcamSource struct {
	mu     sync.Mutex
	track  *mediadevices.VideoTrack
	reader video.Reader
	label  string
}

func (s *webcamSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	img, release, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	// The reader reuses its buffer; copy before releasing it.
	out := cloneImage(img)
	if release != nil {
		release()
	}
	return out, nil
}

func (s *webcamSource) Label() string { return s.label }

func (s *webcamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track.Close()
}

func cloneImage(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Device describes one video device found on the host.
type Device struct {
	Label  string
	Name   string
	Status string
	Modes  []string
}

// Devices lists the available video devices, like a browser's enumerateDevices.
func Devices(logger *zap.SugaredLogger) ([]Device, error) {
	mediadevicescamera.Initialize()
	var devices []Device
	for _, d := range videoDrivers() {
		info := d.Info()
		dev := Device{
			Label:  strings.Split(info.Label, mediadevicescamera.LabelSeparator)[0],
			Name:   info.Name,
			Status: string(d.Status()),
		}
		props, err := driverProperties(d)
		if err != nil {
			logger.Debugw("cannot access driver properties", "driver", info.Label, "error", err)
		}
		for _, p := range props {
			dev.Modes = append(dev.Modes, modeString(p.Video.Width, p.Video.Height, string(p.Video.FrameFormat)))
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// driverProperties opens a closed driver just long enough to read its media properties.
func driverProperties(d driverutils.Driver) (_ []prop.Media, err error) {
	if d.Status() == driverutils.StateClosed {
		if errOpen := d.Open(); errOpen != nil {
			return nil, errOpen
		}
		defer func() {
			err = multierr.Append(err, d.Close())
		}()
	}
	return d.Properties(), nil
}

func modeString(w, h int, format string) string {
	if format == "" {
		return fmt.Sprintf("%dx%d", w, h)
	}
	return fmt.Sprintf("%dx%d %s", w, h, format)
}
