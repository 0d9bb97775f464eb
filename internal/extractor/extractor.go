// Package extractor provides the face signature capability used by enrollment and
// verification. The model itself lives outside this module.
package extractor

import (
	"context"
	"errors"
	"image"

	"go.uber.org/zap"

	"github.com/andresmejia3/sentinel-kiosk/internal/config"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// ErrDetectionUnavailable means the extraction capability failed to initialize.
var ErrDetectionUnavailable = errors.New("face detection unavailable")

// Extractor turns a frame into zero-or-one face detection.
type Extractor interface {
	// Detect returns ok=false when no face is present. That is not an error.
	Detect(ctx context.Context, frame image.Image) (det types.Detection, ok bool, err error)
	// Manual reports whether signatures are placeholders rather than real encodings.
	Manual() bool
	Close() error
}

// New selects the extractor once, at construction. When the worker cannot start, the
// kiosk degrades to the manual extractor instead of blocking the flow.
func New(ctx context.Context, cfg config.ExtractorConfig, logger *zap.SugaredLogger) Extractor {
	if cfg.Manual {
		logger.Infow("manual capture mode forced by configuration")
		return NewManual(nil)
	}

	w, err := NewPythonExtractor(ctx, cfg.Command, cfg.ReadTimeout)
	if err != nil {
		logger.Warnw("falling back to manual capture mode",
			"error", errors.Join(ErrDetectionUnavailable, err))
		return NewManual(nil)
	}
	logger.Infow("face extraction worker started", "command", cfg.Command)
	return w
}
