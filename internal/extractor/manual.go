package extractor

import (
	"context"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// ManualExtractor always "detects" a face covering the frame and returns a placeholder
// signature. It keeps enrollment usable when no detection model is available.
type ManualExtractor struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewManual returns a manual extractor. A nil rng seeds from the clock.
func NewManual(rng *rand.Rand) *ManualExtractor {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &ManualExtractor{rng: rng}
}

func (m *ManualExtractor) Detect(ctx context.Context, frame image.Image) (types.Detection, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Detection{}, false, err
	}
	var det types.Detection
	if frame != nil {
		b := frame.Bounds()
		det.Box = types.Box{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}
	}

	m.mu.Lock()
	for i := range det.Signature {
		det.Signature[i] = m.rng.Float64() - 0.5
	}
	m.mu.Unlock()
	return det, true, nil
}

func (m *ManualExtractor) Manual() bool { return true }

func (m *ManualExtractor) Close() error { return nil }
