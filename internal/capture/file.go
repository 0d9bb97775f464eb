package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileCamera replays still images from a directory (or a single file) as a looping
// frame source. It stands in for a webcam on headless kiosks and in demos.
type FileCamera struct {
	Path string
}

// Acquire loads every JPEG/PNG under Path. A missing path maps to NoDevice.
func (f FileCamera) Acquire(ctx context.Context, _ Constraints) (FrameSource, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, Classify(err)
	}

	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(f.Path)
		if err != nil {
			return nil, Classify(err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg" || ext == ".png") {
				paths = append(paths, filepath.Join(f.Path, e.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{f.Path}
	}
	if len(paths) == 0 {
		return nil, NewCameraError(NoDevice, fmt.Errorf("no images in %s", f.Path))
	}

	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := decodeFile(p)
		if err != nil {
			return nil, NewCameraError(Unknown, err)
		}
		frames = append(frames, img)
	}
	return &fileSource{label: f.Path, frames: frames}, nil
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

type fileSource struct {
	mu     sync.Mutex
	label  string
	frames []image.Image
	next   int
	closed bool
}

func (s *fileSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotAcquired
	}
	img := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return img, nil
}

func (s *fileSource) Label() string { return s.label }

func (s *fileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
