package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/image/draw"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps Python logs if a SafeCommand is provided.
// Unlike a fatal exit, the caller keeps control and decides whether to continue.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 KIOSK ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nPYTHON CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Kiosk Device Metadata ---

// DeviceInfo is sent with every attendance record so the server knows which kiosk produced it.
type DeviceInfo struct {
	Agent     string `json:"agent"`
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	Screen    string `json:"screen"`
	Timestamp string `json:"timestamp"`
	Language  string `json:"language"`
}

// NewDeviceInfo describes this kiosk. screen is the capture resolution.
func NewDeviceInfo(version string, width, height int, now time.Time) DeviceInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	lang := os.Getenv("LANG")
	if lang == "" {
		lang = "C"
	}
	return DeviceInfo{
		Agent:     "sentinel-kiosk/" + version,
		Hostname:  host,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Screen:    fmt.Sprintf("%dx%d", width, height),
		Timestamp: now.UTC().Format(time.RFC3339),
		Language:  lang,
	}
}

// String returns the JSON encoding expected by the attendance endpoint's device_info param.
func (d DeviceInfo) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// --- 3. Reference Photo Encoding ---

// ReferencePhotoQuality matches the JPEG quality of the photos kept by the server.
const ReferencePhotoQuality = 80

// EncodeReferencePhoto scales the frame down to maxWidth (keeping aspect ratio) and returns
// it as a JPEG data URL. maxWidth <= 0 keeps the original size.
func EncodeReferencePhoto(img image.Image, maxWidth int) (string, error) {
	if img == nil {
		return "", fmt.Errorf("no frame to encode")
	}
	b := img.Bounds()
	if maxWidth > 0 && b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ReferencePhotoQuality}); err != nil {
		return "", fmt.Errorf("failed to encode reference photo: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeJPEG encodes a frame for the extraction worker.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
