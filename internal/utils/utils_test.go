package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"strings"
	"testing"
	"time"
)

func TestEncodeReferencePhoto_Scales(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))

	dataURL, err := EncodeReferencePhoto(src, 320)
	if err != nil {
		t.Fatalf("EncodeReferencePhoto failed: %v", err)
	}

	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		t.Fatalf("expected data URL prefix, got %q", dataURL[:20])
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("invalid jpeg: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("expected 320x240, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestEncodeReferencePhoto_NoUpscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 50))
	dataURL, err := EncodeReferencePhoto(src, 320)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, "data:image/jpeg;base64,"))
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 100 {
		t.Errorf("expected width kept at 100, got %d", img.Bounds().Dx())
	}
}

func TestEncodeReferencePhoto_Nil(t *testing.T) {
	if _, err := EncodeReferencePhoto(nil, 0); err == nil {
		t.Error("expected error for nil frame")
	}
}

func TestDeviceInfo_String(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	info := NewDeviceInfo("0.1.0", 640, 480, now)

	var decoded map[string]string
	if err := json.Unmarshal([]byte(info.String()), &decoded); err != nil {
		t.Fatalf("device info is not valid JSON: %v", err)
	}
	if decoded["screen"] != "640x480" {
		t.Errorf("expected screen 640x480, got %q", decoded["screen"])
	}
	if decoded["timestamp"] != "2026-03-01T08:30:00Z" {
		t.Errorf("unexpected timestamp %q", decoded["timestamp"])
	}
	if decoded["agent"] != "sentinel-kiosk/0.1.0" {
		t.Errorf("unexpected agent %q", decoded["agent"])
	}
}

func TestNewSafeCommand_CapturesStderr(t *testing.T) {
	cmd := NewSafeCommand("sh", "-c", "echo boom 1>&2")
	if err := cmd.Run(); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	if !strings.Contains(cmd.Stderr.String(), "boom") {
		t.Errorf("expected stderr captured, got %q", cmd.Stderr.String())
	}
}
