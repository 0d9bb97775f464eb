package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the kiosk client and the reference server.
type Config struct {
	Kiosk     KioskConfig
	Camera    CameraConfig
	Extractor ExtractorConfig
	Server    ServerConfig
	Debug     bool
}

// KioskConfig covers the enrollment and verification screens.
type KioskConfig struct {
	ServerURL         string
	RequiredSamples   int
	CaptureCooloff    time.Duration
	TickInterval      time.Duration
	AutoCaptureDelay  time.Duration
	MinConfidence     float64
	RequestTimeout    time.Duration
	ResetDelay        time.Duration
	FailureResetDelay time.Duration
	// EnrollFailOpen reports enrollment as complete even when the server
	// rejected or never received the template.
	EnrollFailOpen bool
	PhotoWidth     int
}

// CameraConfig holds the requested capture constraints.
type CameraConfig struct {
	Width      int
	Height     int
	FacingMode string
	DevicePath string // empty picks any camera
}

// ExtractorConfig selects and tunes the face extraction worker.
type ExtractorConfig struct {
	Command     string
	ReadTimeout time.Duration
	Manual      bool // skip the worker and use placeholder signatures
}

// ServerConfig configures the reference verification server and its database.
type ServerConfig struct {
	Addr           string
	DatabaseURL    string
	RosterPath     string
	MatchThreshold float64
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// databaseURL prefers DATABASE_URL and otherwise builds the connection string from the
// POSTGRES_* variables, falling back to a local default.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/sentinel_kiosk"
}

// Load reads the configuration from the environment. Call godotenv.Load first if a
// .env file should be honored.
func Load() *Config {
	return &Config{
		Kiosk: KioskConfig{
			ServerURL:         strings.TrimRight(envString("KIOSK_SERVER_URL", "http://localhost:8069"), "/"),
			RequiredSamples:   envInt("KIOSK_REQUIRED_SAMPLES", 5),
			CaptureCooloff:    envDuration("KIOSK_CAPTURE_COOLOFF", time.Second),
			TickInterval:      envDuration("KIOSK_TICK_INTERVAL", 500*time.Millisecond),
			AutoCaptureDelay:  envDuration("KIOSK_AUTO_CAPTURE_DELAY", 2*time.Second),
			MinConfidence:     envFloat("KIOSK_MIN_CONFIDENCE", 0.75),
			RequestTimeout:    envDuration("KIOSK_REQUEST_TIMEOUT", 10*time.Second),
			ResetDelay:        envDuration("KIOSK_RESET_DELAY", 5*time.Second),
			FailureResetDelay: envDuration("KIOSK_FAILURE_RESET_DELAY", 3*time.Second),
			EnrollFailOpen:    envBool("KIOSK_ENROLL_FAIL_OPEN", false),
			PhotoWidth:        envInt("KIOSK_PHOTO_WIDTH", 320),
		},
		Camera: CameraConfig{
			Width:      envInt("KIOSK_CAMERA_WIDTH", 640),
			Height:     envInt("KIOSK_CAMERA_HEIGHT", 480),
			FacingMode: envString("KIOSK_CAMERA_FACING", "user"),
			DevicePath: os.Getenv("KIOSK_CAMERA_DEVICE"),
		},
		Extractor: ExtractorConfig{
			Command:     envString("KIOSK_EXTRACTOR_CMD", "python3 -u python/extractor.py"),
			ReadTimeout: envDuration("KIOSK_EXTRACTOR_TIMEOUT", 5*time.Second),
			Manual:      envBool("KIOSK_MANUAL_MODE", false),
		},
		Server: ServerConfig{
			Addr:           envString("KIOSK_LISTEN_ADDR", ":8069"),
			DatabaseURL:    databaseURL(),
			RosterPath:     envString("KIOSK_ROSTER", "roster.yaml"),
			MatchThreshold: envFloat("KIOSK_MATCH_THRESHOLD", 0.85),
		},
		Debug: envBool("KIOSK_DEBUG", false),
	}
}

// Validate rejects settings that would make the state machines misbehave.
func (c *Config) Validate() error {
	k := c.Kiosk
	if k.RequiredSamples < 1 {
		return fmt.Errorf("required samples must be >= 1, got %d", k.RequiredSamples)
	}
	durations := map[string]time.Duration{
		"capture cool-off":    k.CaptureCooloff,
		"tick interval":       k.TickInterval,
		"auto capture delay":  k.AutoCaptureDelay,
		"request timeout":     k.RequestTimeout,
		"reset delay":         k.ResetDelay,
		"failure reset delay": k.FailureResetDelay,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if k.MinConfidence < 0 || k.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0.0 and 1.0, got %f", k.MinConfidence)
	}
	if c.Server.MatchThreshold <= 0 || c.Server.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be between 0.0 and 1.0, got %f", c.Server.MatchThreshold)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera dimensions must not be negative (%dx%d)", c.Camera.Width, c.Camera.Height)
	}
	if k.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	return nil
}
