package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/config"
	"github.com/andresmejia3/sentinel-kiosk/internal/logging"
	"github.com/andresmejia3/sentinel-kiosk/internal/store"
)

// Options holds the flags shared by the kiosk commands. Zero values keep the
// configuration loaded from the environment.
type Options struct {
	EnvFile    string
	ServerURL  string
	DBURL      string
	FramesPath string
	Device     string
	Manual     bool
	Debug      bool
}

var (
	rootOpts Options
	// cfg is the configuration shared by subcommands, loaded before each run
	cfg      *config.Config
	// logger is the process-wide structured logger
	logger   *zap.SugaredLogger
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "kiosk",
	Short:   "Biometric Attendance Kiosk",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine, the environment may already be populated
		if err := godotenv.Load(rootOpts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", rootOpts.EnvFile, err)
		}

		cfg = config.Load()
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		var err error
		logger, err = logging.New(cfg.Debug)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// applyFlags overrides the environment with the flags the user actually set.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("server") {
		c.Kiosk.ServerURL = rootOpts.ServerURL
	}
	if flags.Changed("db") {
		c.Server.DatabaseURL = rootOpts.DBURL
	}
	if flags.Changed("device") {
		c.Camera.DevicePath = rootOpts.Device
	}
	if flags.Changed("manual") {
		c.Extractor.Manual = rootOpts.Manual
	}
	if flags.Changed("debug") {
		c.Debug = rootOpts.Debug
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootOpts.EnvFile, "env-file", ".env", "Dotenv file to load before reading the environment")
	pf.StringVar(&rootOpts.ServerURL, "server", "", "Verification service base URL (default: $KIOSK_SERVER_URL)")
	pf.StringVar(&rootOpts.DBURL, "db", "", "PostgreSQL connection string for serve, list and reset")
	pf.StringVar(&rootOpts.FramesPath, "frames", "", "Replay JPEG/PNG frames from a file or directory instead of a webcam")
	pf.StringVar(&rootOpts.Device, "device", "", "Camera device to open (default: any)")
	pf.BoolVar(&rootOpts.Manual, "manual", false, "Skip the face extractor and use placeholder signatures")
	pf.BoolVar(&rootOpts.Debug, "debug", false, "Human-readable debug logging")
}

// openStore connects to the database. Only the commands that touch templates need it.
func openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.New(ctx, cfg.Server.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newCamera picks the frame replay when --frames is set, the webcam otherwise.
func newCamera() capture.Camera {
	if rootOpts.FramesPath != "" {
		return capture.FileCamera{Path: rootOpts.FramesPath}
	}
	return capture.NewWebcam(logger.Named("webcam"))
}

func cameraConstraints() capture.Constraints {
	return capture.Constraints{
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
		FacingMode: cfg.Camera.FacingMode,
		DevicePath: cfg.Camera.DevicePath,
	}
}
