package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/detect"
	"github.com/andresmejia3/sentinel-kiosk/internal/extractor"
	"github.com/andresmejia3/sentinel-kiosk/internal/report"
	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the attendance kiosk: recognize faces and record check-ins",
	Long: "Polls the camera and verifies every detected face against the server, at most once per\n" +
		"auto-capture delay. Press Enter to recognize immediately, q then Enter to quit.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runVerify(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	camera := capture.NewSession(newCamera(), logger.Named("capture"))
	ext := extractor.New(ctx, cfg.Extractor, logger.Named("extractor"))
	defer func() {
		err = multierr.Combine(err, camera.Release(), ext.Close())
	}()

	if err := camera.AcquireWithFallback(ctx, cameraConstraints()); err != nil {
		var ce *capture.CameraError
		if errors.As(err, &ce) {
			utils.ShowError(ce.Message(), err, nil)
		} else {
			utils.ShowError("Camera unavailable", err, nil)
		}
		return err
	}
	if ext.Manual() {
		fmt.Fprintln(os.Stderr, "⚠️  Face detection unavailable, every frame is treated as a face.")
	}

	active := camera.Constraints()
	loop := detect.New(detect.Deps{
		Camera:     camera,
		Extractor:  ext,
		Recognizer: rpc.NewClient(cfg.Kiosk.ServerURL, cfg.Kiosk.RequestTimeout, logger.Named("rpc")),
		Reporter:   report.NewConsole(os.Stderr),
		Logger:     logger.Named("detect"),
		DeviceInfo: func(now time.Time) string {
			return utils.NewDeviceInfo(Version, active.Width, active.Height, now).String()
		},
	}, detect.Options{
		TickInterval:      cfg.Kiosk.TickInterval,
		AutoCaptureDelay:  cfg.Kiosk.AutoCaptureDelay,
		ResetDelay:        cfg.Kiosk.ResetDelay,
		FailureResetDelay: cfg.Kiosk.FailureResetDelay,
		MinConfidence:     cfg.Kiosk.MinConfidence,
	})

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	lines := readLines(os.Stdin)
	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok {
				// Headless: keep polling until interrupted.
				lines = nil
				continue
			}
			if line == "q" || line == "quit" {
				cancel()
				return <-done
			}
			if _, err := loop.Trigger(ctx); errors.Is(err, detect.ErrBusy) {
				fmt.Fprintln(os.Stderr, "⏳ Still processing the previous attempt.")
			}
		}
	}
}
