package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/enroll"
	"github.com/andresmejia3/sentinel-kiosk/internal/extractor"
	"github.com/andresmejia3/sentinel-kiosk/internal/report"
	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

type enrollOptions struct {
	Samples  int
	FailOpen bool
	Auto     bool
}

var enrollOpts enrollOptions

var enrollCmd = &cobra.Command{
	Use:   "enroll <employee_id>",
	Short: "Capture face samples of an employee and register them with the server",
	Long: "Opens the camera and captures one sample per Enter press (or continuously with --auto).\n" +
		"Once enough samples are accepted they are averaged into one template and registered.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid employee id %q", args[0])
		}
		if cmd.Flags().Changed("samples") {
			cfg.Kiosk.RequiredSamples = enrollOpts.Samples
		}
		if cmd.Flags().Changed("fail-open") {
			cfg.Kiosk.EnrollFailOpen = enrollOpts.FailOpen
		}
		return runEnroll(cmd.Context(), id, enrollOpts.Auto)
	},
}

func init() {
	enrollCmd.Flags().IntVarP(&enrollOpts.Samples, "samples", "n", 5, "Number of samples to average")
	enrollCmd.Flags().BoolVar(&enrollOpts.FailOpen, "fail-open", false, "Report completion even if the server rejects the template")
	enrollCmd.Flags().BoolVarP(&enrollOpts.Auto, "auto", "a", false, "Capture automatically once per cool-off instead of on Enter")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(ctx context.Context, employeeID int, auto bool) (err error) {
	if cfg.Kiosk.RequiredSamples < 1 {
		return fmt.Errorf("samples must be >= 1, got %d", cfg.Kiosk.RequiredSamples)
	}

	camera := capture.NewSession(newCamera(), logger.Named("capture"))
	ext := extractor.New(ctx, cfg.Extractor, logger.Named("extractor"))
	defer func() {
		err = multierr.Combine(err, camera.Release(), ext.Close())
	}()

	client := rpc.NewClient(cfg.Kiosk.ServerURL, cfg.Kiosk.RequestTimeout, logger.Named("rpc"))
	session := enroll.New(employeeID, enroll.Deps{
		Camera:    camera,
		Extractor: ext,
		Registrar: client,
		Reporter:  report.NewConsole(os.Stderr),
		Logger:    logger.Named("enroll"),
	}, enroll.Options{
		RequiredSamples: cfg.Kiosk.RequiredSamples,
		Cooloff:         cfg.Kiosk.CaptureCooloff,
		FailOpen:        cfg.Kiosk.EnrollFailOpen,
		PhotoWidth:      cfg.Kiosk.PhotoWidth,
		Constraints:     cameraConstraints(),
	})

	fmt.Fprintf(os.Stderr, "🚀 Enrolling employee %d against %s\n", employeeID, cfg.Kiosk.ServerURL)
	if err := session.Start(ctx); err != nil {
		utils.ShowError("Camera unavailable", err, nil)
		return err
	}

	lines := readLines(os.Stdin)
	if err := captureSamples(ctx, session, lines, auto); err != nil {
		return err
	}

	for session.Step() == types.StepFailed {
		if !ask(ctx, lines, "🔁 Retry registration?") {
			return fmt.Errorf("enrollment of employee %d failed", employeeID)
		}
		if err := session.Retry(ctx); err != nil && errors.Is(err, enroll.ErrInvalidStep) {
			// Nothing left to resubmit, e.g. the camera failed before processing.
			return fmt.Errorf("enrollment of employee %d failed: %w", employeeID, err)
		}
	}

	fmt.Fprintf(os.Stderr, "✨ Employee %d enrolled.\n", employeeID)
	return nil
}

// captureSamples drives Capture from Enter presses (or a ticker in auto mode) until the
// session leaves the capturing step.
func captureSamples(ctx context.Context, session *enroll.Session, lines <-chan string, auto bool) error {
	var tick <-chan time.Time
	if auto {
		ticker := time.NewTicker(cfg.Kiosk.CaptureCooloff)
		defer ticker.Stop()
		tick = ticker.C
		fmt.Fprintln(os.Stderr, "📸 Capturing automatically, press q then Enter to cancel.")
	} else {
		fmt.Fprintln(os.Stderr, "📸 Press Enter to capture a sample, q then Enter to cancel.")
	}

	for session.Step() == types.StepCapturing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if !auto {
					return errors.New("stdin closed before enrollment finished")
				}
				lines = nil
				continue
			}
			if line == "q" || line == "quit" {
				return errors.New("enrollment cancelled")
			}
			if auto {
				continue
			}
		case <-tick:
		}

		err := session.Capture(ctx)
		switch {
		case err == nil, errors.Is(err, enroll.ErrNoFace):
		case errors.Is(err, enroll.ErrCaptureLocked):
			if !auto {
				fmt.Fprintln(os.Stderr, "⏳ Hold still, capturing too fast.")
			}
		default:
			logger.Debugw("capture returned", "error", err, "step", session.Step())
		}
	}
	return nil
}

// ask prompts for a yes/no answer on the shared stdin channel.
func ask(ctx context.Context, lines <-chan string, prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	select {
	case <-ctx.Done():
		return false
	case res, ok := <-lines:
		return ok && (res == "y" || res == "yes")
	}
}
