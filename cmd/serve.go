package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-kiosk/internal/server"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var serveOpts struct {
	Addr      string
	Roster    string
	Threshold float64
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference verification server backed by PostgreSQL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveOpts.Addr
		}
		if cmd.Flags().Changed("roster") {
			cfg.Server.RosterPath = serveOpts.Roster
		}
		if cmd.Flags().Changed("threshold") {
			if serveOpts.Threshold <= 0 || serveOpts.Threshold > 1 {
				return fmt.Errorf("threshold must be between 0.0 and 1.0, got %f", serveOpts.Threshold)
			}
			cfg.Server.MatchThreshold = serveOpts.Threshold
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.Addr, "addr", ":8069", "Listen address")
	serveCmd.Flags().StringVar(&serveOpts.Roster, "roster", "roster.yaml", "YAML file listing the employees")
	serveCmd.Flags().Float64VarP(&serveOpts.Threshold, "threshold", "t", 0.85, "Minimum cosine similarity for a match")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	roster, err := server.LoadRoster(cfg.Server.RosterPath)
	if err != nil {
		utils.ShowError("Failed to load roster", err, nil)
		return err
	}

	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer db.Close()

	srv := server.New(cfg.Server.Addr, cfg.Server.MatchThreshold, db, roster, nil, logger.Named("server"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "🛑 Shutting down...")
	// The command context is already cancelled, give in-flight requests their own deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
