package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's biometric attendance summary from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		client := rpc.NewClient(cfg.Kiosk.ServerURL, cfg.Kiosk.RequestTimeout, logger.Named("rpc"))
		stats := client.KioskStats(cmd.Context())
		if !stats.Success {
			utils.ShowError("Stats unavailable", stats.Err, nil)
			return fmt.Errorf("stats unavailable: %s", stats.Message)
		}

		fmt.Printf("📊 Attendances today:  %d\n", stats.TodayAttendances)
		fmt.Printf("👥 Unique employees:   %d\n", stats.UniqueEmployees)
		fmt.Printf("🎯 Average confidence: %.1f%%\n", stats.AvgConfidence*100)
		if stats.LastAttendance != "" {
			fmt.Printf("🕒 Last attendance:    %s\n", stats.LastAttendance)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
