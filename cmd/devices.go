package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-kiosk/internal/capture"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the cameras this kiosk can open",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDevices()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices() error {
	devices, err := capture.Devices(logger.Named("webcam"))
	if err != nil {
		utils.ShowError("Failed to enumerate cameras", err, nil)
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No cameras found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tNAME\tSTATUS\tMODES")
	fmt.Fprintln(w, "-----\t----\t------\t-----")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Label, d.Name, d.Status, strings.Join(d.Modes, ", "))
	}
	return w.Flush()
}
