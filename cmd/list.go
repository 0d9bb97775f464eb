package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-kiosk/internal/server"
	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled face templates in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer db.Close()

	templates, err := db.ListTemplates(ctx)
	if err != nil {
		utils.ShowError("Failed to list templates", err, nil)
		return err
	}
	if len(templates) == 0 {
		fmt.Println("No employees enrolled.")
		return nil
	}

	// Names are optional; a missing roster just leaves the column empty.
	roster, rerr := server.LoadRoster(cfg.Server.RosterPath)
	if rerr != nil {
		logger.Debugw("roster unavailable, listing ids only", "error", rerr)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EMPLOYEE\tNAME\tPHOTO\tENROLLED")
	fmt.Fprintln(w, "--------\t----\t-----\t--------")
	for _, t := range templates {
		name := ""
		if roster != nil {
			if e, ok := roster.Lookup(t.EmployeeID); ok {
				name = e.Name
			}
		}
		photo := "no"
		if t.HasPhoto {
			photo = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.EmployeeID, name, photo, t.TrainedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
