package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/sentinel-kiosk/internal/utils"
)

var resetEmployee int

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset enrolled templates and attendance history",
	Long:  "Drops all tables by default. Use --employee to remove a single enrollment instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		db, err := openStore(ctx)
		if err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}
		defer db.Close()

		reader := bufio.NewReader(os.Stdin)

		if resetEmployee > 0 {
			if !confirm(reader, fmt.Sprintf("⚠️  Remove the enrolled face of employee %d?", resetEmployee)) {
				return nil
			}
			found, err := db.DeleteTemplate(ctx, resetEmployee)
			if err != nil {
				utils.ShowError("Failed to delete template", err, nil)
				return err
			}
			if !found {
				fmt.Printf("Employee %d was not enrolled.\n", resetEmployee)
				return nil
			}
			fmt.Printf("🗑️  Employee %d must enroll again.\n", resetEmployee)
			return nil
		}

		if confirm(reader, "⚠️  Are you sure you want to DROP all templates and attendances?") {
			fmt.Println("🗑️  Clearing Database...")
			if err := db.Reset(ctx); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
			fmt.Println("✨ System Reset Complete.")
		}
		return nil
	},
}

func init() {
	resetCmd.Flags().IntVarP(&resetEmployee, "employee", "e", 0, "Only remove this employee's template")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
