package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lending-rate-alerts/internal/app"
)

var (
	showLimit      int
	showSamples    bool
	showDispatches bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display target states and recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Samples:  showSamples,
			Dispatch: showDispatches,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display per section")
	showCmd.Flags().BoolVar(&showSamples, "samples", false, "Include recent rate samples")
	showCmd.Flags().BoolVar(&showDispatches, "dispatches", false, "Include recent notification dispatches")
}
