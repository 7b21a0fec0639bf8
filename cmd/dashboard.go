package cmd

import (
	"github.com/spf13/cobra"
	"github.com/user/markhub/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the integrations dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

func runDashboard() error {
	a, err := newApp(appOptions{dashboard: true})
	if err != nil {
		return err
	}
	defer a.Close()

	return tui.Run(tui.Deps{
		Manager: a.manager,
		Indexer: a.indexer,
		Store:   a.store,
	})
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
