package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <url>",
	Short: "Delete a stored bookmark",
	Long:  "Delete the bookmark stored for a URL. Enabled Zapier webhooks receive bookmark.deleted for it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{silent: true})
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.indexer.Delete(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Deleted: %s (%s)\n", b.URL, b.Source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
