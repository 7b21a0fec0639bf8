package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	addTitle    string
	addTags     []string
	addCategory string
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a manual bookmark",
	Long:  "Add a URL as a manual bookmark. Enabled Zapier webhooks receive bookmark.created for it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := args[0]

		a, err := newApp(appOptions{silent: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.indexer.AddManualURL(context.Background(), url, addTitle, addTags, addCategory); err != nil {
			return fmt.Errorf("failed to add URL: %w", err)
		}

		fmt.Printf("Added: %s\n", url)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addTitle, "title", "t", "", "Bookmark title (default: the URL)")
	addCmd.Flags().StringSliceVar(&addTags, "tags", nil, "Comma separated tags")
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "", "Bookmark category")
	rootCmd.AddCommand(addCmd)
}
