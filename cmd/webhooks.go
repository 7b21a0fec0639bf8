package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/markhub/internal/integrations"
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Manage Zapier webhooks",
}

var webhooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured webhooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{silent: true})
		if err != nil {
			return err
		}
		defer a.Close()

		z, err := a.zapier()
		if err != nil {
			return err
		}
		hooks := z.Webhooks()
		if jsonOutput {
			return outputJSON(hooks)
		}
		if len(hooks) == 0 {
			fmt.Println("No webhooks configured.")
			return nil
		}
		for _, w := range hooks {
			state := "on"
			if !w.Enabled {
				state = "off"
			}
			fmt.Printf("%s  %-21s %-3s %s\n", w.ID, w.Event, state, w.URL)
			if w.Filters != nil {
				fmt.Printf("   categories=%v tags=%v domains=%v\n", w.Filters.Categories, w.Filters.Tags, w.Filters.Domains)
			}
		}
		return nil
	},
}

var (
	webhookEvent      string
	webhookCategories []string
	webhookTags       []string
	webhookDomains    []string
	webhookDisabled   bool
)

var webhooksAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		z, err := a.zapier()
		if err != nil {
			return err
		}
		hook := integrations.ZapierWebhook{
			URL:     args[0],
			Event:   integrations.WebhookEvent(webhookEvent),
			Enabled: !webhookDisabled,
		}
		if len(webhookCategories) > 0 || len(webhookTags) > 0 || len(webhookDomains) > 0 {
			hook.Filters = &integrations.WebhookFilters{
				Categories: webhookCategories,
				Tags:       webhookTags,
				Domains:    webhookDomains,
			}
		}
		added, err := z.AddWebhook(hook)
		if err != nil {
			return err
		}
		a.manager.Persist(integrations.ZapierID)
		fmt.Printf("Added webhook %s for %s\n", added.ID, added.Event)
		return nil
	},
}

var webhooksRemoveCmd = &cobra.Command{
	Use:   "remove <webhook-id>",
	Short: "Remove a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		z, err := a.zapier()
		if err != nil {
			return err
		}
		if err := z.RemoveWebhook(args[0]); err != nil {
			return err
		}
		a.manager.Persist(integrations.ZapierID)
		fmt.Printf("Removed webhook %s\n", args[0])
		return nil
	},
}

var webhooksTestCmd = &cobra.Command{
	Use:   "test <webhook-id>",
	Short: "Send a test event to a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		z, err := a.zapier()
		if err != nil {
			return err
		}
		if !z.TestWebhook(context.Background(), args[0]) {
			return fmt.Errorf("test delivery to webhook %s failed", args[0])
		}
		fmt.Println("Test event delivered.")
		return nil
	},
}

var (
	triggerTitle    string
	triggerTags     []string
	triggerCategory string
)

var webhooksTriggerCmd = &cobra.Command{
	Use:   "trigger <event> <url>",
	Short: "Send an event for a bookmark to every matching webhook",
	Long:  "Events: " + eventNames(),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		event := integrations.WebhookEvent(args[0])
		if !isKnownEvent(event) {
			return fmt.Errorf("unknown event %q, expected one of %s", args[0], eventNames())
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		z, err := a.zapier()
		if err != nil {
			return err
		}

		b := integrations.BookmarkData{URL: args[1], Title: triggerTitle, Tags: triggerTags, Category: triggerCategory, Source: "manual"}
		if stored, err := a.store.GetByURL(args[1]); err == nil {
			b = stored.BookmarkData()
		}
		res := z.Trigger(context.Background(), event, b, nil)
		fmt.Printf("%s: %d matched, %d delivered, %d failed\n", res.Event, res.Matched, res.Delivered, res.Failed)
		printErrors(res.Errors)
		return nil
	},
}

func isKnownEvent(e integrations.WebhookEvent) bool {
	for _, known := range integrations.WebhookEvents {
		if e == known {
			return true
		}
	}
	return false
}

func eventNames() string {
	names := make([]string, 0, len(integrations.WebhookEvents))
	for _, e := range integrations.WebhookEvents {
		names = append(names, string(e))
	}
	return strings.Join(names, ", ")
}

func init() {
	webhooksListCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	webhooksAddCmd.Flags().StringVarP(&webhookEvent, "event", "e", string(integrations.EventBookmarkCreated), "Event to subscribe to")
	webhooksAddCmd.Flags().StringSliceVar(&webhookCategories, "categories", nil, "Only bookmarks in these categories")
	webhooksAddCmd.Flags().StringSliceVar(&webhookTags, "tags", nil, "Only bookmarks with one of these tags")
	webhooksAddCmd.Flags().StringSliceVar(&webhookDomains, "domains", nil, "Only bookmarks on these domains")
	webhooksAddCmd.Flags().BoolVar(&webhookDisabled, "disabled", false, "Add the webhook disabled")

	webhooksTriggerCmd.Flags().StringVar(&triggerTitle, "title", "", "Bookmark title when the URL is not stored")
	webhooksTriggerCmd.Flags().StringSliceVar(&triggerTags, "tags", nil, "Bookmark tags when the URL is not stored")
	webhooksTriggerCmd.Flags().StringVar(&triggerCategory, "category", "", "Bookmark category when the URL is not stored")

	webhooksCmd.AddCommand(webhooksListCmd, webhooksAddCmd, webhooksRemoveCmd, webhooksTestCmd, webhooksTriggerCmd)
	rootCmd.AddCommand(webhooksCmd)
}
