package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/markhub/internal/integrations"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List integrations and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{silent: true})
		if err != nil {
			return err
		}
		defer a.Close()

		statuses := a.manager.AllIntegrationStatuses()
		if jsonOutput {
			return outputJSON(statuses)
		}
		for _, s := range statuses {
			printStatus(s)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show the status of one integration, or of all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listCmd.RunE(cmd, args)
		}

		a, err := newApp(appOptions{silent: true})
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.manager.IntegrationStatus(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(s)
		}
		printStatus(s)
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth <id> [key=value...]",
	Short: "Authenticate an integration",
	Long: `Pass provider credentials as key=value pairs, for example:

  markhub auth twitter consumerKey=... consumerSecret=... accessToken=... accessTokenSecret=...
  markhub auth reddit clientId=... clientSecret=... username=... password=...
  markhub auth notion accessToken=... databaseId=...
  markhub auth chrome method=extension
  markhub auth zapier webhookUrl=https://hooks.zapier.com/... event=bookmark.created`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.manager.AuthenticateIntegration(context.Background(), args[0], integrations.Credentials(creds))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("authentication with %s failed", args[0])
		}
		fmt.Printf("Authenticated %s\n", args[0])
		return nil
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure <id> key=value...",
	Short: "Merge values into an integration's config",
	Long: `Known fields (name, enabled, apiKey, accessToken, refreshToken, expiresAt,
syncInterval) are set directly; any other key is merged into settings.
expiresAt and syncInterval accept milliseconds or a duration such as 1h.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseKeyValues(args[1:])
		if err != nil {
			return err
		}
		update, err := buildConfigUpdate(values)
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.UpdateIntegrationConfig(args[0], update); err != nil {
			return err
		}
		s, err := a.manager.IntegrationStatus(args[0])
		if err != nil {
			return err
		}
		printStatus(s)
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an integration and clear its credentials and settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], false)
	},
}

func setEnabled(id string, enabled bool) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if enabled {
		err = a.manager.SetIntegrationEnabled(id, true)
	} else {
		err = a.manager.DisableIntegration(id)
	}
	if err != nil {
		return err
	}
	s, err := a.manager.IntegrationStatus(id)
	if err != nil {
		return err
	}
	printStatus(s)
	return nil
}

func init() {
	listCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	statusCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.AddCommand(listCmd, statusCmd, authCmd, configureCmd, enableCmd, disableCmd)
}
