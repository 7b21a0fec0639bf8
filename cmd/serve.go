package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/markhub/internal/server"
)

var noSchedulerFlag bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the integrations API and run scheduled syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(appOptions{silent: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if !noSchedulerFlag {
			sched := server.NewScheduler(a.manager, a.indexer, a.store, a.logger, a.cfg.Scheduler.AutoSyncSchedule)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
		}

		srv := server.New(server.Deps{
			Manager: a.manager,
			Indexer: a.indexer,
			Store:   a.store,
			Bridge:  a.bridge,
			Logger:  a.logger,
		}, a.cfg.Server)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noSchedulerFlag, "no-scheduler", false, "Do not run scheduled auto sync")
	rootCmd.AddCommand(serveCmd)
}
