package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aide/internal/scheduler"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduled job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			b, err := openBus(cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			registry, dispatcher := buildModules(cfg, b)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry.LoadCached(ctx)
			go registry.RunRefreshLoop(ctx, cfg.Modules.RefreshInterval.Std())

			worker := scheduler.NewWorker(stores.Jobs, stores.Workflows, stores.Users, b, dispatcher,
				scheduler.Config{
					TickInterval:    cfg.Scheduler.TickInterval.Std(),
					BatchSize:       cfg.Scheduler.BatchSize,
					OrchestratorURL: cfg.Scheduler.OrchestratorURL,
					ServiceToken:    cfg.ServiceToken,
				})
			worker.Run(ctx)
			return nil
		},
	}
}
