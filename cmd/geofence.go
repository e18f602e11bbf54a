package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aide/internal/geofence"
)

func geofenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geofence",
		Short: "Run the location reminder worker",
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			worker := geofence.NewWorker(stores.Reminders, stores.Locations, b,
				geofence.Config{
					TickInterval:      cfg.Geofence.TickInterval.Std(),
					LocationStaleness: cfg.Geofence.LocationStaleness.Std(),
				})
			worker.Run(ctx)
			return nil
		},
	}
}
