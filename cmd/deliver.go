package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aide/internal/notify"
)

func deliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Run the notification delivery router",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			b, err := openBus(cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			var adapters []notify.Adapter
			if token := cfg.Delivery.DiscordBotToken; token != "" {
				a, err := notify.NewDiscordAdapter(token)
				if err != nil {
					return err
				}
				adapters = append(adapters, a)
			}
			if token := cfg.Delivery.TelegramBotToken; token != "" {
				a, err := notify.NewTelegramAdapter(token)
				if err != nil {
					return err
				}
				adapters = append(adapters, a)
			}
			if len(adapters) == 0 {
				return fmt.Errorf("no delivery adapter configured: set AIDE_DISCORD_BOT_TOKEN or AIDE_TELEGRAM_BOT_TOKEN")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notify.NewRouter(b, adapters...).Run(ctx)
			return nil
		},
	}
}
