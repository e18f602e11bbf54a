package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aide/internal/agent"
	"github.com/nextlevelbuilder/aide/internal/convo"
	"github.com/nextlevelbuilder/aide/internal/errlog"
	"github.com/nextlevelbuilder/aide/internal/httpapi"
	"github.com/nextlevelbuilder/aide/internal/memory"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: HTTP ingress, agent loop, manifest refresh, summarization",
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

			router, err := buildRouter(cfg, false)
			if err != nil {
				return err
			}

			registry, dispatcher := buildModules(cfg, b)

			conversations := convo.New(stores.Conversations, stores.Messages, cfg.Agent.InactivityWindow.Std())
			memories := memory.New(stores.Conversations, stores.Messages, stores.Memories, stores.TokenLogs,
				router, cfg.Agent.InactivityWindow.Std())
			reporter := errlog.NewReporter("orchestrator", stores.ErrorLogs)

			recallEnabled := true
			if cfg.Agent.RecallEnabled != nil {
				recallEnabled = *cfg.Agent.RecallEnabled
			}
			loop := agent.New(stores.Users, stores.Personas, conversations, memories,
				registry, dispatcher, router, stores.TokenLogs, reporter, agent.Config{
					MaxIterations: cfg.Agent.MaxIterations,
					RecallK:       cfg.Agent.RecallK,
					WindowTokens:  cfg.Agent.WindowTokens,
					RecallEnabled: recallEnabled,
				})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry.LoadCached(ctx)
			go registry.RunRefreshLoop(ctx, cfg.Modules.RefreshInterval.Std())
			go memories.RunSummarizer(ctx, cfg.Agent.SummarizeInterval.Std())

			server := httpapi.NewServer(loop, router, cfg.ServiceToken)
			if err := server.ListenAndServe(ctx, cfg.Server.Addr()); err != nil {
				slog.Error("serve.failed", "error", err)
				return err
			}
			return nil
		},
	}
}
