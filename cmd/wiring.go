package cmd

import (
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/aide/internal/bus"
	"github.com/nextlevelbuilder/aide/internal/config"
	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/modules"
	"github.com/nextlevelbuilder/aide/internal/store"
	"github.com/nextlevelbuilder/aide/internal/store/pg"
)

// loadConfig reads the config file and env overlays for any subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStores opens Postgres and wires every store.
func openStores(cfg *config.Config) (*sql.DB, *store.Stores, error) {
	if cfg.Postgres.DSN == "" {
		return nil, nil, fmt.Errorf("AIDE_POSTGRES_DSN environment variable is not set")
	}
	db, err := pg.OpenDB(cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, err
	}
	stores, err := pg.NewStores(db, []byte(cfg.EncryptionKey))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, stores, nil
}

// openBus connects to Redis.
func openBus(cfg *config.Config) (*bus.Bus, error) {
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("AIDE_REDIS_URL environment variable is not set")
	}
	return bus.New(cfg.Redis.URL)
}

// buildRouter assembles the LLM router from configured providers. At
// least one provider key must be present for commands that chat; workers
// that only dispatch tools pass allowNone.
func buildRouter(cfg *config.Config, allowNone bool) (*llm.Router, error) {
	var providers []llm.Provider
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		providers = append(providers, llm.NewAnthropicProvider(key,
			llm.WithAnthropicModel(cfg.Providers.Anthropic.Model),
			llm.WithAnthropicBaseURL(cfg.Providers.Anthropic.BaseURL),
		))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		providers = append(providers, llm.NewOpenAIProvider(key,
			llm.WithOpenAIModel(cfg.Providers.OpenAI.Model),
			llm.WithOpenAIBaseURL(cfg.Providers.OpenAI.BaseURL),
			llm.WithEmbeddingModel(cfg.Providers.EmbeddingModel),
		))
	}
	if len(providers) == 0 {
		if allowNone {
			return nil, nil
		}
		return nil, fmt.Errorf("no LLM provider configured: set AIDE_ANTHROPIC_API_KEY or AIDE_OPENAI_API_KEY")
	}
	return llm.NewRouter(providers...)
}

// buildModules assembles the registry and dispatcher over the configured
// module base URLs, with manifests cached on the bus.
func buildModules(cfg *config.Config, cache modules.ManifestCache) (*modules.Registry, *modules.Dispatcher) {
	registry := modules.NewRegistry(cfg.Modules.BaseURLs, cfg.ServiceToken, cache)
	dispatcher := modules.NewDispatcher(registry, cfg.ServiceToken)
	return registry, dispatcher
}
