package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sensemaking-core/server/internal/agent/agents"
	"github.com/Sensemaking-core/server/internal/agent/graph"
	"github.com/Sensemaking-core/server/internal/agent/llm"
	"github.com/Sensemaking-core/server/internal/agent/model"
	"github.com/Sensemaking-core/server/internal/agent/repo"
	"github.com/Sensemaking-core/server/internal/codegen"
	"github.com/Sensemaking-core/server/internal/core"
	"github.com/Sensemaking-core/server/internal/datastore"
	"github.com/Sensemaking-core/server/internal/dbmanager"
	"github.com/Sensemaking-core/server/internal/registry"
	"github.com/Sensemaking-core/server/internal/sensors"
	logx "github.com/Sensemaking-core/server/pkg/logger"
	pkgredis "github.com/Sensemaking-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider; required by ask and batch only
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Reasoning   model.ReasoningModelConfig
	Data        model.DataModelConfig
	Sensemaking model.SensemakingConfig
	DBManager   model.DBManagerConfig
	CodeGen     model.CodeGenConfig
	Session     model.SessionConfig
	Dataset     model.DataConfig
}

func loadConfig() (*AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Env)})
	return &cfg, nil
}

// app is the wired service. Close releases the redis client.
type app struct {
	cfg      *AppConfig
	rdb      *goredis.Client
	registry *registry.Registry
	sessions *repo.RedisSessionRepository
	runner   graph.Runner
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// newRegistry builds the function registry. A nil store is enough for listing.
func newRegistry(cfg *AppConfig, store datastore.Store, summarizer sensors.Summarizer) (*registry.Registry, error) {
	clock, err := sensors.NewClock(cfg.Dataset)
	if err != nil {
		return nil, fmt.Errorf("invalid data timezone config: %w", err)
	}
	s := sensors.New(store, clock, summarizer, cfg.Dataset.SummaryWindowHours)
	return registry.Discover(s.Sources()), nil
}

func connectRedis(ctx context.Context, cfg *AppConfig) (*goredis.Client, error) {
	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise Redis client: %w", err)
	}
	logx.Debug().Msg("Connected to Redis successfully")
	return rdb, nil
}

// newStorageApp connects redis without building the LLM side.
func newStorageApp(ctx context.Context, cfg *AppConfig) (*app, error) {
	ttl, err := time.ParseDuration(cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL %q: %w", cfg.Session.TTL, err)
	}
	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, rdb: rdb, sessions: repo.NewRedisSessionRepository(rdb, ttl)}, nil
}

// newApp wires the full sensemaking service.
func newApp(ctx context.Context, cfg *AppConfig) (*app, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	execTimeout, err := time.ParseDuration(cfg.CodeGen.ExecTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid CODEGEN_EXEC_TIMEOUT %q: %w", cfg.CodeGen.ExecTimeout, err)
	}

	a, err := newStorageApp(ctx, cfg)
	if err != nil {
		return nil, err
	}

	models, err := llm.NewModels(ctx, llm.ModelsConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Reasoning: &cfg.Reasoning,
		Data:      &cfg.Data,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	reg, err := newRegistry(cfg, datastore.NewRedisStore(a.rdb), agents.NewSummarizer(models.Data))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = reg

	bridge := codegen.New(reg, models.Code, codegen.NewYaegiSandbox(execTimeout), cfg.CodeGen.MaxRounds)
	manager := dbmanager.New(reg, models.Data, bridge, cfg.DBManager)

	a.runner, err = graph.Build(ctx, graph.Config{
		Agents:      agents.New(models.Reasoning, models.Data, reg),
		Manager:     manager,
		Sensemaking: cfg.Sensemaking,
		Repo:        a.sessions,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	logx.Debug().Int("databases", len(reg.Names())).Msg("Sensemaking service ready")
	return a, nil
}

func newRootCommand() *cobra.Command {
	var cfg *AppConfig
	root := &cobra.Command{
		Use:           "sensemaking",
		Short:         "Answer questions about a user's behaviour from multi-sensor data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}
	config := func() *AppConfig { return cfg }

	root.AddCommand(
		newAskCommand(config),
		newBatchCommand(config),
		newDatabasesCommand(config),
		newShowCommand(config),
		newSeedCommand(config),
	)
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		logx.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
