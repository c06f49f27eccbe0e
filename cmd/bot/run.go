package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/xaenox/tripsync-bot/internal/bot"
	"github.com/xaenox/tripsync-bot/internal/chat"
	"github.com/xaenox/tripsync-bot/internal/orchestrator"
	"github.com/xaenox/tripsync-bot/internal/payload"
	"github.com/xaenox/tripsync-bot/internal/state"
	"github.com/xaenox/tripsync-bot/internal/storage"
	"github.com/xaenox/tripsync-bot/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, configPath string, verbose bool) error {
	// Load configuration
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log.Level, verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize storage
	backend, err := newBackend(cfg.Storage, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", zap.Error(err))
		return err
	}
	defer backend.Close()

	store := state.NewStore(backend, logger)
	store.SetNameOverrides(cfg.NameTable())
	loader.Watch(func(c *config.Config) {
		store.SetNameOverrides(c.NameTable())
		logger.Info("Reloaded name overrides", zap.Int("names", len(c.Names)))
	}, func(err error) {
		logger.Warn("Failed to reload config, keeping previous name overrides", zap.Error(err))
	})

	loc, err := cfg.Payload.Location()
	if err != nil {
		return err
	}
	builder := payload.NewBuilder(cfg.Payload.IncludeChatID, loc)

	client := newOrchestrator(cfg.Orchestrator, logger)

	channel, err := newChannel(cfg.Chat, logger)
	if err != nil {
		logger.Error("Failed to create chat channel", zap.Error(err))
		return err
	}
	defer channel.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	b := bot.New(gctx, channel, store, builder, client, bot.Options{
		Window:        cfg.Batch.Window(),
		IncludeDirect: cfg.Batch.IncludeDirect,
	}, logger)

	g.Go(func() error {
		if err := b.Start(gctx); err != nil {
			return fmt.Errorf("start %s channel: %w", channel.Name(), err)
		}
		<-gctx.Done()
		logger.Info("Shutting down")
		b.Stop()
		return nil
	})

	return g.Wait()
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	if verbose {
		level = "debug"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newBackend(cfg config.StorageConfig, logger *zap.Logger) (storage.Backend, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case "file":
		logger.Info("Using file storage", zap.String("dir", cfg.Dir))
		return storage.NewFileStorage(cfg.Dir)
	case "bolt":
		logger.Info("Using bbolt storage", zap.String("path", cfg.Path))
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return storage.NewBoltStorage(cfg.Path)
	case "sqlite":
		logger.Info("Using SQLite storage", zap.String("path", cfg.Path))
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return storage.NewSQLiteStorage(cfg.Path)
	case "postgres":
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host))
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newOrchestrator(cfg config.OrchestratorConfig, logger *zap.Logger) orchestrator.Client {
	if cfg.Driver == "openai" {
		logger.Info("Using OpenAI orchestrator", zap.String("model", cfg.OpenAI.Model))
		return orchestrator.NewOpenAIClient(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.BaseURL,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			cfg.Timeout(),
			logger,
		)
	}
	logger.Info("Using webhook orchestrator", zap.String("url", cfg.URL))
	return orchestrator.NewWebhookClient(cfg.URL, cfg.Timeout(), logger)
}

func newChannel(cfg config.ChatConfig, logger *zap.Logger) (chat.Channel, error) {
	switch cfg.Driver {
	case "telegram":
		if cfg.Telegram.Endpoint != "" {
			return chat.NewTelegramWithEndpoint(cfg.Telegram.Token, cfg.Telegram.Endpoint, logger)
		}
		return chat.NewTelegram(cfg.Telegram.Token, logger)
	case "whatsapp":
		return chat.NewWhatsApp(chat.WhatsAppConfig{
			BridgeURL: cfg.WhatsApp.BridgeURL,
			Headless:  cfg.Headless,
			SendRate:  cfg.WhatsApp.SendRate,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown chat driver %q", cfg.Driver)
	}
}
