package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xaenox/tripsync-bot/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()
	tests := []config.StorageConfig{
		{Driver: "memory"},
		{Driver: "file", Dir: filepath.Join(dir, "records")},
		{Driver: "bolt", Path: filepath.Join(dir, "bolt", "tripbot.db")},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "tripbot.db")},
	}

	for _, cfg := range tests {
		t.Run(cfg.Driver, func(t *testing.T) {
			backend, err := newBackend(cfg, zap.NewNop())
			if err != nil {
				t.Fatalf("open %s backend: %v", cfg.Driver, err)
			}
			defer backend.Close()

			ctx := context.Background()
			if err := backend.Put(ctx, "trip_g.us", "group", []byte(`{"groupId":"trip@g.us"}`)); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := backend.Get(ctx, "trip_g.us", "group"); err != nil {
				t.Fatalf("get: %v", err)
			}
		})
	}

	if _, err := newBackend(config.StorageConfig{Driver: "tape"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("warn", false)
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info must be disabled at warn level")
	}

	logger, err = newLogger("warn", true)
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("verbose must enable debug")
	}

	if _, err := newLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewChannelRejectsUnknownDriver(t *testing.T) {
	if _, err := newChannel(config.ChatConfig{Driver: "carrier-pigeon"}, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
	ch, err := newChannel(config.ChatConfig{Driver: "whatsapp", WhatsApp: config.WhatsAppConfig{BridgeURL: "ws://localhost:3001"}}, zap.NewNop())
	if err != nil || ch.Name() != "whatsapp" {
		t.Fatalf("unexpected channel %v, %v", ch, err)
	}
}
