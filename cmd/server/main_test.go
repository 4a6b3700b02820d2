package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxquant/fundarb/internal/config"
	"github.com/fluxquant/fundarb/internal/services"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		Engine: config.EngineConfig{
			ScanInterval:    "10s",
			AdmissionWindow: "30s",
			WatchInterval:   "1s",
			Exchanges:       []string{"binance", "bybit"},
			MarginFraction:  0.1,
			TargetLeverage:  3,
		},
	}
}

func TestBuildRegistry_PaperMode(t *testing.T) {
	cfg := testConfig()

	registry := buildRegistry(cfg, logrus.New())
	require.NotNil(t, registry)
	assert.Equal(t, []string{"binance", "bybit"}, registry.Names())
}

func TestBuildRegistry_BridgeMode(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge = config.BridgeConfig{
		Enabled:    true,
		ServiceURL: "http://localhost:3001",
		Timeout:    30,
	}

	registry := buildRegistry(cfg, logrus.New())
	require.NotNil(t, registry)
	assert.Equal(t, []string{"binance", "bybit"}, registry.Names())
}

func TestBuildNotifier_FallsBackToLog(t *testing.T) {
	cfg := testConfig()

	notifier := buildNotifier(cfg, logrus.New())
	assert.IsType(t, &services.LogNotifier{}, notifier)
}

func TestBuildNotifier_TelegramWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram = config.TelegramConfig{
		BotToken: "123456:test-token",
		ChatID:   "42",
	}

	notifier := buildNotifier(cfg, logrus.New())
	assert.IsType(t, &services.TelegramNotifier{}, notifier)
}
