package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Bridge      BridgeConfig   `mapstructure:"bridge"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Risk        RiskConfig     `mapstructure:"risk"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BridgeConfig points at the ccxt sidecar that fronts real exchanges. When
// Enabled is false the engine runs against in-memory paper exchanges.
type BridgeConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type EngineConfig struct {
	ScanInterval    string   `mapstructure:"scan_interval"`
	AdmissionWindow string   `mapstructure:"admission_window"`
	WatchInterval   string   `mapstructure:"watch_interval"`
	Exchanges       []string `mapstructure:"exchanges"`
	Symbols         []string `mapstructure:"symbols"`
	BroadcastLimit  int      `mapstructure:"broadcast_limit"`
	ExecutionLimit  int      `mapstructure:"execution_limit"`
	MarginFraction  float64  `mapstructure:"margin_fraction"`
	TargetLeverage  int      `mapstructure:"target_leverage"`
}

type RiskConfig struct {
	MaxPositionSize  float64 `mapstructure:"max_position_size"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	MaxDailyLoss     float64 `mapstructure:"max_daily_loss"`
	MaxPortfolioRisk float64 `mapstructure:"max_portfolio_risk"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}
	if err := viper.BindEnv("server.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	for name, value := range map[string]string{
		"engine.scan_interval":    config.Engine.ScanInterval,
		"engine.admission_window": config.Engine.AdmissionWindow,
		"engine.watch_interval":   config.Engine.WatchInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if config.Engine.MarginFraction <= 0 || config.Engine.MarginFraction > 1 {
		return nil, fmt.Errorf("engine.margin_fraction must be in (0, 1], got %v", config.Engine.MarginFraction)
	}
	if config.Engine.TargetLeverage < 1 {
		return nil, fmt.Errorf("engine.target_leverage must be at least 1, got %d", config.Engine.TargetLeverage)
	}
	if len(config.Engine.Exchanges) < 2 {
		return nil, fmt.Errorf("engine.exchanges needs at least two venues, got %d", len(config.Engine.Exchanges))
	}
	if config.Risk.MaxDailyLoss <= 0 {
		return nil, fmt.Errorf("risk.max_daily_loss must be positive, got %v", config.Risk.MaxDailyLoss)
	}

	return &config, nil
}

// ScanIntervalDuration returns the parsed driver tick. Load has already
// validated the string.
func (c EngineConfig) ScanIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.ScanInterval)
	return d
}

func (c EngineConfig) AdmissionWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.AdmissionWindow)
	return d
}

func (c EngineConfig) WatchIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.WatchInterval)
	return d
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.admin_api_key", "")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Bridge
	viper.SetDefault("bridge.enabled", false)
	viper.SetDefault("bridge.service_url", "http://localhost:3001")
	viper.SetDefault("bridge.timeout", 30)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")

	// Engine
	viper.SetDefault("engine.scan_interval", "10s")
	viper.SetDefault("engine.admission_window", "30s")
	viper.SetDefault("engine.watch_interval", "1s")
	viper.SetDefault("engine.exchanges", []string{"binance", "bybit", "okx"})
	viper.SetDefault("engine.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	viper.SetDefault("engine.broadcast_limit", 50)
	viper.SetDefault("engine.execution_limit", 15)
	viper.SetDefault("engine.margin_fraction", 0.1)
	viper.SetDefault("engine.target_leverage", 3)

	// Risk
	viper.SetDefault("risk.max_position_size", 10000.0)
	viper.SetDefault("risk.max_open_positions", 5)
	viper.SetDefault("risk.max_daily_loss", 500.0)
	viper.SetDefault("risk.max_portfolio_risk", 0.2)
}
