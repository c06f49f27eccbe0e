package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Batch        BatchConfig        `mapstructure:"batch"`
	Payload      PayloadConfig      `mapstructure:"payload"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Names        []NameOverride     `mapstructure:"names"`
	Log          LogConfig          `mapstructure:"log"`
}

type OrchestratorConfig struct {
	// Driver is "webhook" or "openai".
	Driver    string       `mapstructure:"driver"`
	URL       string       `mapstructure:"url"`
	TimeoutMS int          `mapstructure:"timeout_ms"`
	OpenAI    OpenAIConfig `mapstructure:"openai"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type BatchConfig struct {
	WindowMS      int  `mapstructure:"window_ms"`
	IncludeDirect bool `mapstructure:"include_direct"`
}

type PayloadConfig struct {
	IncludeChatID bool   `mapstructure:"include_chat_id"`
	Timezone      string `mapstructure:"timezone"`
}

type StorageConfig struct {
	// Driver is "file", "bolt", "sqlite", "postgres" or "memory".
	Driver   string         `mapstructure:"driver"`
	Dir      string         `mapstructure:"dir"`
	Path     string         `mapstructure:"path"`
	Database DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type ChatConfig struct {
	// Driver is "whatsapp" or "telegram".
	Driver   string         `mapstructure:"driver"`
	Headless bool           `mapstructure:"headless"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type WhatsAppConfig struct {
	BridgeURL string  `mapstructure:"bridge_url"`
	SendRate  float64 `mapstructure:"send_rate"`
}

type TelegramConfig struct {
	Token    string `mapstructure:"token"`
	Endpoint string `mapstructure:"endpoint"`
}

// NameOverride pins the display name of a participant. A list is used instead
// of a map because participant ids contain dots, which viper treats as key
// separators.
type NameOverride struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// NameTable returns the overrides keyed by participant id.
func (c *Config) NameTable() map[string]string {
	table := make(map[string]string, len(c.Names))
	for _, n := range c.Names {
		if n.ID != "" {
			table[n.ID] = n.Name
		}
	}
	return table
}

// Window returns the batch window as a duration.
func (c BatchConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// Timeout returns the orchestrator request timeout as a duration.
func (c OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Location resolves the configured timezone, falling back to the local zone.
func (c PayloadConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid payload.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Short environment names accepted next to the dotted keys.
var envAliases = map[string][]string{
	"orchestrator.url":            {"ORCHESTRATOR_URL", "N8N_WEBHOOK_URL"},
	"orchestrator.timeout_ms":     {"HTTP_TIMEOUT_MS"},
	"orchestrator.openai.api_key": {"OPENAI_API_KEY"},
	"batch.window_ms":             {"BATCH_WINDOW_MS"},
	"chat.headless":               {"HEADLESS"},
	"chat.telegram.token":         {"TELEGRAM_TOKEN"},
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.driver", "webhook")
	v.SetDefault("orchestrator.timeout_ms", 20000)
	v.SetDefault("orchestrator.openai.model", "gpt-4o-mini")
	v.SetDefault("orchestrator.openai.max_tokens", 1500)
	v.SetDefault("orchestrator.openai.temperature", 0.2)
	v.SetDefault("batch.window_ms", 10000)
	v.SetDefault("batch.include_direct", false)
	v.SetDefault("payload.include_chat_id", false)
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.path", "data/tripbot.db")
	v.SetDefault("storage.database.host", "localhost")
	v.SetDefault("storage.database.port", 5432)
	v.SetDefault("storage.database.user", "postgres")
	v.SetDefault("storage.database.sslmode", "disable")
	v.SetDefault("chat.driver", "whatsapp")
	v.SetDefault("chat.headless", true)
	v.SetDefault("chat.whatsapp.bridge_url", "ws://localhost:3001")
	v.SetDefault("chat.whatsapp.send_rate", 1.0)
	v.SetDefault("log.level", "info")
}

// Loader reads the configuration and keeps the viper instance around so the
// file can be watched afterwards.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads path, if set, on top of defaults and environment overrides.
// A missing path is not an error; the bot can be configured from the
// environment alone.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return &Loader{v: v}, nil
}

// Load decodes the current configuration.
func (l *Loader) Load() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := l.v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Storage.Database = dbConfig
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Watch calls onChange with the reloaded configuration every time the config
// file changes on disk. Reload errors are passed to onError.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		config, err := l.Load()
		if err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		onChange(config)
	})
	l.v.WatchConfig()
}

func (c *Config) Validate() error {
	switch c.Orchestrator.Driver {
	case "webhook":
		if c.Orchestrator.URL == "" {
			return fmt.Errorf("orchestrator.url is required for the webhook driver")
		}
	case "openai":
		if c.Orchestrator.OpenAI.APIKey == "" {
			return fmt.Errorf("orchestrator.openai.api_key is required for the openai driver")
		}
	default:
		return fmt.Errorf("unknown orchestrator.driver %q", c.Orchestrator.Driver)
	}

	switch c.Storage.Driver {
	case "file", "bolt", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Chat.Driver {
	case "whatsapp":
	case "telegram":
		if c.Chat.Telegram.Token == "" {
			return fmt.Errorf("chat.telegram.token is required for the telegram driver")
		}
	default:
		return fmt.Errorf("unknown chat.driver %q", c.Chat.Driver)
	}

	if _, err := c.Payload.Location(); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads path once without watching it.
func LoadConfig(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Load()
}
