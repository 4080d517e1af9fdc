package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"bizsim/internal/game"
)

type APIConfig struct {
	Addr             string
	DatabaseURL      string
	DBMaxConns       int32
	RedisURL         string
	CacheTTL         time.Duration
	AdminKey         string
	AdminKeyHash     string
	EngineConfigPath string
	SessionSeed      int64
	DiscordToken     string
	DiscordChannelID string
	TelegramToken    string
	TelegramChatID   string
	NotifyRetries    int
	NotifyRetryDelay time.Duration
	AutoMigrate      bool
}

type CLIConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
	AdminKey   string `mapstructure:"admin_key"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BIZSIM_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:       int32(envIntDefault("BIZSIM_DB_MAX_CONNS", 20)),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:         envDurationDefault("BIZSIM_CACHE_TTL", 30*time.Second),
		AdminKey:         strings.TrimSpace(os.Getenv("BIZSIM_ADMIN_KEY")),
		AdminKeyHash:     strings.TrimSpace(os.Getenv("BIZSIM_ADMIN_KEY_BCRYPT")),
		EngineConfigPath: strings.TrimSpace(os.Getenv("BIZSIM_ENGINE_CONFIG")),
		SessionSeed:      int64(envIntDefault("BIZSIM_SESSION_SEED", 0)),
		DiscordToken:     strings.TrimSpace(os.Getenv("BIZSIM_DISCORD_TOKEN")),
		DiscordChannelID: strings.TrimSpace(os.Getenv("BIZSIM_DISCORD_CHANNEL_ID")),
		TelegramToken:    strings.TrimSpace(os.Getenv("BIZSIM_TELEGRAM_TOKEN")),
		TelegramChatID:   strings.TrimSpace(os.Getenv("BIZSIM_TELEGRAM_CHAT_ID")),
		NotifyRetries:    envIntDefault("BIZSIM_NOTIFY_RETRIES", 3),
		NotifyRetryDelay: envDurationDefault("BIZSIM_NOTIFY_RETRY_DELAY", time.Second),
		AutoMigrate:      envBoolDefault("BIZSIM_AUTO_MIGRATE", true),
	}
	if cfg.RedisURL != "" && cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("REDIS_URL requires DATABASE_URL")
	}
	if (cfg.DiscordToken == "") != (cfg.DiscordChannelID == "") {
		return cfg, fmt.Errorf("BIZSIM_DISCORD_TOKEN and BIZSIM_DISCORD_CHANNEL_ID must be set together")
	}
	if (cfg.TelegramToken == "") != (cfg.TelegramChatID == "") {
		return cfg, fmt.Errorf("BIZSIM_TELEGRAM_TOKEN and BIZSIM_TELEGRAM_CHAT_ID must be set together")
	}
	return cfg, nil
}

// LoadCLI reads the client settings from an optional YAML file, then lets
// BIZSIM_API_BASE_URL and BIZSIM_ADMIN_KEY override it. A missing file is
// not an error.
func LoadCLI(path string) (CLIConfig, error) {
	v := viper.New()
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("admin_key", "")
	v.SetEnvPrefix("BIZSIM")
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return CLIConfig{}, fmt.Errorf("read cli config: %w", err)
			}
		}
	}

	var cfg CLIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return CLIConfig{}, fmt.Errorf("parse cli config: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.AdminKey = strings.TrimSpace(cfg.AdminKey)
	if cfg.APIBaseURL == "" {
		return cfg, fmt.Errorf("api_base_url is required")
	}
	return cfg, nil
}

// DefaultCLIConfigPath is ~/.bizsim/config.yaml, or empty when there is no
// home directory.
func DefaultCLIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bizsim", "config.yaml")
}

// LoadEngineParams reads engine tuning from a YAML file. Keys missing from
// the file keep their defaults. An empty path returns the defaults.
func LoadEngineParams(path string) (game.Params, error) {
	params := game.DefaultParams()
	if path == "" {
		return params, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return params, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return params, fmt.Errorf("parse engine config: %w", err)
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid engine config: %w", err)
	}
	return params, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
