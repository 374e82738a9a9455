package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SOCIALFLOW"

// Store backends.
const (
	storeMemory = "memory"
	storeLibSQL = "libsql"
	storeRedis  = "redis"
)

// Config holds all socialflow configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	Store            string        `mapstructure:"store"`
	DBPath           string        `mapstructure:"db_path"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPrefix      string        `mapstructure:"redis_prefix"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	ActorIdleTimeout time.Duration `mapstructure:"actor_idle_timeout"`
	ApprovalTTL      time.Duration `mapstructure:"approval_ttl"`
	ActionTTL        time.Duration `mapstructure:"action_ttl"`
	SweepSchedule    string        `mapstructure:"sweep_schedule"`
	ResultRetention  time.Duration `mapstructure:"result_retention"`
	TelegramToken    string        `mapstructure:"telegram_token"`
	TelegramChatID   int64         `mapstructure:"telegram_chat_id"`
	AdapterBaseURL   string        `mapstructure:"adapter_base_url"`
	AgentUserID      string        `mapstructure:"agent_user_id"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen_addr":        ":4200",
		"store":              storeMemory,
		"db_path":            filepath.Join(socialflowDir(), "socialflow.db"),
		"redis_addr":         "localhost:6379",
		"redis_prefix":       "socialflow",
		"log_level":          "info",
		"log_format":         "text",
		"actor_idle_timeout": time.Minute,
		"approval_ttl":       time.Duration(0),
		"action_ttl":         time.Duration(0),
		"sweep_schedule":     "@every 1m",
		"result_retention":   24 * time.Hour,
		"telegram_token":     "",
		"telegram_chat_id":   int64(0),
		"adapter_base_url":   "",
		"agent_user_id":      "",
		"poll_interval":      2 * time.Second,
	}
}

func socialflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".socialflow"
	}
	return filepath.Join(home, ".socialflow")
}

func settingsPath() string {
	return filepath.Join(socialflowDir(), "settings.json")
}

// flagKeys maps command flags to config keys.
var flagKeys = map[string]string{
	"listen-addr":      "listen_addr",
	"store":            "store",
	"db-path":          "db_path",
	"redis-addr":       "redis_addr",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"approval-ttl":     "approval_ttl",
	"action-ttl":       "action_ttl",
	"adapter-base-url": "adapter_base_url",
	"user-id":          "agent_user_id",
	"poll-interval":    "poll_interval",
}

// loadConfig layers defaults, the settings file, SOCIALFLOW_* env vars and
// the flags of cmd that were set explicitly. A missing settings file is not
// an error; an unreadable one is.
func loadConfig(cmd *cobra.Command, configFile string) (Config, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = settingsPath()
	}
	v.SetConfigFile(configFile)
	if filepath.Ext(configFile) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	if cmd != nil {
		for name, key := range flagKeys {
			f := cmd.Flags().Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeLibSQL, storeRedis:
	default:
		return fmt.Errorf("unknown store %q (want memory, libsql or redis)", c.Store)
	}
	if c.ApprovalTTL < 0 || c.ActionTTL < 0 || c.ResultRetention < 0 {
		return errors.New("ttl and retention values must not be negative")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return errors.New("telegram_chat_id is required when telegram_token is set")
	}
	return nil
}
