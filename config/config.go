package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"` // empty means in-memory batch cache
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// LINE verification settings.
	LineChannelID  string `mapstructure:"LINE_CHANNEL_ID"`
	LineAPIBaseURL string `mapstructure:"LINE_API_BASE_URL"`
	LiffID         string `mapstructure:"LIFF_ID"`

	// Session token settings.
	MaxDevices                 int           `mapstructure:"MAX_DEVICES"`
	TokenLifespan              time.Duration `mapstructure:"TOKEN_LIFESPAN"`
	ChangeHeadersOnEachRequest bool          `mapstructure:"CHANGE_HEADERS_ON_EACH_REQUEST"`
	BatchBufferThrottle        time.Duration `mapstructure:"BATCH_BUFFER_THROTTLE"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/line-token-auth/")
	v.AddConfigPath("$HOME/.line-token-auth")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/line_token_auth_dev")
	v.SetDefault("MONGO_DB_NAME", "line_token_auth_dev")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "line-token-auth")
	v.SetDefault("LINE_CHANNEL_ID", "")
	v.SetDefault("LINE_API_BASE_URL", "https://api.line.me")
	v.SetDefault("LIFF_ID", "")
	v.SetDefault("MAX_DEVICES", 10)
	v.SetDefault("TOKEN_LIFESPAN", "336h") // two weeks
	v.SetDefault("CHANGE_HEADERS_ON_EACH_REQUEST", true)
	v.SetDefault("BATCH_BUFFER_THROTTLE", "5s")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.LineChannelID == "" {
		return nil, fmt.Errorf("LINE_CHANNEL_ID must be set")
	}
	if cfg.MaxDevices < 1 {
		return nil, fmt.Errorf("MAX_DEVICES must be at least 1, got %d", cfg.MaxDevices)
	}
	if cfg.TokenLifespan <= 0 {
		return nil, fmt.Errorf("TOKEN_LIFESPAN must be a positive duration, got %s", cfg.TokenLifespan)
	}
	if cfg.BatchBufferThrottle <= 0 {
		return nil, fmt.Errorf("BATCH_BUFFER_THROTTLE must be a positive duration, got %s", cfg.BatchBufferThrottle)
	}

	return &cfg, nil
}
