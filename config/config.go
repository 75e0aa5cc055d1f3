package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	PushAPIURL  string   `mapstructure:"PUSH_API_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

// Load reads configuration from a .env file (when present) and the
// environment. DATABASE_URL and JWT_SECRET are required; everything else
// has a default. REDIS_URL is optional; without it push notifications are
// delivered synchronously instead of through the background queue.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("PUSH_API_URL", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up.
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("REDIS_URL")
	v.BindEnv("PUSH_API_URL")
	v.BindEnv("CORS_ORIGINS")

	// Missing .env is fine; the environment alone may be complete.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}
