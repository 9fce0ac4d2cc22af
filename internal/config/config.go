package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppConfig      *AppConfig
	BrowserConfig  *BrowserConfig
	ResolverConfig *ResolverConfig
}

type AppConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type BrowserConfig struct {
	Headless    bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	SlowMo      int    `envconfig:"BROWSER_SLOW_MO" default:"100"`
	Timeout     int    `envconfig:"BROWSER_TIMEOUT" default:"30000"`
	UserDataDir string `envconfig:"BROWSER_USER_DATA_DIR" default:""`
}

type ResolverConfig struct {
	Rounds         int `envconfig:"RESOLVER_ROUNDS" default:"3"`
	BackoffMs      int `envconfig:"RESOLVER_BACKOFF_MS" default:"1000"`
	QueryTimeoutMs int `envconfig:"RESOLVER_QUERY_TIMEOUT_MS" default:"1500"`
	MaxTextLen     int `envconfig:"RESOLVER_MAX_TEXT_LEN" default:"80"`
}

func (r *ResolverConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMs) * time.Millisecond
}

func (r *ResolverConfig) QueryTimeout() time.Duration {
	return time.Duration(r.QueryTimeoutMs) * time.Millisecond
}

func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	return &conf, nil
}
