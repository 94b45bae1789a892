// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Port     int    `env:"PORT" envDefault:"8080"`

	// Chat transport
	TelegramToken   string  `env:"TELEGRAM_TOKEN"`
	TelegramChatID  int64   `env:"TELEGRAM_CHAT_ID"`
	TelegramBaseURL string  `env:"TELEGRAM_BASE_URL" envDefault:"https://api.telegram.org"`
	AlertGroupIDs   []int64 `env:"ALERT_GROUP_IDS" envSeparator:","`
	// DebugMode delivers every event immediately, photos included; with it
	// off, non-critical events batch and their photos are dropped.
	DebugMode bool `env:"DEBUG_MODE" envDefault:"false"`

	// Credential store
	CredentialsCSV string `env:"CREDENTIALS_CSV" envDefault:"tmb_credentials.csv"`

	// Browser
	WebDriverURL string `env:"WEBDRIVER_URL" envDefault:"http://127.0.0.1:9515"`
	ProfileRoot  string `env:"PROFILE_ROOT,expand" envDefault:"${HOME}/chrome-profiles"`
	DownloadRoot string `env:"DOWNLOAD_ROOT,expand" envDefault:"${HOME}/autobot-downloads"`

	// External services
	TwoCaptchaAPIKey  string `env:"TWOCAPTCHA_API_KEY"`
	TwoCaptchaBaseURL string `env:"TWOCAPTCHA_BASE_URL" envDefault:"https://2captcha.com"`
	AutobankUploadURL string `env:"AUTOBANK_UPLOAD_URL" envDefault:"https://autobank.payatom.in/bankupload.php"`

	// Balance monitor
	// BalanceCheckInterval is in seconds; values below 60 clamp to 60.
	BalanceCheckInterval int    `env:"BALANCE_CHECK_INTERVAL" envDefault:"180"`
	LadderFile           string `env:"LADDER_FILE"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"autobot"`

	// Ops HTTP server
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.TelegramToken == "" {
		return Config{}, fmt.Errorf("op=config.Load: TELEGRAM_TOKEN is required")
	}
	if cfg.TelegramChatID == 0 {
		return Config{}, fmt.Errorf("op=config.Load: TELEGRAM_CHAT_ID is required")
	}
	if cfg.BalanceCheckInterval < 60 {
		cfg.BalanceCheckInterval = 60
	}
	return cfg, nil
}

// BalanceCheckPeriod returns the clamped monitor tick as a duration.
func (c Config) BalanceCheckPeriod() time.Duration {
	return time.Duration(c.BalanceCheckInterval) * time.Second
}

// CaptchaSolverEnabled reports whether the auto-solve service is configured.
func (c Config) CaptchaSolverEnabled() bool { return c.TwoCaptchaAPIKey != "" }

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
