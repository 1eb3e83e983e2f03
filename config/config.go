package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct to hold the configuration
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	StoreDir string `envconfig:"STORE_DIR" default:"./store"`
	GinMode  string `envconfig:"GIN_MODE" default:"release"`

	DefaultDeviceID string `envconfig:"DEFAULT_DEVICE_ID" default:"default"`
	MultiDevice     bool   `envconfig:"MULTI_DEVICE" default:"true"`
	QRTerminal      bool   `envconfig:"QR_TERMINAL" default:"false"`

	Webhook WebhookConfig
	Session SessionConfig

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// WebhookConfig holds the process-wide live relay target
type WebhookConfig struct {
	URL     string        `envconfig:"WEBHOOK_URL"`
	Method  string        `envconfig:"WEBHOOK_METHOD" default:"GET"`
	Timeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	Workers int           `envconfig:"WEBHOOK_WORKERS" default:"16"`
}

// SessionConfig holds the per-device session tuning
type SessionConfig struct {
	SendTimeout       time.Duration `envconfig:"SEND_TIMEOUT" default:"20s"`
	BackfillDelay     time.Duration `envconfig:"BACKFILL_DELAY" default:"5s"`
	BackfillLimit     int           `envconfig:"BACKFILL_LIMIT" default:"50"`
	RestartBackoffMin time.Duration `envconfig:"RESTART_BACKOFF_MIN" default:"1s"`
	RestartBackoffMax time.Duration `envconfig:"RESTART_BACKOFF_MAX" default:"1m"`
	MaxRestarts       int           `envconfig:"MAX_RESTARTS" default:"0"`
}

// Load function to load the configuration from the environment variables
func Load() (Config, error) {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("No .env file found")
	}

	var c Config
	err = envconfig.Process("", &c)
	if err != nil {
		return Config{}, fmt.Errorf("unable to get envconfig: %w", err)
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) validate() error {
	if c.DefaultDeviceID == "" {
		return fmt.Errorf("DEFAULT_DEVICE_ID must not be empty")
	}
	if c.Webhook.Workers <= 0 {
		return fmt.Errorf("WEBHOOK_WORKERS must be positive, got %d", c.Webhook.Workers)
	}
	if c.Session.RestartBackoffMax < c.Session.RestartBackoffMin {
		return fmt.Errorf("RESTART_BACKOFF_MAX (%s) is lower than RESTART_BACKOFF_MIN (%s)",
			c.Session.RestartBackoffMax, c.Session.RestartBackoffMin)
	}
	if c.Session.MaxRestarts < 0 {
		return fmt.Errorf("MAX_RESTARTS must not be negative")
	}
	return nil
}

// MCPConfig holds the configuration of the MCP tool server
type MCPConfig struct {
	GatewayURL string        `envconfig:"GATEWAY_URL" default:"http://localhost:8080"`
	DeviceID   string        `envconfig:"MCP_DEVICE_ID"`
	Timeout    time.Duration `envconfig:"MCP_TIMEOUT" default:"30s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// LoadMCP loads the MCP tool server configuration from the environment
func LoadMCP() (MCPConfig, error) {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("No .env file found")
	}

	var c MCPConfig
	err = envconfig.Process("", &c)
	if err != nil {
		return MCPConfig{}, fmt.Errorf("unable to get envconfig: %w", err)
	}

	if c.GatewayURL == "" {
		return MCPConfig{}, fmt.Errorf("GATEWAY_URL must not be empty")
	}

	return c, nil
}
