package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string         `yaml:"version"`
	App      AppConfig      `yaml:"app"`
	RPC      RPCConfig      `yaml:"rpc"`
	OIDC     OIDCConfig     `yaml:"oidc"`
	Social   SocialConfig   `yaml:"social"`
	Callback CallbackConfig `yaml:"callback"`
	Browser  BrowserConfig  `yaml:"browser"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// AppConfig identifies this installation to the backend.
type AppConfig struct {
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	DataDir   string `yaml:"data_dir"`
	MachineID string `yaml:"machine_id,omitempty"` // override; normally persisted
}

// RPCConfig configures the CBOR RPC transport.
type RPCConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// OIDCConfig configures the region-scoped OIDC endpoints used by the
// device-code flow and the OIDC refresh strategy.
type OIDCConfig struct {
	Region      string `yaml:"region"`
	BaseURLTmpl string `yaml:"base_url_template"` // %s = region
	StartURL    string `yaml:"start_url"`
	UseUTLS     bool   `yaml:"use_utls"`
}

// BaseURL renders the region-scoped OIDC base URL.
func (c OIDCConfig) BaseURL() string {
	return fmt.Sprintf(c.BaseURLTmpl, c.Region)
}

// SocialConfig configures the auth-service endpoints used by the social
// and web-OAuth login/refresh paths.
type SocialConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CallbackConfig configures the loopback listener standing in for the
// OS-level deep-link handler.
type CallbackConfig struct {
	Port int `yaml:"port"`
}

// BrowserConfig controls how login URLs reach a browser. When
// AutomationEndpoint is set, the URL is posted there first; failures fall
// back to the OS default browser.
type BrowserConfig struct {
	AutomationEndpoint string `yaml:"automation_endpoint,omitempty"`
	NoBrowser          bool   `yaml:"no_browser"`
}

// SweepConfig configures the periodic status sweep over stored accounts.
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// TelegramConfig configures terminal-state account alerts.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.OIDC.Region == "" {
		return fmt.Errorf("oidc.region is required")
	}
	if !strings.Contains(c.OIDC.BaseURLTmpl, "%s") {
		return fmt.Errorf("oidc.base_url_template must contain a %%s region placeholder")
	}
	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		return fmt.Errorf("callback.port must be a valid port")
	}
	if c.Sweep.Enabled && c.Sweep.Interval < time.Minute {
		return fmt.Errorf("sweep.interval must be at least one minute")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram alerts are enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram alerts are enabled")
		}
	}
	return nil
}
