// Package config loads changegate configuration from file and environment.
//
// Precedence: environment variables (CHANGEGATE_*) override file values,
// which override defaults. Nested keys map to env vars with underscores:
// servicenow.instance_url becomes CHANGEGATE_SERVICENOW_INSTANCE_URL.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config is the full runtime configuration.
type Config struct {
	Enabled bool
	Addr    string

	// Async switches the webhook endpoint to queue-and-return-202;
	// false processes inline before responding.
	Async bool

	WebhookSecret     string
	WebhookSecretFile string
	WebhookStaticKey  string

	ServiceNow ServiceNowConfig
	Anthropic  AnthropicConfig
	Store      StoreConfig

	FetchTimeout     time.Duration
	OverallTimeout   time.Duration
	SynthesisTimeout time.Duration
	StaleCloneDays   int

	// ComponentsFile optionally points at a YAML file of extra
	// table-backed component definitions.
	ComponentsFile string
}

// ServiceNowConfig holds the ticket-system connection settings.
type ServiceNowConfig struct {
	InstanceURL string
	Username    string
	Password    string
	// TargetInstance names the environment whose clone freshness is checked.
	TargetInstance string
	Timeout        time.Duration
}

// AnthropicConfig holds the model settings. An empty APIKey (and no
// ANTHROPIC_API_KEY in the environment) means rules-only synthesis.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string // memory | mysql
	DSN     string
}

// Load reads configuration from the optional file path and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHANGEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Enabled:           v.GetBool("enabled"),
		Addr:              v.GetString("addr"),
		Async:             v.GetBool("async"),
		WebhookSecret:     v.GetString("webhook.secret"),
		WebhookSecretFile: v.GetString("webhook.secret_file"),
		WebhookStaticKey:  v.GetString("webhook.static_key"),
		ServiceNow: ServiceNowConfig{
			InstanceURL:    v.GetString("servicenow.instance_url"),
			Username:       v.GetString("servicenow.username"),
			Password:       v.GetString("servicenow.password"),
			TargetInstance: v.GetString("servicenow.target_instance"),
			Timeout:        v.GetDuration("servicenow.timeout"),
		},
		Anthropic: AnthropicConfig{
			APIKey: v.GetString("anthropic.api_key"),
			Model:  v.GetString("anthropic.model"),
		},
		Store: StoreConfig{
			Backend: v.GetString("store.backend"),
			DSN:     v.GetString("store.dsn"),
		},
		FetchTimeout:     v.GetDuration("timeouts.fetch"),
		OverallTimeout:   v.GetDuration("timeouts.overall"),
		SynthesisTimeout: v.GetDuration("timeouts.synthesis"),
		StaleCloneDays:   v.GetInt("stale_clone_days"),
		ComponentsFile:   v.GetString("components_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("addr", ":8080")
	v.SetDefault("async", true)
	v.SetDefault("servicenow.timeout", 15*time.Second)
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("timeouts.fetch", 8*time.Second)
	v.SetDefault("timeouts.overall", 25*time.Second)
	v.SetDefault("timeouts.synthesis", 60*time.Second)
	v.SetDefault("stale_clone_days", 30)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the mysql backend")
		}
	default:
		return fmt.Errorf("store.backend %q is invalid (valid values: memory, mysql)", c.Store.Backend)
	}

	if c.FetchTimeout >= c.OverallTimeout {
		return fmt.Errorf("timeouts.fetch (%s) must be shorter than timeouts.overall (%s)",
			c.FetchTimeout, c.OverallTimeout)
	}

	if c.WebhookSecret != "" && c.WebhookSecretFile != "" {
		return fmt.Errorf("webhook.secret and webhook.secret_file are mutually exclusive")
	}

	return nil
}
