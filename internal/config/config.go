package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models appraise.yml.
type Config struct {
	Instance struct {
		ID string `yaml:"id"`
	} `yaml:"instance"`
	Participation struct {
		// Global sync defaults; activities with override_sync_settings use
		// their own flags instead.
		SyncCreation bool `yaml:"sync_creation"`
		SyncClosure  bool `yaml:"sync_closure"`
	} `yaml:"participation"`
	Users struct {
		HideSuspended           bool `yaml:"hide_suspended"`
		CloseSuspendedInstances bool `yaml:"close_suspended_instances"`
	} `yaml:"users"`
	Jobs struct {
		SyncBatchSize int `yaml:"sync_batch_size"`
	} `yaml:"jobs"`
	Events struct {
		NATSURL     string `yaml:"nats_url"`
		SubjectBase string `yaml:"subject_base"`
	} `yaml:"events"`
	Server struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig is one HTTP event subscriber. An empty events list matches
// every event type.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with apr init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return fmt.Errorf("config.instance.id is required")
	}
	if c.Jobs.SyncBatchSize < 0 {
		return fmt.Errorf("config.jobs.sync_batch_size must not be negative")
	}
	if c.Events.NATSURL != "" && c.Events.SubjectBase == "" {
		return fmt.Errorf("config.events.subject_base is required when nats_url is set")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "appraise.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(instanceID string) string {
	return fmt.Sprintf(defaultTemplate, instanceID)
}

// Default returns the default Config struct for an instance.
func Default(instanceID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, instanceID)), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// SyncSettings are the effective creation/closure sync flags for one activity.
type SyncSettings struct {
	Creation bool
	Closure  bool
}

// Resolve returns the effective sync settings for an activity, taking its
// override flags into account.
func (c *Config) Resolve(override, syncCreation, syncClosure bool) SyncSettings {
	if override {
		return SyncSettings{Creation: syncCreation, Closure: syncClosure}
	}
	return SyncSettings{
		Creation: c.Participation.SyncCreation,
		Closure:  c.Participation.SyncClosure,
	}
}

const defaultTemplate = `instance:
  id: %s

participation:
  sync_creation: true
  sync_closure: true

users:
  hide_suspended: true
  close_suspended_instances: false

jobs:
  sync_batch_size: 500

events:
  nats_url: ""
  subject_base: appraise

server:
  jwt_secret: ""
`
