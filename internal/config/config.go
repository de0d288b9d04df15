// Package config provides configuration management for NetSentry.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/netsentry/internal/alerting"
	"github.com/lvonguyen/netsentry/internal/detect"
	"github.com/lvonguyen/netsentry/internal/observability"
	"github.com/lvonguyen/netsentry/internal/pipeline"
	"github.com/lvonguyen/netsentry/internal/store"
)

// Config holds all NetSentry configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Redis     store.Config            `yaml:"redis"`
	Detection DetectionConfig         `yaml:"detection"`
	Pipeline  pipeline.Config         `yaml:"pipeline"`
	Alerting  AlertingConfig          `yaml:"alerting"`
	Logging   observability.LogConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DetectionConfig holds scoring thresholds and escalation marks.
// ThreatThreshold and AnomalyThreshold are hot-reloadable.
type DetectionConfig struct {
	ThreatThreshold  float64 `yaml:"threat_threshold"`
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
	CPUHighWater     float64 `yaml:"cpu_high_water"`
	ConnHighWater    int     `yaml:"conn_high_water"`
	HostIdentity     string  `yaml:"host_identity"`
}

// Escalation returns the severity escalation marks.
func (c DetectionConfig) Escalation() detect.EscalationConfig {
	return detect.EscalationConfig{
		CPUHighWater:  c.CPUHighWater,
		ConnHighWater: c.ConnHighWater,
	}
}

// LogChannelConfig enables the structured-log channel.
type LogChannelConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AlertingConfig holds the cooldown window and channel settings.
type AlertingConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`

	Email   alerting.EmailConfig   `yaml:"email"`
	Chat    alerting.ChatConfig    `yaml:"chat"`
	Webhook alerting.WebhookConfig `yaml:"webhook"`
	Log     LogChannelConfig       `yaml:"log"`

	RetryCount      int           `yaml:"retry_count"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// Router returns the delivery policy for the dispatch router.
func (c AlertingConfig) Router() alerting.RouterConfig {
	return alerting.RouterConfig{
		RetryCount:      c.RetryCount,
		DeliveryTimeout: c.DeliveryTimeout,
	}
}

// EnabledChannels returns the channel kinds alerts are routed to.
func (c AlertingConfig) EnabledChannels() []alerting.ChannelKind {
	var channels []alerting.ChannelKind
	if c.Email.Enabled {
		channels = append(channels, alerting.ChannelEmail)
	}
	if c.Chat.Enabled {
		channels = append(channels, alerting.ChannelChat)
	}
	if c.Webhook.Enabled {
		channels = append(channels, alerting.ChannelWebhook)
	}
	if c.Log.Enabled {
		channels = append(channels, alerting.ChannelLog)
	}
	return channels
}

// Load reads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: store.Config{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Detection: DetectionConfig{
			ThreatThreshold:  0.7,
			AnomalyThreshold: 0.8,
			CPUHighWater:     90,
			ConnHighWater:    400,
			HostIdentity:     "localhost",
		},
		Pipeline: pipeline.Config{
			Workers:        4,
			QueueCapacity:  1024,
			OverflowPolicy: pipeline.OverflowBlock,
			DrainTimeout:   10 * time.Second,
		},
		Alerting: AlertingConfig{
			Cooldown:        300 * time.Second,
			Log:             LogChannelConfig{Enabled: true},
			RetryCount:      2,
			DeliveryTimeout: 5 * time.Second,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the startup-fatal conditions: a pipeline nobody can run or
// an alerting setup with nowhere to deliver.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Alerting.EnabledChannels()) == 0 {
		errs = append(errs, errors.New("alerting: at least one channel must be enabled"))
	}
	if c.Pipeline.Workers < 0 {
		errs = append(errs, fmt.Errorf("pipeline: workers must be positive, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("pipeline: queue_capacity must be positive, got %d", c.Pipeline.QueueCapacity))
	}
	if p := c.Pipeline.OverflowPolicy; p != "" && p != pipeline.OverflowBlock && p != pipeline.OverflowDropOldest {
		errs = append(errs, fmt.Errorf("pipeline: unknown overflow_policy %q", p))
	}
	if t := c.Detection.ThreatThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("detection: threat_threshold must be in [0,1], got %g", t))
	}
	if t := c.Detection.AnomalyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("detection: anomaly_threshold must be in [0,1], got %g", t))
	}

	return errors.Join(errs...)
}
