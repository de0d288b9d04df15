package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/alerting"
	"github.com/lvonguyen/netsentry/internal/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netsentry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// TestDefaultConfig verifies the shipped defaults match the documented
// operating point.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Detection.ThreatThreshold != 0.7 {
		t.Errorf("threat_threshold = %g, want 0.7", cfg.Detection.ThreatThreshold)
	}
	if cfg.Detection.AnomalyThreshold != 0.8 {
		t.Errorf("anomaly_threshold = %g, want 0.8", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Alerting.Cooldown != 300*time.Second {
		t.Errorf("cooldown = %v, want 5m", cfg.Alerting.Cooldown)
	}
	if !cfg.Alerting.Log.Enabled {
		t.Error("log channel should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

// TestLoad_OverridesDefaults verifies file values land over the defaults and
// untouched sections keep theirs.
func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
detection:
  threat_threshold: 0.6
pipeline:
  workers: 8
  overflow_policy: drop_oldest
alerting:
  webhook:
    enabled: true
    url: https://hooks.example.com/netsentry
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Detection.ThreatThreshold != 0.6 {
		t.Errorf("threat_threshold = %g, want 0.6", cfg.Detection.ThreatThreshold)
	}
	if cfg.Detection.AnomalyThreshold != 0.8 {
		t.Errorf("untouched anomaly_threshold = %g, want default 0.8", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Pipeline.Workers != 8 || cfg.Pipeline.OverflowPolicy != pipeline.OverflowDropOldest {
		t.Errorf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if !cfg.Alerting.Webhook.Enabled || cfg.Alerting.Webhook.URL == "" {
		t.Errorf("unexpected webhook config: %+v", cfg.Alerting.Webhook)
	}
}

// TestLoad_MissingFile verifies a helpful error for a bad path.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/netsentry.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

// TestValidate_Failures covers each startup-fatal condition.
func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no channels enabled", func(c *Config) { c.Alerting.Log.Enabled = false }},
		{"negative workers", func(c *Config) { c.Pipeline.Workers = -1 }},
		{"negative queue capacity", func(c *Config) { c.Pipeline.QueueCapacity = -5 }},
		{"unknown overflow policy", func(c *Config) { c.Pipeline.OverflowPolicy = "spill" }},
		{"threat threshold out of range", func(c *Config) { c.Detection.ThreatThreshold = 1.5 }},
		{"anomaly threshold out of range", func(c *Config) { c.Detection.AnomalyThreshold = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// TestEnabledChannels verifies the channel list follows the enable flags.
func TestEnabledChannels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alerting.Webhook.Enabled = true
	cfg.Alerting.Chat.Enabled = true

	got := cfg.Alerting.EnabledChannels()
	want := map[alerting.ChannelKind]bool{
		alerting.ChannelChat:    true,
		alerting.ChannelWebhook: true,
		alerting.ChannelLog:     true,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d channels, got %v", len(want), got)
	}
	for _, ch := range got {
		if !want[ch] {
			t.Errorf("unexpected channel %s", ch)
		}
	}
}

// TestWatch_ReloadsOnWrite verifies the watcher picks up edited thresholds
// and ignores invalid replacements.
func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "detection:\n  threat_threshold: 0.7\n")

	reloads := make(chan *Config, 4)
	stop, err := Watch(path, zap.NewNop(), func(c *Config) { reloads <- c })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("detection:\n  threat_threshold: 0.9\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloads:
		if cfg.Detection.ThreatThreshold != 0.9 {
			t.Errorf("reloaded threshold = %g, want 0.9", cfg.Detection.ThreatThreshold)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	// An invalid replacement must not reach the callback.
	if err := os.WriteFile(path, []byte("detection:\n  threat_threshold: 7\n"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	select {
	case cfg := <-reloads:
		t.Errorf("invalid config should not reload, got threshold %g", cfg.Detection.ThreatThreshold)
	case <-time.After(200 * time.Millisecond):
	}
}
