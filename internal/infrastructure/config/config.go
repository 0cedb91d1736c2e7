// Package config loads the service configuration and supports hot reload of
// the webhook endpoint set.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/testdeck/internal/infrastructure/watch"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
)

// Config is the full service configuration.
type Config struct {
	// Listen is the address the WebSocket endpoint binds to.
	Listen string `yaml:"listen"`

	// IdentityHeader is the request header carrying the authenticated
	// tester identity, set by the auth proxy.
	IdentityHeader string `yaml:"identity_header"`

	// LivenessWindow is the heartbeat window. A connection silent for two
	// windows is treated as disconnected.
	LivenessWindow time.Duration `yaml:"liveness_window"`

	// EventLogDir is the directory holding the append-only session event
	// log. Empty disables the audit log.
	EventLogDir string `yaml:"event_log_dir"`

	// DeadLetterPath is the JSONL file failed webhook deliveries land in.
	DeadLetterPath string `yaml:"dead_letter_path"`

	// Webhooks are the outgoing notification endpoints. This is the only
	// section applied on hot reload.
	Webhooks []events.WebhookEndpoint `yaml:"webhooks"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen:         ":8443",
		IdentityHeader: "X-Tester-Identity",
		LivenessWindow: 30 * time.Second,
		DeadLetterPath: "webhook-deadletters.jsonl",
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed one is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for values the service cannot
// run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.IdentityHeader == "" {
		return fmt.Errorf("config: identity_header must not be empty")
	}
	if c.LivenessWindow <= 0 {
		return fmt.Errorf("config: liveness_window must be positive")
	}
	for i, ep := range c.Webhooks {
		if ep.Name == "" {
			return fmt.Errorf("config: webhook %d has no name", i)
		}
		if ep.URL == "" {
			return fmt.Errorf("config: webhook %q has no url", ep.Name)
		}
	}
	return nil
}

// WatchWebhooks re-reads the configuration whenever the file changes and
// hands the fresh webhook endpoint set to apply. Other sections require a
// restart. Blocks until the context is cancelled.
func WatchWebhooks(ctx context.Context, path string, apply func([]events.WebhookEndpoint)) error {
	w := watch.NewFileWatcher(path, 500*time.Millisecond, func() {
		cfg, err := Load(path)
		if err != nil {
			// A half-saved or broken file keeps the previous endpoint set.
			slog.Warn("config reload failed", "path", path, "error", err)
			return
		}
		apply(cfg.Webhooks)
		slog.Info("webhook endpoints reloaded", "path", path, "count", len(cfg.Webhooks))
	})
	return w.Run(ctx)
}
