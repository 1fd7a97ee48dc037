// Package config loads the service configuration from a YAML or JSON file
// with environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/pubcontrol/core/metrics"
	"github.com/kilianp07/pubcontrol/core/pubcontrol"
	"github.com/kilianp07/pubcontrol/infra/httppub"
	"github.com/kilianp07/pubcontrol/infra/mqtt"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by
// a double underscore, e.g. PUBCTL_HTTP__TIMEOUT_MS.
const EnvPrefix = "PUBCTL_"

type Config struct {
	Publishers []pubcontrol.EndpointConfig `json:"publishers"`
	// DirectOnly disables the message bus transport; bus entries then fail
	// with a dependency error.
	DirectOnly bool           `json:"direct_only"`
	HTTP       httppub.Config `json:"http"`
	MQTT       mqtt.Config    `json:"mqtt"`
	Metrics    metrics.Config `json:"metrics"`
	Sentry     SentryConfig   `json:"sentry"`
	Logging    LoggingConfig  `json:"logging"`
	// EventBuffer sizes the subscription event stream read by the
	// service. Zero keeps the default.
	EventBuffer int `json:"event_buffer"`
}

// Load reads the configuration at path, then applies environment
// overrides. An empty path loads from the environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	if err := normalizePublishers(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// normalizePublishers accepts a single mapping in place of the publisher
// list.
func normalizePublishers(k *koanf.Koanf) error {
	single, ok := k.Get("publishers").(map[string]any)
	if !ok {
		return nil
	}
	k.Delete("publishers")
	return k.Set("publishers", []any{single})
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and the publisher entries.
func (c Config) Validate() error {
	for i, p := range c.Publishers {
		if p.URI == "" && !p.HasBus() {
			return fmt.Errorf("publishers[%d]: uri or a bus uri is required", i)
		}
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := c.Sentry.Validate(); err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
