package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `publishers:
  - uri: "https://a.example/realm"
    iss: "realm"
    key: "secret"
  - zmq_uri: "tcp://bus:1883"
    zmq_require_subscribers: true
http:
  timeout_ms: 2000
  max_retries: 2
mqtt:
  qos: 1
  subscription_topic: "ctl/subs"
metrics:
  prometheus_addr: ":9100"
  sinks:
    - type: "nop"
sentry:
  environment: "test"
logging:
  level: "debug"
event_buffer: 128
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Publishers, 2)
	assert.Equal(t, "https://a.example/realm", cfg.Publishers[0].URI)
	assert.Equal(t, "realm", cfg.Publishers[0].Iss)
	assert.Equal(t, "secret", cfg.Publishers[0].Key)
	assert.Nil(t, cfg.Publishers[0].ZmqRequireSubscribers)
	assert.Equal(t, "tcp://bus:1883", cfg.Publishers[1].ZmqURI)
	assert.True(t, cfg.Publishers[1].RequireSubscribers())

	assert.Equal(t, 2000, cfg.HTTP.TimeoutMS)
	assert.Equal(t, 2, cfg.HTTP.MaxRetries)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "ctl/subs", cfg.MQTT.SubscriptionTopic)
	assert.Equal(t, "pubcontrol/push", cfg.MQTT.PushTopic, "defaults applied")
	assert.Equal(t, ":9100", cfg.Metrics.PrometheusAddr)
	require.Len(t, cfg.Metrics.Sinks, 1)
	assert.Equal(t, "nop", cfg.Metrics.Sinks[0].Type)
	assert.Equal(t, "test", cfg.Sentry.Environment)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 128, cfg.EventBuffer)
}

func TestLoadJSONSinglePublisher(t *testing.T) {
	path := writeConfig(t, "config.json", `{"publishers": {"uri": "https://a.example"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Publishers, 1)
	assert.Equal(t, "https://a.example", cfg.Publishers[0].URI)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", "http:\n  timeout_ms: 2000\n")
	t.Setenv("PUBCTL_HTTP__TIMEOUT_MS", "500")
	t.Setenv("PUBCTL_MQTT__USERNAME", "bob")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.HTTP.TimeoutMS)
	assert.Equal(t, "bob", cfg.MQTT.Username)
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("PUBCTL_LOGGING__LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Publishers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unsupported format", "config.toml", ""},
		{"empty publisher", "config.yaml", "publishers:\n  - iss: realm\n"},
		{"bad qos", "config.yaml", "mqtt:\n  qos: 3\n"},
		{"bad retries", "config.yaml", "http:\n  max_retries: 50\n"},
		{"bad log level", "config.yaml", "logging:\n  level: loud\n"},
		{"bad sample rate", "config.yaml", "sentry:\n  traces_sample_rate: 2\n"},
		{"negative event buffer", "config.yaml", "event_buffer: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
