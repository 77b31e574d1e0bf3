// Package config reads the runtime endpoints of an agent: where trackers are
// stored, where custom actions run and where events are published.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/resilience"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the endpoints file looked up in the project directory.
const DefaultFile = "endpoints.yml"

// Tracker store types.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the content of endpoints.yml after environment overrides.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// MaxPredictions bounds the actions run for one message. Zero keeps the
	// processor default.
	MaxPredictions int `mapstructure:"max_predictions"`

	TrackerStore   TrackerStore      `mapstructure:"tracker_store"`
	LockStore      LockStore         `mapstructure:"lock_store"`
	ActionEndpoint ActionEndpoint    `mapstructure:"action_endpoint"`
	ActionsFile    string            `mapstructure:"actions_file"`
	EventBroker    EventBroker       `mapstructure:"event_broker"`
	HTTP           HTTP              `mapstructure:"http"`
	Security       Security          `mapstructure:"security"`
	Resilience     resilience.Config `mapstructure:"resilience"`
}

// TrackerStore selects the conversation store.
type TrackerStore struct {
	Type string `mapstructure:"type"`
	// URL is a redis:// URL or a Postgres DSN.
	URL    string        `mapstructure:"url"`
	Path   string        `mapstructure:"path"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// LockStore enables per-conversation locks shared by replicas.
type LockStore struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// ActionEndpoint is a remote action server.
type ActionEndpoint struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EventBroker publishes every appended event.
type EventBroker struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// HTTP tunes the REST server.
type HTTP struct {
	Port      int       `mapstructure:"port"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

// RateLimit is per client. A zero RPS disables it.
type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Security configures the persistence middlewares.
type Security struct {
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	PIIPatterns   []string `mapstructure:"pii_patterns"`
}

// Default returns the configuration used when no endpoints file exists.
func Default() Config {
	return Config{
		LogLevel:     "info",
		LogFormat:    "text",
		TrackerStore: TrackerStore{Type: StoreMemory},
		ActionEndpoint: ActionEndpoint{
			Timeout: 10 * time.Second,
		},
		HTTP:       HTTP{Port: 8080},
		Resilience: resilience.DefaultConfig(),
	}
}

// Load reads path, expands ${VAR} references and applies TENDRIL_* overrides.
// A missing file yields the defaults, still subject to overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := Parse([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the values already in cfg.
func Parse(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	if raw == nil {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Validate rejects combinations the factory cannot build.
func (c Config) Validate() error {
	switch c.TrackerStore.Type {
	case StoreMemory, StoreFile:
	case StoreRedis, StorePostgres:
		if c.TrackerStore.URL == "" {
			return fmt.Errorf("tracker_store: %s store requires url", c.TrackerStore.Type)
		}
	default:
		return fmt.Errorf("tracker_store: unknown type %q", c.TrackerStore.Type)
	}
	if c.ActionEndpoint.URL != "" && c.ActionsFile != "" {
		return errors.New("action_endpoint and actions_file are mutually exclusive")
	}
	if len(c.Security.FallbackKeys) > 0 && c.Security.EncryptionKey == "" {
		return errors.New("security: fallback_keys require encryption_key")
	}
	return nil
}

type override struct {
	env   string
	apply func(c *Config, v string) error
}

var overrides = []override{
	{"TENDRIL_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"TENDRIL_LOG_FORMAT", func(c *Config, v string) error { c.LogFormat = v; return nil }},
	{"TENDRIL_TRACKER_STORE", func(c *Config, v string) error { c.TrackerStore.Type = v; return nil }},
	{"TENDRIL_TRACKER_STORE_URL", func(c *Config, v string) error { c.TrackerStore.URL = v; return nil }},
	{"TENDRIL_ACTION_ENDPOINT", func(c *Config, v string) error { c.ActionEndpoint.URL = v; return nil }},
	{"TENDRIL_NATS_URL", func(c *Config, v string) error { c.EventBroker.URL = v; return nil }},
	{"TENDRIL_LOCK_STORE_URL", func(c *Config, v string) error { c.LockStore.URL = v; return nil }},
	{"TENDRIL_ENCRYPTION_KEY", func(c *Config, v string) error { c.Security.EncryptionKey = v; return nil }},
	{"TENDRIL_HTTP_PORT", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.HTTP.Port = port
		return nil
	}},
	{"TENDRIL_RATE_LIMIT", func(c *Config, v string) error {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.HTTP.RateLimit.RPS = rps
		return nil
	}},
}

func applyEnv(c *Config) error {
	for _, o := range overrides {
		v := strings.TrimSpace(os.Getenv(o.env))
		if v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
	}
	return nil
}
