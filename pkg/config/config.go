package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-identity/pkg/cluster"
	"github.com/dd0wney/cluso-identity/pkg/reconciler"
	"github.com/dd0wney/cluso-identity/pkg/replication"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// Configuration errors
var (
	ErrMissingInstanceID = errors.New("instance_id is required")
	ErrMissingStoreURL   = errors.New("store.base_url is required")
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StoreSection configures the document store client.
type StoreSection struct {
	BaseURL        string   `yaml:"base_url" validate:"omitempty,url"`
	Database       string   `yaml:"database,omitempty"`
	AuthSubject    string   `yaml:"auth_subject,omitempty"`
	AuthSecret     string   `yaml:"auth_secret,omitempty" validate:"omitempty,min=32"`
	TokenTTL       Duration `yaml:"token_ttl,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
	QueryLimit     int      `yaml:"query_limit,omitempty" validate:"omitempty,min=1"`
}

// FeedSection configures the replication status feed. BaseURL defaults to
// the store URL; most deployments share one endpoint for both.
type FeedSection struct {
	BaseURL     string   `yaml:"base_url,omitempty" validate:"omitempty,url"`
	PollTimeout Duration `yaml:"poll_timeout,omitempty"`
}

// HealthSection configures the cluster health check loop.
type HealthSection struct {
	CheckInterval Duration `yaml:"check_interval,omitempty"`
	CheckTimeout  Duration `yaml:"check_timeout,omitempty"`
}

// ReconcilerSection configures the sync status sweep.
type ReconcilerSection struct {
	Interval     Duration `yaml:"interval,omitempty"`
	SweepTimeout Duration `yaml:"sweep_timeout,omitempty"`
	Kinds        []string `yaml:"kinds,omitempty" validate:"omitempty,dive,oneof=account client session audit_event"`
}

// ServerSection configures the ops HTTP server.
type ServerSection struct {
	ListenAddr      string   `yaml:"listen_addr,omitempty" validate:"omitempty,hostname_port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// Config is the full monitor daemon configuration.
type Config struct {
	// InstanceID identifies this instance in replication link IDs and
	// record metadata.
	InstanceID string `yaml:"instance_id" validate:"required"`

	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	Server     ServerSection     `yaml:"server"`
	Store      StoreSection      `yaml:"store"`
	Feed       FeedSection       `yaml:"feed"`
	Health     HealthSection     `yaml:"health"`
	Reconciler ReconcilerSection `yaml:"reconciler"`
}

// Default returns a configuration with all optional fields at their
// defaults. InstanceID and the store connection still have to come from the
// file or the environment.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerSection{
			ListenAddr:      "0.0.0.0:8086",
			ShutdownTimeout: Duration(30 * time.Second),
		},
	}
}

// Load reads configuration from an optional YAML file, applies environment
// overrides, and validates the result. An empty path skips the file and
// configures from environment and defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment overrides, one per secret or per-instance field. Structural
// tuning stays in the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("IDENTITY_INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}
	if v := os.Getenv("IDENTITY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("IDENTITY_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("IDENTITY_STORE_URL"); v != "" {
		c.Store.BaseURL = v
	}
	if v := os.Getenv("IDENTITY_STORE_DATABASE"); v != "" {
		c.Store.Database = v
	}
	if v := os.Getenv("IDENTITY_STORE_AUTH_SUBJECT"); v != "" {
		c.Store.AuthSubject = v
	}
	if v := os.Getenv("IDENTITY_STORE_AUTH_SECRET"); v != "" {
		c.Store.AuthSecret = v
	}
	if v := os.Getenv("IDENTITY_FEED_URL"); v != "" {
		c.Feed.BaseURL = v
	}
}

var validate = validator.New()

// Validate checks the configuration, including the derived per-component
// configurations, so a bad value fails at startup rather than at first use.
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return ErrMissingInstanceID
	}
	if c.Store.BaseURL == "" {
		return ErrMissingStoreURL
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateSub(c.StoreClientConfig()); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := validateSub(c.FeedConfig()); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if err := validateSub(c.MonitorConfig()); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if err := validateSub(c.ReconcilerConfig()); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}
	return nil
}

type validatable interface{ Validate() error }

func validateSub(v validatable) error {
	return v.Validate()
}

// StoreClientConfig materializes the document store client configuration.
func (c *Config) StoreClientConfig() *store.ClientConfig {
	cfg := store.DefaultClientConfig()
	cfg.BaseURL = c.Store.BaseURL
	cfg.AuthSubject = c.Store.AuthSubject
	cfg.AuthSecret = c.Store.AuthSecret
	if c.Store.Database != "" {
		cfg.Database = c.Store.Database
	}
	if c.Store.TokenTTL != 0 {
		cfg.TokenTTL = c.Store.TokenTTL.Std()
	}
	if c.Store.RequestTimeout != 0 {
		cfg.RequestTimeout = c.Store.RequestTimeout.Std()
	}
	if c.Store.QueryLimit != 0 {
		cfg.QueryLimit = c.Store.QueryLimit
	}
	return &cfg
}

// FeedConfig materializes the replication status feed configuration.
func (c *Config) FeedConfig() *replication.FeedConfig {
	cfg := replication.DefaultFeedConfig()
	cfg.BaseURL = c.Feed.BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = c.Store.BaseURL
	}
	if c.Feed.PollTimeout != 0 {
		cfg.PollTimeout = c.Feed.PollTimeout.Std()
	}
	return &cfg
}

// MonitorConfig materializes the cluster health service configuration.
func (c *Config) MonitorConfig() *cluster.MonitorConfig {
	cfg := cluster.DefaultMonitorConfig()
	cfg.LocalInstanceID = c.InstanceID
	if c.Health.CheckInterval != 0 {
		cfg.CheckInterval = c.Health.CheckInterval.Std()
	}
	if c.Health.CheckTimeout != 0 {
		cfg.CheckTimeout = c.Health.CheckTimeout.Std()
	}
	return &cfg
}

// ReconcilerConfig materializes the sync status reconciler configuration.
func (c *Config) ReconcilerConfig() *reconciler.Config {
	cfg := reconciler.DefaultConfig()
	if c.Reconciler.Interval != 0 {
		cfg.Interval = c.Reconciler.Interval.Std()
	}
	if c.Reconciler.SweepTimeout != 0 {
		cfg.SweepTimeout = c.Reconciler.SweepTimeout.Std()
	}
	for _, k := range c.Reconciler.Kinds {
		cfg.Kinds = append(cfg.Kinds, store.Kind(k))
	}
	return &cfg
}
