// Package config loads and validates dispatchd's YAML configuration:
// the global service/store knobs plus the per-bucket policy knobs,
// with directory-discovery and a blake3 integrity-lock for catching
// config drift between `config lock` and the next load.
package config

import "time"

// Config is the complete dispatchd configuration.
type Config struct {
	Service    ServiceConfig            `yaml:"service"`
	Store      StoreConfig              `yaml:"store"`
	API        APIConfig                `yaml:"api,omitempty"`
	Webhook    *WebhookListenerConfig   `yaml:"webhook,omitempty"`
	BucketsDir string                   `yaml:"buckets_dir"`
	Buckets    map[string]*BucketConfig `yaml:"buckets"`

	// ConfigDir is the directory config.yaml was loaded from (not
	// serialized; set by Load so relative paths resolve the
	// same way regardless of the caller's working directory).
	ConfigDir string `yaml:"-"`
}

// ServiceConfig defines core supervisor-wide settings: children_max_timeout,
// housekeeping_check_interval, and friends.
type ServiceConfig struct {
	Name                      string        `yaml:"name"`
	LogLevel                  string        `yaml:"log_level"`
	ChildrenMaxTimeout        time.Duration `yaml:"children_max_timeout"`
	HousekeepingCheckInterval time.Duration `yaml:"housekeeping_check_interval"`
	// StoreResult is the global store_result knob: whether a bucket's
	// in-memory pending_results sequence retains results at all.
	// Separate from Store.Enabled, which gates durable SQLite
	// persistence of those same results.
	StoreResult bool `yaml:"store_result"`
}

// StoreConfig defines result/event persistence backed by SQLite.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines the optional admin/status HTTP API (read-mostly:
// its one write endpoint is POST /buckets/{id}/work).
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig lists bearer tokens accepted by the admin API.
type APIAuthConfig struct {
	Tokens []string `yaml:"tokens,omitempty"`
}

// WebhookListenerConfig defines the optional inbound webhook listener
// that turns verified HTTP POSTs into AddWork calls.
type WebhookListenerConfig struct {
	Listen    string                  `yaml:"listen"`
	Endpoints []WebhookEndpointConfig `yaml:"endpoints"`
}

// WebhookEndpointConfig binds one HTTP path to a bucket.
type WebhookEndpointConfig struct {
	Path            string `yaml:"path"`
	Bucket          string `yaml:"bucket"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	// Algorithm is the HMAC digest the provider signs with ("sha256",
	// the default, or "sha1" for providers that still use it).
	Algorithm    string `yaml:"algorithm,omitempty"`
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty"`
}

// BucketConfig is the per-bucket policy knob set, as YAML, plus
// Command: the external executable dispatchd's own internal/runner
// shells out to from inside the forked child — the default child_run
// callback, registered automatically for every bucket that sets it.
type BucketConfig struct {
	MaxChildren        int      `yaml:"max_children"`
	MaxWorkPerChild    int      `yaml:"max_work_per_child"`
	ChildMaxRunTime    int      `yaml:"child_max_run_time"`
	SingleWorkItem     bool     `yaml:"single_work_item"`
	PersistentMode     bool     `yaml:"persistent_mode"`
	PersistentModeData any      `yaml:"persistent_mode_data,omitempty"`
	Command            []string `yaml:"command,omitempty"`
	CommandTimeout     int      `yaml:"command_timeout,omitempty"` // seconds; 0 = no extra enforcement beyond child_max_run_time
}

// Defaults returns a Config with conservative defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                      "dispatchd",
			LogLevel:                  "info",
			ChildrenMaxTimeout:        3 * time.Second,
			HousekeepingCheckInterval: time.Second,
			// Off by default, same convention as Store.Enabled: an
			// operator opts a YAML-configured supervisor into retaining
			// results explicitly. A *bucket.Registry built directly
			// (embedding use, no config layer) defaults to on instead,
			// matching the unconditional behavior this knob replaced.
			StoreResult: false,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "./data/dispatchd.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8088",
		},
		BucketsDir: "./buckets",
		Buckets:    make(map[string]*BucketConfig),
	}
}

// DefaultBucketConfig returns the knob set a bucket declared without
// overrides starts from — a clone of the DEFAULT bucket's settings at
// the instant of creation, applied here at load time. The registry
// (internal/bucket) applies the same rule again at runtime for
// buckets AddWork creates without ever appearing in YAML.
func DefaultBucketConfig() *BucketConfig {
	return &BucketConfig{
		MaxChildren:     1,
		MaxWorkPerChild: 1,
		ChildMaxRunTime: -1,
	}
}
