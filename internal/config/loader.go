package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads dispatchd's configuration from configPath. A path to a
// single file loads that file as the root document, with its own
// directory as <dir>. A path to a directory loads <dir>/config.yaml as
// the root document. Either way, every <dir>/<BucketsDir>/*.yaml file
// is then grafted into Config.Buckets, each file's basename (minus
// extension) becoming a bucket id.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: not found: %s", absPath)
	}

	var cfg *Config
	var configDir string
	if info.IsDir() {
		configDir = absPath
		rootPath := filepath.Join(absPath, "config.yaml")
		cfg, err = loadFile(rootPath)
		if err != nil {
			return nil, fmt.Errorf("config: load %s: %w", rootPath, err)
		}
		if err := verifyHash(rootPath); err != nil {
			return nil, err
		}
	} else {
		configDir = filepath.Dir(absPath)
		cfg, err = loadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config: load %s: %w", absPath, err)
		}
		if err := verifyHash(absPath); err != nil {
			return nil, err
		}
	}
	cfg.ConfigDir = configDir

	applyDefaults(cfg)

	bucketFiles, err := DiscoverBucketFiles(configDir, cfg.BucketsDir)
	if err != nil {
		return nil, fmt.Errorf("config: discover bucket files: %w", err)
	}
	if err := graftBuckets(cfg, bucketFiles); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	for id, b := range cfg.Buckets {
		cfg.Buckets[id] = mergeBucketDefaults(b)
	}

	return cfg, nil
}

// loadFile parses one YAML document into a *Config, applying ${VAR}
// environment interpolation first.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if cfg.Buckets == nil {
		cfg.Buckets = make(map[string]*BucketConfig)
	}
	return &cfg, nil
}

// graftBuckets loads each discovered bucket file and inserts it into
// cfg.Buckets, keyed by basename. A bucket that also appears inline in
// config.yaml's buckets: map is overridden by the file (files win,
// since they are the more specific source).
func graftBuckets(cfg *Config, files []string) error {
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read bucket file %s: %w", path, err)
		}
		var b BucketConfig
		if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &b); err != nil {
			return fmt.Errorf("config: parse bucket file %s: %w", path, err)
		}
		id := bucketIDFromFilename(path)
		cfg.Buckets[id] = &b
	}
	return nil
}

func bucketIDFromFilename(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// DiscoverConfigDir finds dispatchd's configuration directory by
// checking standard locations in priority order: $DISPATCHD_CONFIG_DIR,
// ~/.config/dispatchd, /etc/dispatchd, ./dispatchd.yaml (legacy
// single-file fallback).
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("DISPATCHD_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(homeDir, ".config", "dispatchd")
		if _, err := os.Stat(userDir); err == nil {
			return userDir, nil
		}
	}
	if _, err := os.Stat("/etc/dispatchd"); err == nil {
		return "/etc/dispatchd", nil
	}
	if _, err := os.Stat("./dispatchd.yaml"); err == nil {
		return "./dispatchd.yaml", nil
	}
	return "", fmt.Errorf("config: no config found (checked $DISPATCHD_CONFIG_DIR, ~/.config/dispatchd, /etc/dispatchd, ./dispatchd.yaml)")
}

// interpolateEnv replaces ${VAR} with the environment variable's
// value. An undefined variable is left as the literal placeholder, so
// validate can report exactly which variable is missing.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// applyDefaults merges Defaults() into cfg wherever a field was left
// at its zero value.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.ChildrenMaxTimeout == 0 {
		cfg.Service.ChildrenMaxTimeout = d.Service.ChildrenMaxTimeout
	}
	if cfg.Service.HousekeepingCheckInterval == 0 {
		cfg.Service.HousekeepingCheckInterval = d.Service.HousekeepingCheckInterval
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = d.Store.Path
	}
	if cfg.BucketsDir == "" {
		cfg.BucketsDir = d.BucketsDir
	}
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
}

// mergeBucketDefaults fills in two knobs from DefaultBucketConfig():
// max_work_per_child when it is 0, and child_max_run_time when it is 0
// and single_work_item is false. max_children is left as loaded, so 0
// still disables the bucket.
func mergeBucketDefaults(b *BucketConfig) *BucketConfig {
	d := DefaultBucketConfig()
	if b.MaxWorkPerChild == 0 {
		b.MaxWorkPerChild = d.MaxWorkPerChild
	}
	if b.ChildMaxRunTime == 0 && !b.SingleWorkItem {
		// YAML unmarshal cannot tell an omitted child_max_run_time from
		// an explicit 0 for a plain int, so both become -1 (unlimited)
		// here. A config file therefore cannot give a bucket without
		// single_work_item the immediate-deadline value 0; only a
		// single_work_item bucket keeps a loaded 0. Buckets created at
		// runtime via AddBucket default through bucket.newDefault()
		// instead, and SetChildMaxRunTime can still set 0 on any bucket.
		b.ChildMaxRunTime = d.ChildMaxRunTime
	}
	return b
}

func validate(cfg *Config) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.ChildrenMaxTimeout <= 0 {
		return fmt.Errorf("service.children_max_timeout must be positive")
	}
	if cfg.Service.HousekeepingCheckInterval <= 0 {
		return fmt.Errorf("service.housekeeping_check_interval must be positive")
	}
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required when store.enabled is true")
	}
	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api.enabled is true")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok == "" {
				return fmt.Errorf("api.auth.tokens[%d] is empty", i)
			}
			if envVarPattern.MatchString(tok) {
				return fmt.Errorf("api.auth.tokens[%d]: unresolved environment variable", i)
			}
		}
	}
	if cfg.Webhook != nil {
		if cfg.Webhook.Listen == "" {
			return fmt.Errorf("webhook.listen is required when webhook is configured")
		}
		for i, ep := range cfg.Webhook.Endpoints {
			if ep.Path == "" {
				return fmt.Errorf("webhook.endpoints[%d].path is required", i)
			}
			if ep.Bucket == "" {
				return fmt.Errorf("webhook.endpoints[%d].bucket is required", i)
			}
		}
	}
	for id, b := range cfg.Buckets {
		if b.MaxChildren < 0 {
			return fmt.Errorf("bucket %q: max_children must be >= 0 (got %d)", id, b.MaxChildren)
		}
		if b.ChildMaxRunTime < -1 {
			return fmt.Errorf("bucket %q: child_max_run_time must be >= -1 (got %d)", id, b.ChildMaxRunTime)
		}
		if b.PersistentMode && b.PersistentModeData == nil {
			return fmt.Errorf("bucket %q: persistent_mode requires persistent_mode_data", id)
		}
	}
	return nil
}
