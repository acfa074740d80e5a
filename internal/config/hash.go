package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest is the on-disk .checksums file: a BLAKE3 hash per
// filename, written by `dispatchd config lock` and checked by every
// subsequent Load.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

const checksumFilename = ".checksums"

// ComputeBlake3Hash returns the hex-encoded BLAKE3 hash of the file at
// path, using github.com/zeebo/blake3.
func ComputeBlake3Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read %s: %w", path, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyFileHash recomputes path's hash and compares it to expected.
func VerifyFileHash(path, expected string) error {
	actual, err := ComputeBlake3Hash(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("config: hash mismatch for %s", filepath.Base(path))
	}
	return nil
}

// Lock computes config.yaml's hash (and every discovered bucket
// file's hash) and writes them to <configDir>/.checksums, authorizing
// the current on-disk state. `dispatchd config lock` (runConfigLock in
// cmd/dispatchd) calls it after a deliberate edit.
func Lock(configDir string) (*ChecksumManifest, error) {
	rootPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(rootPath); err != nil {
		return nil, fmt.Errorf("config: lock: %s not found", rootPath)
	}

	var cfg Config
	data, err := os.ReadFile(rootPath)
	if err == nil {
		_ = yaml.Unmarshal(data, &cfg)
	}
	bucketsDir := cfg.BucketsDir
	if bucketsDir == "" {
		bucketsDir = "buckets"
	}

	files, err := DiscoverBucketFiles(configDir, bucketsDir)
	if err != nil {
		return nil, err
	}
	files = append([]string{rootPath}, files...)

	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string, len(files)),
	}
	for _, f := range files {
		hash, err := ComputeBlake3Hash(f)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(configDir, f)
		if err != nil {
			rel = f
		}
		manifest.Hashes[rel] = hash
	}

	out, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("config: marshal checksums: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, checksumFilename), out, 0o600); err != nil {
		return nil, fmt.Errorf("config: write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads <configDir>/.checksums, or (nil, nil) if it does
// not exist — an unlocked config directory is permitted, just
// unverified.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, checksumFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read checksums: %w", err)
	}
	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("config: parse checksums: %w", err)
	}
	return &manifest, nil
}
