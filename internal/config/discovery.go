package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiscoverBucketFiles returns the sorted absolute paths of every
// *.yaml/*.yml file under <configDir>/<bucketsDir>. A missing
// directory is not an error — inline buckets: in config.yaml are
// enough on their own — so it returns (nil, nil).
func DiscoverBucketFiles(configDir, bucketsDir string) ([]string, error) {
	if bucketsDir == "" {
		bucketsDir = "buckets"
	}
	dir := bucketsDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(configDir, bucketsDir)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsConfigDir reports whether dir looks like a dispatchd configuration
// directory, i.e. it has a config.yaml file directly inside it.
func IsConfigDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "config.yaml"))
	return err == nil && !info.IsDir()
}
