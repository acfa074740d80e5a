package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Get retrieves a value from cfg by dot-notation path (e.g.
// "service.log_level" or "buckets.ingest.max_children"), used by
// `config get`/`config show`. It marshals to a generic map and walks
// it, rather than using reflection directly, so the same traversal
// works for both struct fields and the Buckets map.
func (c *Config) Get(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return getPath(m, splitPath(path))
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

func getPath(m any, parts []string) (any, error) {
	if len(parts) == 0 {
		return m, nil
	}
	asMap, ok := m.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config: %q is not a mapping", parts[0])
	}
	v, ok := asMap[parts[0]]
	if !ok {
		return nil, fmt.Errorf("config: no such key %q", parts[0])
	}
	return getPath(v, parts[1:])
}
