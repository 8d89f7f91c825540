package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} references in configuration files.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, parses, defaults and validates a snapshot from a YAML file.
// This is hosting-program tooling; the core only ever sees the returned
// validated Snapshot.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses, defaults and validates a snapshot from YAML bytes.
// ${VAR} references are expanded from the environment before parsing so
// secrets can stay out of the file.
func LoadBytes(data []byte) (*Snapshot, error) {
	expanded := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		if value, ok := os.LookupEnv(string(name)); ok {
			return []byte(value)
		}
		return match
	})

	var snapshot Snapshot
	if err := yaml.Unmarshal(expanded, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&snapshot)

	if err := Validate(&snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}
