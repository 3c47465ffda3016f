package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// Loader loads configuration from a YAML file and the environment.
type Loader struct {
	lookup LookupFunc
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// NewLoaderWithLookup creates a loader reading variables through lookup.
func NewLoaderWithLookup(lookup LookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{lookup: lookup}
}

// Load reads the configuration from the process environment and, when path
// is not empty, from the YAML file at path.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load builds, defaults and validates the configuration.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		parsed, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}
	return l.finish(cfg)
}

// LoadFromReader is Load with the YAML document read from r.
func (l *Loader) LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := l.parse(data)
	if err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

// LoadFile parses the YAML file at path without applying the environment,
// defaults or validation.
func (l *Loader) LoadFile(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return l.parse(data)
}

func (l *Loader) finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg, l.lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) parse(data []byte) (*Config, error) {
	content := l.substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns. "$$" is a
// literal dollar sign.
func (l *Loader) substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		if value, exists := l.lookup(submatches[1]); exists {
			return value
		}
		if len(submatches) >= 3 {
			return submatches[2]
		}
		return ""
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}
