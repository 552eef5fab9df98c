package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references in a raw YAML
// document, resolved against the process environment before parsing.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Loader loads Config from a YAML file and supports in-place hot reload.
// A Loader is safe for concurrent use: Get may be called from any number of
// goroutines while Reload swaps in a freshly parsed Config.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string
}

// NewLoader returns a Loader pre-seeded with DefaultConfig. Load or Reload
// must be called to read a file from disk; until then Get returns the
// defaults.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads, env-substitutes, and parses the YAML file at path, merging it
// over DefaultConfig. The loaded path is remembered for subsequent Reload
// calls.
func (l *Loader) Load(path string) error {
	cfg, err := loadFile(path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Reload re-reads the previously loaded file. It returns an error if Load
// has never been called.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("config: Reload called before Load")
	}
	return l.Load(path)
}

// Get returns the current configuration. The returned pointer must be
// treated as read-only by callers; Reload replaces it wholesale rather than
// mutating it in place.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path most recently passed to Load, or "" if Load has
// not yet succeeded.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

func loadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := substituteEnvVars(string(raw))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} references in input
// with values from the process environment. An unset variable with no
// default resolves to the empty string.
func substituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		def := groups[3]

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return def
	})
}

// GenerateDefault writes the default configuration, marshaled as YAML, to
// path. Intended for `sark init`-style bootstrap of a starter config file.
func GenerateDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
