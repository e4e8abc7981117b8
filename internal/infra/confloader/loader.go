package confloader

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "OBJMESH_"

// sectionSep separates nested keys in environment variable names.
const sectionSep = "__"

// Loader merges configuration sources into a struct with koanf tags.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file to load. An empty path loads no file.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithOverrides sets values applied after every other source, keyed by
// dotted path. The CLI uses it for flags.
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) { l.overrides = values }
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file path.
func (l *Loader) FilePath() string { return l.filePath }

// Load reads every source and unmarshals the result onto target. Fields
// absent from all sources keep the value target already holds.
func (l *Loader) Load(target any) error {
	l.k = koanf.New(".")

	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := l.k.Load(mapProvider(l.overrides), nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}

	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// envKey maps OBJMESH_SYNC__PULL_TIMEOUT to sync.pull_timeout.
func (l *Loader) envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, l.envPrefix))
	return strings.ReplaceAll(name, sectionSep, ".")
}

// String returns a loaded value by dotted key.
func (l *Loader) String(key string) string {
	return l.k.String(key)
}

// Keys returns all loaded keys.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}
