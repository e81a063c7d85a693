package instrument

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRuntimeAddress is the package instrumented code reports to.
const DefaultRuntimeAddress = "github.com/amirkhaki/preempt/pkg/runtime"

// IgnoreDirective in a function's doc comment leaves the function untraced.
const IgnoreDirective = "//preempt:ignore"

// Config holds configuration for the instrumentation
type Config struct {
	// ImportRewrites maps import paths to replacement paths
	ImportRewrites map[string]string `yaml:"importRewrites,omitempty"`

	// BaseRuntimeAddress is the base package path for runtime functions
	BaseRuntimeAddress string `yaml:"runtime,omitempty"`

	// RuntimeAlias is the import alias for the runtime package
	// If empty, a mangled name will be generated from BaseRuntimeAddress
	RuntimeAlias string `yaml:"alias,omitempty"`

	// LineFunc is called before every statement
	LineFunc string `yaml:"line,omitempty"`

	// CallFunc is called on entry of every function
	CallFunc string `yaml:"call,omitempty"`

	// ReturnFunc is deferred by every function
	ReturnFunc string `yaml:"return,omitempty"`

	// InitializeFunc and FinalizeFunc bracket main.main
	InitializeFunc string `yaml:"initialize,omitempty"`
	FinalizeFunc   string `yaml:"finalize,omitempty"`

	// Skip lists package paths that are never instrumented.
	// A trailing "/..." matches the package and everything below it,
	// other patterns use path.Match syntax.
	Skip []string `yaml:"skip,omitempty"`
}

// DefaultConfig returns a Config with default settings
func DefaultConfig() *Config {
	return &Config{
		BaseRuntimeAddress: DefaultRuntimeAddress,
		RuntimeAlias:       "", // Will be auto-generated
		LineFunc:           "Line",
		CallFunc:           "Call",
		ReturnFunc:         "Return",
		InitializeFunc:     "Initialize",
		FinalizeFunc:       "Finalize",
		ImportRewrites:     map[string]string{},
	}
}

// LoadConfig reads a YAML config file. Keys missing from the file keep
// their DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, err)
	}
	if cfg.ImportRewrites == nil {
		cfg.ImportRewrites = map[string]string{}
	}
	return cfg, nil
}

// Skipped reports whether pkgPath matches one of the Skip patterns.
func (c *Config) Skipped(pkgPath string) bool {
	for _, pattern := range c.Skip {
		if prefix, ok := strings.CutSuffix(pattern, "/..."); ok {
			if pkgPath == prefix || strings.HasPrefix(pkgPath, prefix+"/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pattern, pkgPath); ok {
			return true
		}
	}
	return false
}
