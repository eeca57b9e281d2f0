// Package config loads the conversation configuration: the persona and
// crisis texts, the safety denylist, the augmentation tables, the per-mode
// window capacities and the call timeouts.
//
// The configuration is a YAML document overlaid on the built-in defaults.
// Scalars and lists in the file replace the default; the suggestions map is
// merged key by key.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/bestie/internal/bestie/augment"
	"github.com/bdobrica/bestie/internal/bestie/emotion"
	"github.com/bdobrica/bestie/internal/bestie/reply"
	"github.com/bdobrica/bestie/internal/bestie/safety"
	"github.com/bdobrica/bestie/internal/bestie/session"
)

// Config is the conversation configuration.
type Config struct {
	Persona     string   `yaml:"persona"`
	CrisisReply string   `yaml:"crisisReply"`
	Denylist    []string `yaml:"denylist"`

	Suggestions      map[string]string `yaml:"suggestions"`
	Motivations      []string          `yaml:"motivations"`
	MotivationLabels []string          `yaml:"motivationLabels"`

	Capacities session.Capacities `yaml:"capacities"`
	Timeouts   Timeouts           `yaml:"timeouts"`
}

// Timeouts bounds the external calls made while composing a reply.
type Timeouts struct {
	Classification time.Duration `yaml:"classification"`
	Completion     time.Duration `yaml:"completion"`
	Sink           time.Duration `yaml:"sink"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tables := augment.DefaultTables()
	return &Config{
		Persona:          reply.DefaultPersona,
		CrisisReply:      reply.DefaultCrisisReply,
		Denylist:         append([]string(nil), safety.DefaultPhrases...),
		Suggestions:      tables.Suggestions,
		Motivations:      tables.Motivations,
		MotivationLabels: tables.MotivationLabels,
		Capacities:       session.DefaultCapacities(),
		Timeouts: Timeouts{
			Classification: emotion.DefaultTimeout,
			Completion:     reply.DefaultCompletionTimeout,
			Sink:           reply.DefaultSinkTimeout,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a Config for structural correctness.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: must not be nil")
	}
	if strings.TrimSpace(cfg.Persona) == "" {
		return fmt.Errorf("config: persona must not be empty")
	}
	if strings.TrimSpace(cfg.CrisisReply) == "" {
		return fmt.Errorf("config: crisisReply must not be empty")
	}
	if !slices.ContainsFunc(cfg.Denylist, func(p string) bool { return strings.TrimSpace(p) != "" }) {
		return fmt.Errorf("config: denylist must contain at least one non-blank phrase")
	}

	if cfg.Capacities.Global <= 0 || cfg.Capacities.Guest <= 0 || cfg.Capacities.User <= 0 {
		return fmt.Errorf("config: capacities must be positive, got global=%d guest=%d user=%d",
			cfg.Capacities.Global, cfg.Capacities.Guest, cfg.Capacities.User)
	}

	if cfg.Timeouts.Classification <= 0 || cfg.Timeouts.Completion <= 0 || cfg.Timeouts.Sink <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}

	if err := cfg.Tables().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Tables returns the augmentation tables.
func (c *Config) Tables() augment.Tables {
	return augment.Tables{
		Suggestions:      c.Suggestions,
		Motivations:      c.Motivations,
		MotivationLabels: c.MotivationLabels,
	}
}
