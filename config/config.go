package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/tidwall/jsonc"
)

// EnvPrefix marks environment overrides. Nested keys use "__", so
// EVPROXY_SERVER__LISTEN sets server.listen.
const EnvPrefix = "EVPROXY_"

type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Codec    CodecConfig    `json:"codec"`
	Dispatch DispatchConfig `json:"dispatch"`
	Sinks    SinksConfig    `json:"sinks"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
	Journal  JournalConfig  `json:"journal"`
	Sentry   SentryConfig   `json:"sentry"`
}

type section interface {
	SetDefaults()
	Validate() error
}

type namedSection struct {
	name string
	section
}

func (c *Config) sections() []namedSection {
	return []namedSection{
		{"server", &c.Server},
		{"auth", &c.Auth},
		{"codec", &c.Codec},
		{"dispatch", &c.Dispatch},
		{"sinks", &c.Sinks},
		{"metrics", &c.Metrics},
		{"logging", &c.Logging},
		{"journal", &c.Journal},
	}
}

// Load reads the file at path, applies environment overrides, then defaults
// and validation for every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	provider, parser, err := source(path)
	if err != nil {
		return nil, err
	}
	if err := k.Load(provider, parser); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates every section.
func (c *Config) Finalize() error {
	for _, s := range c.sections() {
		s.SetDefaults()
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// source picks the provider and parser from the file extension. JSONC files
// have comments and trailing commas stripped before parsing.
func source(path string) (koanf.Provider, koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return file.Provider(path), yaml.Parser(), nil
	case ".json":
		return file.Provider(path), json.Parser(), nil
	case ".jsonc":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		return rawbytes.Provider(jsonc.ToJSON(data)), json.Parser(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}
