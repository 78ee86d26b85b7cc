// Package config loads cfgset.yaml, the per-dataset merge configuration.
//
// The file is YAML. After decoding it is checked against an embedded CUE
// schema, so a bad mode or a malformed watch hash is reported before any
// input is read.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cfgset/internal/catalog"
	"github.com/roach88/cfgset/internal/cfg"
	"github.com/roach88/cfgset/internal/merge"
)

// DefaultFile is the config file looked up next to the dataset.
const DefaultFile = "cfgset.yaml"

//go:embed schema.cue
var schemaCUE string

// Config holds merge settings. Zero values mean "not set"; CLI flags
// override whatever the file provides.
type Config struct {
	Mode        string   `yaml:"mode" json:"mode,omitempty"`
	Isolate     bool     `yaml:"isolate" json:"isolate,omitempty"`
	LiveTrace   *bool    `yaml:"live_trace" json:"live_trace,omitempty"`
	Watch       []string `yaml:"watch" json:"watch,omitempty"`
	Catalog     string   `yaml:"catalog" json:"catalog,omitempty"`
	Store       string   `yaml:"store" json:"store,omitempty"`
	MetricsFile string   `yaml:"metrics_file" json:"metrics_file,omitempty"`
	LogLevel    string   `yaml:"log_level" json:"log_level,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Mode:     string(merge.ModeIncremental),
		LogLevel: "info",
	}
}

// Load reads and validates the file at path. Relative catalog, store and
// metrics paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for _, p := range []*string{&c.Catalog, &c.Store, &c.MetricsFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return c, nil
}

// LoadOptional loads path if it exists and returns Default otherwise.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes YAML, fills defaults and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, cfg.NewConfigurationError("parse config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cfg.NewConfigurationError("invalid config: %v", err)
	}
	return nil
}

// MergeMode returns the configured matcher variant.
func (c *Config) MergeMode() (merge.Mode, error) {
	return merge.ParseMode(c.Mode)
}

// WatchList parses the watch hashes.
func (c *Config) WatchList() (merge.WatchList, error) {
	hashes := make([]uint32, 0, len(c.Watch))
	for _, s := range c.Watch {
		h, err := catalog.ParseHash(s)
		if err != nil {
			return merge.WatchList{}, err
		}
		hashes = append(hashes, h)
	}
	return merge.NewWatchList(hashes...), nil
}

// SlogLevel maps log_level to a slog level. Unset means info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MergeOptions translates the config into merge options.
func (c *Config) MergeOptions() ([]merge.Option, error) {
	mode, err := c.MergeMode()
	if err != nil {
		return nil, err
	}
	watch, err := c.WatchList()
	if err != nil {
		return nil, err
	}
	opts := []merge.Option{merge.WithMode(mode), merge.WithWatchList(watch)}
	if c.Isolate {
		opts = append(opts, merge.WithIsolation())
	}
	if c.LiveTrace != nil && *c.LiveTrace {
		opts = append(opts, merge.WithLiveTrace())
	}
	return opts, nil
}

// Live reports whether a merge runs as a live trace. An explicit
// live_trace setting wins; otherwise allTraces decides.
func (c *Config) Live(allTraces bool) bool {
	if c.LiveTrace != nil {
		return *c.LiveTrace
	}
	return allTraces
}
