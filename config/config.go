// Package config loads, saves, and hot-reloads the worker's on-disk
// configuration: the language recipe table, sandbox profile, and default
// launch limits.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/evalsa/sandbox-worker/logging"
	"github.com/evalsa/sandbox-worker/sandbox"
)

const appName = "sandbox-worker"

// Config holds everything the worker needs to evaluate a request:
// language recipes addressed by name, the sandbox profile applied to every
// run phase, and the default limits used when a request omits its own.
type Config struct {
	Languages     map[string]sandbox.LanguageRecipe `yaml:"languages"`
	Sandbox       sandbox.SandboxProfile             `yaml:"sandbox"`
	DefaultLimits sandbox.LaunchLimits                `yaml:"default_limits"`
}

// Validate checks structural invariants and lints every recipe's
// compile_command as bash syntax, catching config typos before a job ever
// reaches the Child Launcher.
func (c *Config) Validate() error {
	for name, recipe := range c.Languages {
		if recipe.Name == "" {
			recipe.Name = name
			c.Languages[name] = recipe
		}
		if err := recipe.Validate(); err != nil {
			return fmt.Errorf("config: language %q: %w", name, err)
		}
		if recipe.CompileCommand != "" {
			if _, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(recipe.CompileCommand), name); err != nil {
				return fmt.Errorf("config: language %q: compile_command is not valid bash: %w", name, err)
			}
		}
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.DefaultLimits != (sandbox.LaunchLimits{}) {
		if err := c.DefaultLimits.Validate(); err != nil {
			return fmt.Errorf("config: default_limits: %w", err)
		}
	}
	return nil
}

// Recipe looks up a language recipe by name.
func (c *Config) Recipe(name string) (sandbox.LanguageRecipe, bool) {
	r, ok := c.Languages[name]
	return r, ok
}

// Path returns the platform-appropriate config file path. If
// SANDBOX_WORKER_CONFIG is set, that path is used directly.
func Path() (string, error) {
	if p := os.Getenv("SANDBOX_WORKER_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine config directory: %w", err)
	}
	return filepath.Join(dir, appName, "config.yaml"), nil
}

// Load reads, parses, and validates the config file. If the file does not
// exist, a zero-value Config is returned with no error — an empty language
// table simply accepts no requests.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to the YAML file, creating the directory if needed.
func Save(cfg *Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Watch monitors the config file for changes and calls onChange with the
// newly loaded Config. It blocks until ctx is cancelled. If the config
// directory does not exist yet, Watch creates it so fsnotify can watch it.
func Watch(ctx context.Context, onChange func(*Config)) error {
	p, err := Path()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(p) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := Load()
				if err != nil {
					logging.Errorf("failed to reload config", err)
					continue
				}
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Errorf("config watcher error", err)
		}
	}
}
