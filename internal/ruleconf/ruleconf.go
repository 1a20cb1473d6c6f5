// Package ruleconf loads the optional alerting tuning file: per-rule
// enable/disable toggles plus window and staleness overrides. The file is
// YAML and can be hot-reloaded; a broken reload keeps the previous config.
package ruleconf

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RuleToggle enables or disables one threshold rule by ID.
type RuleToggle struct {
	ID      string `yaml:"id"`
	Enabled *bool  `yaml:"enabled"` // nil means enabled
}

// Config is the parsed tuning file. Zero values mean "use the engine
// defaults".
type Config struct {
	Rules  []RuleToggle `yaml:"rules"`
	Window struct {
		MaxEvents int      `yaml:"max_events"`
		MaxAge    Duration `yaml:"max_age"`
	} `yaml:"window"`
	StalenessThreshold Duration `yaml:"staleness_threshold"`
}

// DisabledRuleIDs returns the IDs of rules the file turns off.
func (c *Config) DisabledRuleIDs() []string {
	var out []string
	for _, t := range c.Rules {
		if t.Enabled != nil && !*t.Enabled {
			out = append(out, t.ID)
		}
	}
	return out
}

// Validate checks the parsed config against the known rule IDs.
func (c *Config) Validate(knownRuleIDs []string) error {
	known := make(map[string]bool, len(knownRuleIDs))
	for _, id := range knownRuleIDs {
		known[id] = true
	}
	for _, t := range c.Rules {
		if t.ID == "" {
			return fmt.Errorf("rule toggle with empty id")
		}
		if !known[t.ID] {
			return fmt.Errorf("unknown rule id %q", t.ID)
		}
	}
	if c.Window.MaxEvents < 0 {
		return fmt.Errorf("window.max_events must be >= 0, got %d", c.Window.MaxEvents)
	}
	if c.Window.MaxAge < 0 {
		return fmt.Errorf("window.max_age must be >= 0, got %s", c.Window.MaxAge.Std())
	}
	if c.StalenessThreshold < 0 {
		return fmt.Errorf("staleness_threshold must be >= 0, got %s", c.StalenessThreshold.Std())
	}
	return nil
}

// Loader reads the tuning file and watches it for changes.
type Loader struct {
	path         string
	knownRuleIDs []string

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, knownRuleIDs []string) (*Loader, error) {
	l := &Loader{path: path, knownRuleIDs: knownRuleIDs}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. Call the returned stop function to clean up. A reload that fails
// to parse or validate is discarded and the previous config stays active.
func (l *Loader) Watch(onError func(error)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ruleconf watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("ruleconf watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := l.load()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				l.mu.Lock()
				l.current = cfg
				callbacks := make([]func(*Config), len(l.onChange))
				copy(callbacks, l.onChange)
				l.mu.Unlock()
				for _, fn := range callbacks {
					fn(cfg)
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(werr)
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("ruleconf read %s: %w", l.path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ruleconf parse %s: %w", l.path, err)
	}
	if err := cfg.Validate(l.knownRuleIDs); err != nil {
		return nil, fmt.Errorf("ruleconf validate %s: %w", l.path, err)
	}
	return &cfg, nil
}
