package ruleconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var knownIDs = []string{
	"critical_event_immediate",
	"cooling_period_applied",
	"multiple_warnings_same_withdrawal",
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewLoader_ParsesConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), `
rules:
  - id: cooling_period_applied
    enabled: false
  - id: critical_event_immediate
    enabled: true
window:
  max_events: 500
  max_age: 12h
staleness_threshold: 2h
`)

	l, err := NewLoader(path, knownIDs)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	cfg := l.Config()
	disabled := cfg.DisabledRuleIDs()
	if len(disabled) != 1 || disabled[0] != "cooling_period_applied" {
		t.Errorf("DisabledRuleIDs = %v, want [cooling_period_applied]", disabled)
	}
	if cfg.Window.MaxEvents != 500 {
		t.Errorf("Window.MaxEvents = %d, want 500", cfg.Window.MaxEvents)
	}
	if cfg.Window.MaxAge.Std() != 12*time.Hour {
		t.Errorf("Window.MaxAge = %s, want 12h", cfg.Window.MaxAge.Std())
	}
	if cfg.StalenessThreshold.Std() != 2*time.Hour {
		t.Errorf("StalenessThreshold = %s, want 2h", cfg.StalenessThreshold.Std())
	}
}

func TestNewLoader_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "")
	l, err := NewLoader(path, knownIDs)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	cfg := l.Config()
	if len(cfg.DisabledRuleIDs()) != 0 {
		t.Error("empty file should disable nothing")
	}
	if cfg.Window.MaxEvents != 0 || cfg.Window.MaxAge != 0 || cfg.StalenessThreshold != 0 {
		t.Error("empty file should leave all overrides zero")
	}
}

func TestNewLoader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		substr  string
	}{
		{
			name:    "unknown rule id",
			content: "rules:\n  - id: no_such_rule\n    enabled: false\n",
			substr:  "unknown rule id",
		},
		{
			name:    "empty rule id",
			content: "rules:\n  - enabled: false\n",
			substr:  "empty id",
		},
		{
			name:    "bad duration",
			content: "window:\n  max_age: soon\n",
			substr:  "invalid duration",
		},
		{
			name:    "negative max events",
			content: "window:\n  max_events: -5\n",
			substr:  "max_events",
		},
		{
			name:    "not yaml",
			content: "{{{{",
			substr:  "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := NewLoader(path, knownIDs)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error = %q, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestNewLoader_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), knownIDs)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatch_Reloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "rules:\n  - id: cooling_period_applied\n    enabled: false\n")

	l, err := NewLoader(path, knownIDs)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	stop, err := l.Watch(nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	writeConfig(t, dir, "rules:\n  - id: critical_event_immediate\n    enabled: false\n")

	select {
	case cfg := <-changed:
		disabled := cfg.DisabledRuleIDs()
		if len(disabled) != 1 || disabled[0] != "critical_event_immediate" {
			t.Errorf("DisabledRuleIDs = %v, want [critical_event_immediate]", disabled)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not observed")
	}

	if got := l.Config().DisabledRuleIDs(); len(got) != 1 || got[0] != "critical_event_immediate" {
		t.Errorf("Config() after reload = %v", got)
	}
}

func TestWatch_BadReloadKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "rules:\n  - id: cooling_period_applied\n    enabled: false\n")

	l, err := NewLoader(path, knownIDs)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	errs := make(chan error, 1)
	stop, err := l.Watch(func(e error) {
		select {
		case errs <- e:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer stop()

	writeConfig(t, dir, "rules:\n  - id: no_such_rule\n")

	select {
	case <-errs:
	case <-time.After(3 * time.Second):
		t.Fatal("reload error not reported")
	}

	got := l.Config().DisabledRuleIDs()
	if len(got) != 1 || got[0] != "cooling_period_applied" {
		t.Errorf("Config() after failed reload = %v, want previous config intact", got)
	}
}
