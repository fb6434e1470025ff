// Package config loads .personamux/config.yaml. Resolution is
// defaults, then the file, then PERSONAMUX_* environment variables;
// later layers win field by field. A missing file is not an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("90s", "2m") in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Assistant struct {
	Command       string `yaml:"command"`
	ConfigDir     string `yaml:"configDir"`
	ContextBudget int    `yaml:"contextBudget"`
}

type Timeouts struct {
	Ask   Duration `yaml:"ask"`
	Agent Duration `yaml:"agent"`
	Poll  Duration `yaml:"poll"`
}

type Tmux struct {
	HistoryLimit int   `yaml:"historyLimit"`
	Mouse        *bool `yaml:"mouse"`
}

type Config struct {
	Assistant Assistant `yaml:"assistant"`
	Timeouts  Timeouts  `yaml:"timeouts"`
	Tmux      Tmux      `yaml:"tmux"`
	LogLevel  string    `yaml:"logLevel"`
}

func boolPtr(v bool) *bool { return &v }

// Defaults are the values the system runs with when no file and no
// environment overrides exist.
func Defaults() Config {
	return Config{
		Assistant: Assistant{
			Command:       "copilot",
			ContextBudget: 12000,
		},
		Timeouts: Timeouts{
			Ask:   Duration(120 * time.Second),
			Agent: Duration(600 * time.Second),
			Poll:  Duration(500 * time.Millisecond),
		},
		Tmux: Tmux{
			HistoryLimit: 50000,
			Mouse:        boolPtr(true),
		},
		LogLevel: "info",
	}
}

// Load reads path over Defaults and applies environment overrides. A
// file that exists but does not parse is an error; silence there would
// run with settings the operator did not choose.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
		if err == nil {
			if err := yaml.Unmarshal(payload, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return normalize(cfg), nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PERSONAMUX_ASSISTANT_COMMAND"); v != "" {
		cfg.Assistant.Command = v
	}
	if v := os.Getenv("PERSONAMUX_ASSISTANT_CONFIG_DIR"); v != "" {
		cfg.Assistant.ConfigDir = v
	}
	if v, ok := envInt("PERSONAMUX_CONTEXT_BUDGET"); ok {
		cfg.Assistant.ContextBudget = v
	}
	if v, ok := envDuration("PERSONAMUX_ASK_TIMEOUT"); ok {
		cfg.Timeouts.Ask = v
	}
	if v, ok := envDuration("PERSONAMUX_AGENT_TIMEOUT"); ok {
		cfg.Timeouts.Agent = v
	}
	if v, ok := envDuration("PERSONAMUX_POLL_INTERVAL"); ok {
		cfg.Timeouts.Poll = v
	}
	if v, ok := envInt("PERSONAMUX_TMUX_HISTORY_LIMIT"); ok {
		cfg.Tmux.HistoryLimit = v
	}
	if v := os.Getenv("PERSONAMUX_TMUX_MOUSE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Tmux.Mouse = boolPtr(parsed)
		}
	}
	if v := os.Getenv("PERSONAMUX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func envDuration(name string) (Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return Duration(parsed), true
}

// normalize backfills zero or negative numerics with defaults so a
// sparse file cannot zero out a timeout.
func normalize(cfg Config) Config {
	defaults := Defaults()
	if strings.TrimSpace(cfg.Assistant.Command) == "" {
		cfg.Assistant.Command = defaults.Assistant.Command
	}
	if cfg.Assistant.ContextBudget <= 0 {
		cfg.Assistant.ContextBudget = defaults.Assistant.ContextBudget
	}
	if cfg.Timeouts.Ask <= 0 {
		cfg.Timeouts.Ask = defaults.Timeouts.Ask
	}
	if cfg.Timeouts.Agent <= 0 {
		cfg.Timeouts.Agent = defaults.Timeouts.Agent
	}
	if cfg.Timeouts.Poll <= 0 {
		cfg.Timeouts.Poll = defaults.Timeouts.Poll
	}
	if cfg.Tmux.HistoryLimit <= 0 {
		cfg.Tmux.HistoryLimit = defaults.Tmux.HistoryLimit
	}
	if cfg.Tmux.Mouse == nil {
		cfg.Tmux.Mouse = defaults.Tmux.Mouse
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	return cfg
}
