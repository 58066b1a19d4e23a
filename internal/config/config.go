package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tidwall/jsonc"
	"github.com/ziadkadry99/flowtrace/internal/llm"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/understand"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. A double underscore descends
// one level: FLOWTRACE_RETENTION__RETENTION_DAYS -> retention.retention_days.
const EnvPrefix = "FLOWTRACE_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (FLOWTRACE_*). Rules come from
// rules_file when set, else from the rules section, else the built-in set.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.RulesFile != "" {
		rulesPath := cfg.RulesFile
		if !filepath.IsAbs(rulesPath) {
			rulesPath = filepath.Join(filepath.Dir(path), rulesPath)
		}
		rules, err := LoadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		cfg.Rules = *rules
	} else if rulesEmpty(cfg.Rules) {
		cfg.Rules = understand.DefaultRules()
	}

	return cfg, nil
}

// envKey maps FLOWTRACE_LLM__MODEL to llm.model.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// LoadRules reads a rules file. Files ending in .json or .jsonc are parsed
// as JSON with comments and trailing commas allowed; anything else as YAML.
func LoadRules(path string) (*understand.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var rules understand.Rules
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &rules); err != nil {
			return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
		}
	default:
		if err := yamlv3.Unmarshal(data, &rules); err != nil {
			return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
		}
	}
	return &rules, nil
}

func rulesEmpty(r understand.Rules) bool {
	return len(r.IntentKeywords) == 0 &&
		len(r.GoalKeywords) == 0 &&
		len(r.ApplicationKeywords) == 0 &&
		len(r.PageKeywords) == 0 &&
		len(r.TaskKeywords) == 0 &&
		len(r.Portals) == 0
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validQualityTiers is the set of recognized quality tier values.
var validQualityTiers = map[QualityTier]bool{
	QualityLite:   true,
	QualityNormal: true,
	QualityMax:    true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Collector.BatchSize < 1 {
		return fmt.Errorf("collector.batch_size must be at least 1")
	}
	if c.Collector.FlushInterval <= 0 {
		return fmt.Errorf("collector.flush_interval must be positive")
	}
	if len(c.Collector.LogGlobs) > 0 && c.Collector.TailInterval <= 0 {
		return fmt.Errorf("collector.tail_interval must be positive when log_globs are set")
	}

	if c.Correlation.Margin < 0 {
		return fmt.Errorf("correlation.margin must be non-negative")
	}
	if c.Understanding.DependencyWindow <= 0 {
		return fmt.Errorf("understanding.dependency_window must be positive")
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	if c.LLM.Provider != "" && c.LLM.Provider != ProviderNone {
		if !validProvider(c.LLM.Provider) {
			return fmt.Errorf("invalid llm.provider %q: must be one of %s, none", c.LLM.Provider, strings.Join(llm.ProviderTypes, ", "))
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required")
		}
	}
	if c.LLM.Quality != "" && !validQualityTiers[c.LLM.Quality] {
		return fmt.Errorf("invalid llm.quality %q: must be one of lite, normal, max", c.LLM.Quality)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.LLM.MaxTokens < 0 || c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.max_tokens and llm.requests_per_minute must be non-negative")
	}

	if c.Prototype.Dir == "" {
		return fmt.Errorf("prototype.dir is required")
	}
	switch prototype.Mode(strings.ToLower(c.Prototype.Mode)) {
	case "", prototype.ModeCursor, prototype.ModeGPT, prototype.ModeBoth:
	default:
		return fmt.Errorf("invalid prototype.mode %q: must be one of cursor, gpt, both", c.Prototype.Mode)
	}
	if c.Prototype.SummaryEvents < 1 {
		return fmt.Errorf("prototype.summary_events must be at least 1")
	}

	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if c.Schedule.RetentionInterval < 0 {
		return fmt.Errorf("schedule.retention_interval must be non-negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	return nil
}

func validProvider(p ProviderType) bool {
	for _, known := range llm.ProviderTypes {
		if string(p) == known {
			return true
		}
	}
	return false
}

// ReportsEnabled reports whether a summarization provider is configured.
func (c *Config) ReportsEnabled() bool {
	return c.LLM.Provider != "" && c.LLM.Provider != ProviderNone
}

// AnalysisPath is the database holding understanding, prototypes and the
// audit trail.
func (c *Config) AnalysisPath() string {
	return filepath.Join(c.DataDir, "analysis.db")
}

// KeyPath is the per-installation secret used for value hashing.
func (c *Config) KeyPath() string {
	if c.Privacy.KeyFile != "" {
		return c.Privacy.KeyFile
	}
	return filepath.Join(c.DataDir, "install.key")
}

// APIKeyEnvVar returns the environment variable that holds the API key
// for provider, or "" when it needs none.
func APIKeyEnvVar(provider ProviderType) string {
	return llm.APIKeyEnv(string(provider))
}
