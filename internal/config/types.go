package config

import (
	"time"

	"github.com/ziadkadry99/flowtrace/internal/retention"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

// QualityTier controls the model selection for the report writer.
type QualityTier string

const (
	QualityLite   QualityTier = "lite"
	QualityNormal QualityTier = "normal"
	QualityMax    QualityTier = "max"
)

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOllama     ProviderType = "ollama"
	// ProviderNone disables report generation.
	ProviderNone ProviderType = "none"
)

// Config is the top-level flowtrace configuration, corresponding to .flowtrace.yml.
type Config struct {
	DataDir       string              `yaml:"data_dir" koanf:"data_dir"`
	Privacy       PrivacyConfig       `yaml:"privacy" koanf:"privacy"`
	Collector     CollectorConfig     `yaml:"collector" koanf:"collector"`
	Correlation   CorrelationConfig   `yaml:"correlation" koanf:"correlation"`
	Understanding UnderstandingConfig `yaml:"understanding" koanf:"understanding"`
	Rules         understand.Rules    `yaml:"rules,omitempty" koanf:"rules"`
	RulesFile     string              `yaml:"rules_file,omitempty" koanf:"rules_file"`
	LLM           LLMConfig           `yaml:"llm" koanf:"llm"`
	Prototype     PrototypeConfig     `yaml:"prototype" koanf:"prototype"`
	Retention     retention.Config    `yaml:"retention" koanf:"retention"`
	Schedule      ScheduleConfig      `yaml:"schedule" koanf:"schedule"`
	Server        ServerConfig        `yaml:"server" koanf:"server"`
}

// PrivacyConfig controls hashing of sensitive captured values.
type PrivacyConfig struct {
	HashValues bool `yaml:"hash_values" koanf:"hash_values"`
	// KeyFile defaults to <data_dir>/install.key.
	KeyFile string `yaml:"key_file,omitempty" koanf:"key_file"`
}

// CollectorConfig holds the write-side settings of the collectors.
type CollectorConfig struct {
	BatchSize     int           `yaml:"batch_size" koanf:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" koanf:"flush_interval"`
	LogGlobs      []string      `yaml:"log_globs,omitempty" koanf:"log_globs"`
	TailInterval  time.Duration `yaml:"tail_interval" koanf:"tail_interval"`
}

// CorrelationConfig tunes the session correlator.
type CorrelationConfig struct {
	Margin time.Duration `yaml:"margin" koanf:"margin"`
}

// UnderstandingConfig tunes the inference engine.
type UnderstandingConfig struct {
	DependencyWindow time.Duration `yaml:"dependency_window" koanf:"dependency_window"`
}

// LLMConfig selects the summarization collaborator.
type LLMConfig struct {
	Provider          ProviderType  `yaml:"provider" koanf:"provider"`
	Model             string        `yaml:"model" koanf:"model"`
	Quality           QualityTier   `yaml:"quality" koanf:"quality"`
	Timeout           time.Duration `yaml:"timeout" koanf:"timeout"`
	MaxTokens         int           `yaml:"max_tokens" koanf:"max_tokens"`
	RequestsPerMinute int           `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// PrototypeConfig holds prototype generation settings.
type PrototypeConfig struct {
	Dir           string `yaml:"dir" koanf:"dir"`
	Mode          string `yaml:"mode" koanf:"mode"`
	SummaryEvents int    `yaml:"summary_events" koanf:"summary_events"`
}

// ScheduleConfig holds the intervals of the periodic batch jobs run by
// flowtrace serve. A zero interval disables the job.
type ScheduleConfig struct {
	RetentionInterval time.Duration `yaml:"retention_interval" koanf:"retention_interval"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr" koanf:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" koanf:"allowed_origins"`
}
