package config

import (
	"time"

	"github.com/ziadkadry99/flowtrace/internal/collector"
	"github.com/ziadkadry99/flowtrace/internal/correlate"
	"github.com/ziadkadry99/flowtrace/internal/llm"
	"github.com/ziadkadry99/flowtrace/internal/prototype"
	"github.com/ziadkadry99/flowtrace/internal/retention"
	"github.com/ziadkadry99/flowtrace/internal/understand"
)

// FileName is the default configuration file name.
const FileName = ".flowtrace.yml"

// qualityPresets maps each provider+quality combination to a model. The
// models accept images so screen frames can be attached to reports.
var qualityPresets = map[ProviderType]map[QualityTier]string{
	ProviderAnthropic: {
		QualityLite:   "claude-haiku-4-5-20251001",
		QualityNormal: "claude-sonnet-4-5-20250929",
		QualityMax:    "claude-opus-4-6",
	},
	ProviderOpenAI: {
		QualityLite:   "gpt-4o-mini",
		QualityNormal: "gpt-4o",
		QualityMax:    "gpt-4.1",
	},
	ProviderOpenRouter: {
		QualityLite:   "openai/gpt-4o-mini",
		QualityNormal: "anthropic/claude-sonnet-4.5",
		QualityMax:    "anthropic/claude-opus-4.6",
	},
	ProviderOllama: {
		QualityLite:   "llava",
		QualityNormal: "llama3.2-vision",
		QualityMax:    "llama3.2-vision:90b",
	},
}

// DefaultConfig returns a Config with sensible defaults. Rules are filled
// in by Load when neither rules nor rules_file is configured.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".flowtrace",
		Collector: CollectorConfig{
			BatchSize:     collector.DefaultBatchSize,
			FlushInterval: 2 * time.Second,
			TailInterval:  5 * time.Second,
		},
		Correlation: CorrelationConfig{
			Margin: correlate.DefaultMargin,
		},
		Understanding: UnderstandingConfig{
			DependencyWindow: understand.DefaultDependencyWindow,
		},
		LLM: LLMConfig{
			Provider:  ProviderAnthropic,
			Model:     qualityPresets[ProviderAnthropic][QualityNormal],
			Quality:   QualityNormal,
			Timeout:   llm.DefaultSummaryTimeout,
			MaxTokens: prototype.DefaultMaxTokens,
		},
		Prototype: PrototypeConfig{
			Dir:           ".flowtrace/prototypes",
			Mode:          string(prototype.ModeBoth),
			SummaryEvents: prototype.DefaultSummaryEvents,
		},
		Retention: retention.Config{
			RetentionDays:   retention.DefaultRetentionDays,
			ExportDir:       ".flowtrace/exports",
			MediaDir:        ".flowtrace/media",
			ExportEvents:    true,
			MaxRowsPerTable: retention.DefaultMaxRowsPerTable,
			Compress:        true,
		},
		Schedule: ScheduleConfig{
			RetentionInterval: 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
	}
}

// GetPreset returns the model for the given provider and tier. Returns
// the normal Anthropic model if the combination is not found.
func GetPreset(provider ProviderType, tier QualityTier) string {
	if tiers, ok := qualityPresets[provider]; ok {
		if model, ok := tiers[tier]; ok {
			return model
		}
	}
	return qualityPresets[ProviderAnthropic][QualityNormal]
}
