package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .flowtrace.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to flowtrace! Let's configure capture and analysis.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Report provider.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider for workflow reports",
		Items: []string{"anthropic", "openai", "openrouter", "ollama", "none"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.LLM.Provider = ProviderType(providerStr)

	// 2. Quality tier, only meaningful with a provider.
	if cfg.LLM.Provider != ProviderNone {
		qualityPrompt := promptui.Select{
			Label: "Select quality tier",
			Items: []string{
				"lite: fast and cheap",
				"normal: balanced",
				"max: highest quality",
			},
		}
		qualityIdx, _, err := qualityPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("quality selection: %w", err)
		}
		tiers := []QualityTier{QualityLite, QualityNormal, QualityMax}
		cfg.LLM.Quality = tiers[qualityIdx]
		cfg.LLM.Model = GetPreset(cfg.LLM.Provider, cfg.LLM.Quality)
	} else {
		cfg.LLM.Model = ""
	}

	// 3. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory for capture stores",
		Default: cfg.DataDir,
	}
	dataDir, err := dataPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if dataDir != cfg.DataDir {
		cfg.DataDir = dataDir
		cfg.Prototype.Dir = dataDir + "/prototypes"
		cfg.Retention.ExportDir = dataDir + "/exports"
		cfg.Retention.MediaDir = dataDir + "/media"
	}

	// 4. Prototype mode.
	modePrompt := promptui.Select{
		Label: "Prototype outputs",
		Items: []string{"both", "cursor", "gpt"},
	}
	_, mode, err := modePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("prototype mode: %w", err)
	}
	cfg.Prototype.Mode = mode

	// 5. Retention.
	daysPrompt := promptui.Prompt{
		Label:   "Days to keep captured sessions",
		Default: strconv.Itoa(cfg.Retention.RetentionDays),
		Validate: func(s string) error {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || n < 1 {
				return fmt.Errorf("enter a whole number of days, at least 1")
			}
			return nil
		},
	}
	daysStr, err := daysPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("retention days: %w", err)
	}
	cfg.Retention.RetentionDays, _ = strconv.Atoi(strings.TrimSpace(daysStr))

	// 6. Application logs to tail.
	globPrompt := promptui.Prompt{
		Label:   "Application log globs to tail (comma-separated, blank for none)",
		Default: "",
	}
	globStr, err := globPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("log globs: %w", err)
	}
	cfg.Collector.LogGlobs = splitAndTrim(globStr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if envVar := APIKeyEnvVar(cfg.LLM.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before generating reports.\n", envVar)
	}

	if err := cfg.Save(FileName); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", FileName)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
