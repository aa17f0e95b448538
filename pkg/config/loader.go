package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DevpipeYAMLConfig represents the complete devpipe.yaml file structure.
type DevpipeYAMLConfig struct {
	System   *SystemYAMLConfig    `yaml:"system"`
	Defaults *Defaults            `yaml:"defaults"`
	Queue    *QueueConfig         `yaml:"queue"`
	Repos    map[string]RepoSeed  `yaml:"repos"`
	Models   map[string]ModelSeed `yaml:"models"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	CodeHost     *CodeHostConfig     `yaml:"code_host"`
	IssueTracker *IssueTrackerConfig `yaml:"issue_tracker"`
	Foreman      *ForemanConfig      `yaml:"foreman"`
	Retention    *RetentionConfig    `yaml:"retention"`
	Webhook      *WebhookConfig      `yaml:"webhook"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load devpipe.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in defaults with user overrides
//  5. Resolve integration and sandbox settings
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"seed_repos", stats.SeedRepos,
		"seed_models", stats.SeedModels)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadDevpipeYAML()
	if err != nil {
		return nil, NewLoadError("devpipe.yaml", err)
	}

	// Resolve defaults (YAML overrides built-in, zero fields fall back).
	defaults := DefaultDefaults()
	if yamlCfg.Defaults != nil {
		if err := mergo.Merge(defaults, yamlCfg.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}

	// Resolve queue config (YAML overrides built-in, zero fields fall back).
	queueConfig := DefaultQueueConfig()
	if yamlCfg.Queue != nil {
		if err := mergo.Merge(queueConfig, yamlCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	codeHostCfg := resolveCodeHostConfig(yamlCfg.System)
	issueTrackerCfg := resolveIssueTrackerConfig(yamlCfg.System)
	foremanCfg := resolveForemanConfig(yamlCfg.System)
	retentionCfg := resolveRetentionConfig(yamlCfg.System)
	webhookCfg := resolveWebhookConfig(yamlCfg.System)

	seedModels, err := mergeModelSeeds(DefaultModelSeeds(), yamlCfg.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to merge model seeds: %w", err)
	}
	seedRepos := mergeRepoSeeds(yamlCfg.Repos)

	return &Config{
		configDir:    configDir,
		Defaults:     defaults,
		Queue:        queueConfig,
		Retention:    retentionCfg,
		Foreman:      foremanCfg,
		CodeHost:     codeHostCfg,
		IssueTracker: issueTrackerCfg,
		Webhook:      webhookCfg,
		SeedRepos:    seedRepos,
		SeedModels:   seedModels,
	}, nil
}

// validate performs basic sanity checks on loaded configuration. Anything
// deeper (cross-repo path conflicts, model provider reachability) is left
// to the components that consume these values at runtime.
func validate(cfg *Config) error {
	if cfg.Defaults.MaxAttempts <= 0 {
		return NewValidationError("defaults", "max_attempts", ErrInvalidValue)
	}
	if cfg.Defaults.MaxIterations <= 0 {
		return NewValidationError("defaults", "max_iterations", ErrInvalidValue)
	}
	if cfg.Defaults.ConfidenceThreshold < 0 || cfg.Defaults.ConfidenceThreshold > 1 {
		return NewValidationError("defaults", "confidence_threshold", ErrInvalidValue)
	}
	if cfg.Queue.WorkerCount <= 0 {
		return NewValidationError("queue", "worker_count", ErrInvalidValue)
	}
	if cfg.Queue.MaxConcurrentTasks <= 0 {
		return NewValidationError("queue", "max_concurrent_tasks", ErrInvalidValue)
	}
	if cfg.CodeHost.TokenEnv == "" {
		return NewValidationError("code_host", "token_env", ErrMissingRequiredField)
	}
	if cfg.Retention.MinImportanceForGlobal < 0 || cfg.Retention.MinImportanceForGlobal > 1 {
		return NewValidationError("retention", "min_importance_for_global", ErrInvalidValue)
	}
	if cfg.Retention.MinConfidenceForGlobal < 0 || cfg.Retention.MinConfidenceForGlobal > 1 {
		return NewValidationError("retention", "min_confidence_for_global", ErrInvalidValue)
	}
	for key, seed := range cfg.SeedModels {
		if seed.Provider == "" {
			return NewValidationError(fmt.Sprintf("models.%s", key), "provider", ErrMissingRequiredField)
		}
		if seed.Model == "" {
			return NewValidationError(fmt.Sprintf("models.%s", key), "model", ErrMissingRequiredField)
		}
	}
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using $VAR / ${VAR} syntax. Expansion
	// has no error path: unset variables expand to the empty string, and
	// any resulting YAML problem is reported by the parser below.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadDevpipeYAML() (*DevpipeYAMLConfig, error) {
	var cfg DevpipeYAMLConfig
	cfg.Repos = make(map[string]RepoSeed)
	cfg.Models = make(map[string]ModelSeed)

	if err := l.loadYAML("devpipe.yaml", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveCodeHostConfig resolves code-host configuration from system YAML, applying defaults.
func resolveCodeHostConfig(sys *SystemYAMLConfig) *CodeHostConfig {
	cfg := &CodeHostConfig{TokenEnv: "GITHUB_TOKEN"}

	if sys == nil || sys.CodeHost == nil {
		return cfg
	}
	if sys.CodeHost.TokenEnv != "" {
		cfg.TokenEnv = sys.CodeHost.TokenEnv
	}
	if sys.CodeHost.BaseURL != "" {
		cfg.BaseURL = sys.CodeHost.BaseURL
	}
	return cfg
}

// resolveWebhookConfig resolves inbound-webhook configuration from system YAML, applying defaults.
func resolveWebhookConfig(sys *SystemYAMLConfig) *WebhookConfig {
	cfg := &WebhookConfig{SecretEnv: "WEBHOOK_SECRET"}

	if sys == nil || sys.Webhook == nil {
		return cfg
	}
	if sys.Webhook.SecretEnv != "" {
		cfg.SecretEnv = sys.Webhook.SecretEnv
	}
	return cfg
}

// resolveIssueTrackerConfig resolves issue-tracker configuration from system YAML, applying defaults.
func resolveIssueTrackerConfig(sys *SystemYAMLConfig) *IssueTrackerConfig {
	cfg := &IssueTrackerConfig{
		TokenEnv: "ISSUE_TRACKER_TOKEN",
		Timeout:  30 * time.Second,
		InReview: "in review",
	}

	if sys == nil || sys.IssueTracker == nil {
		return cfg
	}
	it := sys.IssueTracker
	if it.BaseURL != "" {
		cfg.BaseURL = it.BaseURL
	}
	if it.TokenEnv != "" {
		cfg.TokenEnv = it.TokenEnv
	}
	if it.Timeout > 0 {
		cfg.Timeout = it.Timeout
	}
	if it.InReview != "" {
		cfg.InReview = it.InReview
	}
	return cfg
}

// resolveForemanConfig resolves Foreman sandbox timeouts from system YAML, applying defaults.
func resolveForemanConfig(sys *SystemYAMLConfig) *ForemanConfig {
	cfg := DefaultForemanConfig()

	if sys == nil || sys.Foreman == nil {
		return cfg
	}
	if err := mergo.Merge(cfg, sys.Foreman, mergo.WithOverride); err != nil {
		slog.Warn("failed to merge foreman config, using defaults", "error", err)
		return DefaultForemanConfig()
	}
	return cfg
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}
	if err := mergo.Merge(cfg, sys.Retention, mergo.WithOverride); err != nil {
		slog.Warn("failed to merge retention config, using defaults", "error", err)
		return DefaultRetentionConfig()
	}
	return cfg
}
