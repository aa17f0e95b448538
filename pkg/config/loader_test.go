package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestConfigDir(t *testing.T) string {
	dir := t.TempDir()

	devpipeYAML := `
defaults:
  max_iterations: 20

repos: {}
models: {}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devpipe.yaml"), []byte(devpipeYAML), 0644))
	return dir
}

func TestInitialize(t *testing.T) {
	configDir := setupTestConfigDir(t)
	t.Setenv("GITHUB_TOKEN", "test-token")

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.NotNil(t, cfg.Defaults)
	assert.NotNil(t, cfg.Queue)
	assert.NotNil(t, cfg.Retention)
	assert.NotNil(t, cfg.Foreman)
	assert.NotNil(t, cfg.CodeHost)
	assert.NotNil(t, cfg.IssueTracker)
	assert.Contains(t, cfg.SeedModels, "default")

	stats := cfg.Stats()
	assert.Equal(t, 0, stats.SeedRepos)
	assert.Equal(t, 1, stats.SeedModels)
}

func TestInitializeConfigNotFound(t *testing.T) {
	ctx := context.Background()
	_, err := Initialize(ctx, "/nonexistent/directory")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := t.TempDir()

	invalidYAML := `{{{`
	err := os.WriteFile(filepath.Join(configDir, "devpipe.yaml"), []byte(invalidYAML), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	configDir := t.TempDir()

	invalidConfig := `
defaults:
  max_iterations: -1
`
	err := os.WriteFile(filepath.Join(configDir, "devpipe.yaml"), []byte(invalidConfig), 0644)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = Initialize(ctx, configDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestLoadDevpipeYAML(t *testing.T) {
	configDir := t.TempDir()

	config := `
defaults:
  max_iterations: 25

repos:
  acme/widgets:
    owner: acme
    repo: widgets
    max_diff_lines: 500

models:
  fast:
    name: fast
    provider: anthropic
    model: claude-haiku-4-6
`
	err := os.WriteFile(filepath.Join(configDir, "devpipe.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	loader := &configLoader{configDir: configDir}
	cfg, err := loader.loadDevpipeYAML()

	require.NoError(t, err)
	assert.NotNil(t, cfg.Defaults)
	assert.Equal(t, 25, cfg.Defaults.MaxIterations)
	assert.Len(t, cfg.Repos, 1)
	assert.Len(t, cfg.Models, 1)
	assert.Equal(t, "claude-haiku-4-6", cfg.Models["fast"].Model)
}

func TestEnvironmentVariableInterpolationInConfig(t *testing.T) {
	configDir := t.TempDir()

	config := `
system:
  code_host:
    token_env: CUSTOM_GH_TOKEN
    base_url: ${GHE_BASE_URL}
`
	err := os.WriteFile(filepath.Join(configDir, "devpipe.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	t.Setenv("GHE_BASE_URL", "https://github.example.com/api/v3")
	t.Setenv("CUSTOM_GH_TOKEN", "unused")

	ctx := context.Background()
	cfg, err := Initialize(ctx, configDir)

	require.NoError(t, err)
	assert.Equal(t, "CUSTOM_GH_TOKEN", cfg.CodeHost.TokenEnv)
	assert.Equal(t, "https://github.example.com/api/v3", cfg.CodeHost.BaseURL)
}

func TestQueueConfigMerging(t *testing.T) {
	tests := []struct {
		name                string
		queueYAML           string
		expectWorkerCount   int
		expectMaxConcurrent int
		expectPollInterval  string
	}{
		{
			name:                "no queue section uses all defaults",
			queueYAML:           "",
			expectWorkerCount:   5,
			expectMaxConcurrent: 5,
			expectPollInterval:  "1s",
		},
		{
			name: "partial queue config merges with defaults",
			queueYAML: `
queue:
  worker_count: 10`,
			expectWorkerCount:   10,
			expectMaxConcurrent: 5,
			expectPollInterval:  "1s",
		},
		{
			name: "multiple fields override preserves unset defaults",
			queueYAML: `
queue:
  worker_count: 20
  max_concurrent_tasks: 15`,
			expectWorkerCount:   20,
			expectMaxConcurrent: 15,
			expectPollInterval:  "1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configDir := t.TempDir()

			devpipeYAML := `
defaults:
  max_iterations: 20
` + tt.queueYAML

			err := os.WriteFile(filepath.Join(configDir, "devpipe.yaml"), []byte(devpipeYAML), 0644)
			require.NoError(t, err)
			t.Setenv("GITHUB_TOKEN", "test-token")

			ctx := context.Background()
			cfg, err := Initialize(ctx, configDir)

			require.NoError(t, err)
			require.NotNil(t, cfg.Queue)

			assert.Equal(t, tt.expectWorkerCount, cfg.Queue.WorkerCount)
			assert.Equal(t, tt.expectMaxConcurrent, cfg.Queue.MaxConcurrentTasks)
			assert.Equal(t, tt.expectPollInterval, cfg.Queue.PollInterval.String())
		})
	}
}

func TestResolveCodeHostConfig(t *testing.T) {
	t.Run("nil system config uses defaults", func(t *testing.T) {
		cfg := resolveCodeHostConfig(nil)
		assert.Equal(t, "GITHUB_TOKEN", cfg.TokenEnv)
	})

	t.Run("nil code_host section uses defaults", func(t *testing.T) {
		sys := &SystemYAMLConfig{}
		cfg := resolveCodeHostConfig(sys)
		assert.Equal(t, "GITHUB_TOKEN", cfg.TokenEnv)
	})

	t.Run("custom token_env is used", func(t *testing.T) {
		sys := &SystemYAMLConfig{CodeHost: &CodeHostConfig{TokenEnv: "MY_GH_TOKEN"}}
		cfg := resolveCodeHostConfig(sys)
		assert.Equal(t, "MY_GH_TOKEN", cfg.TokenEnv)
	})
}

func TestResolveIssueTrackerConfig(t *testing.T) {
	t.Run("nil system config uses defaults", func(t *testing.T) {
		cfg := resolveIssueTrackerConfig(nil)
		assert.Equal(t, "ISSUE_TRACKER_TOKEN", cfg.TokenEnv)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, "in review", cfg.InReview)
	})

	t.Run("partial config keeps defaults for unset fields", func(t *testing.T) {
		sys := &SystemYAMLConfig{IssueTracker: &IssueTrackerConfig{BaseURL: "https://tracker.example.com"}}
		cfg := resolveIssueTrackerConfig(sys)
		assert.Equal(t, "https://tracker.example.com", cfg.BaseURL)
		assert.Equal(t, "ISSUE_TRACKER_TOKEN", cfg.TokenEnv)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
	})
}

func TestResolveForemanConfig(t *testing.T) {
	t.Run("nil system config uses defaults", func(t *testing.T) {
		cfg := resolveForemanConfig(nil)
		assert.Equal(t, DefaultForemanConfig().InstallTimeout, cfg.InstallTimeout)
	})

	t.Run("partial override keeps remaining defaults", func(t *testing.T) {
		sys := &SystemYAMLConfig{Foreman: &ForemanConfig{InstallTimeout: 10 * time.Minute}}
		cfg := resolveForemanConfig(sys)
		assert.Equal(t, 10*time.Minute, cfg.InstallTimeout)
		assert.Equal(t, DefaultForemanConfig().TestTimeout, cfg.TestTimeout)
	})
}

func TestResolveRetentionConfig(t *testing.T) {
	t.Run("nil system config uses defaults", func(t *testing.T) {
		cfg := resolveRetentionConfig(nil)
		assert.Equal(t, 365, cfg.TaskRetentionDays)
		assert.Equal(t, 1*time.Hour, cfg.HookEventTTL)
		assert.Equal(t, 12*time.Hour, cfg.CleanupInterval)
	})

	t.Run("partial config keeps defaults for unset fields", func(t *testing.T) {
		sys := &SystemYAMLConfig{Retention: &RetentionConfig{TaskRetentionDays: 180}}
		cfg := resolveRetentionConfig(sys)
		assert.Equal(t, 180, cfg.TaskRetentionDays)
		assert.Equal(t, 1*time.Hour, cfg.HookEventTTL)
	})
}

func TestSystemConfigYAMLLoading(t *testing.T) {
	dir := t.TempDir()

	devpipeYAML := `
system:
  code_host:
    token_env: "CUSTOM_TOKEN"
  issue_tracker:
    base_url: "https://tracker.example.com"
    in_review_status: "In Review"
defaults:
  max_iterations: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devpipe.yaml"), []byte(devpipeYAML), 0644))

	cfg, err := load(context.Background(), dir)
	require.NoError(t, err)

	require.NotNil(t, cfg.CodeHost)
	assert.Equal(t, "CUSTOM_TOKEN", cfg.CodeHost.TokenEnv)

	require.NotNil(t, cfg.IssueTracker)
	assert.Equal(t, "https://tracker.example.com", cfg.IssueTracker.BaseURL)
	assert.Equal(t, "In Review", cfg.IssueTracker.InReview)
}
