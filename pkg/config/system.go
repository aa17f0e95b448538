package config

import "time"

// CodeHostConfig holds resolved code-host (GitHub) integration configuration.
type CodeHostConfig struct {
	TokenEnv string `yaml:"token_env,omitempty"` // Env var name containing the code-host PAT (default: "GITHUB_TOKEN")
	BaseURL  string `yaml:"base_url,omitempty"`  // Override for GitHub Enterprise; empty means github.com
}

// IssueTrackerConfig holds resolved issue-tracker integration configuration.
type IssueTrackerConfig struct {
	BaseURL  string        `yaml:"base_url,omitempty"`
	TokenEnv string        `yaml:"token_env,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	InReview string        `yaml:"in_review_status,omitempty"` // Target status name for "transition to in review"
}

// WebhookConfig holds inbound webhook intake configuration (§6).
type WebhookConfig struct {
	SecretEnv string `yaml:"secret_env,omitempty"` // Env var holding the HMAC signing secret (default: "WEBHOOK_SECRET")
}

// ForemanConfig holds sandbox/command-executor timeouts (§4.6, §5).
type ForemanConfig struct {
	CloneTimeout      time.Duration `yaml:"clone_timeout"`
	InstallTimeout    time.Duration `yaml:"install_timeout"`
	TypeCheckTimeout  time.Duration `yaml:"type_check_timeout"`
	TestTimeout       time.Duration `yaml:"test_timeout"`
	AllowCustomCmds   bool          `yaml:"allow_custom_commands"`
	CleanupOnSuccess  bool          `yaml:"cleanup_on_success"`
}

// DefaultForemanConfig returns the built-in Foreman timeouts.
func DefaultForemanConfig() *ForemanConfig {
	return &ForemanConfig{
		CloneTimeout:     60 * time.Second,
		InstallTimeout:   180 * time.Second,
		TypeCheckTimeout: 120 * time.Second,
		TestTimeout:      300 * time.Second,
		AllowCustomCmds:  false,
		CleanupOnSuccess: true,
	}
}
