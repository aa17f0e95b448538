package config

import "time"

// RetentionConfig controls archival memory and hook-event cleanup behavior
// (§4.11 cleanupExpired, §4.4 hook event log).
type RetentionConfig struct {
	// TaskRetentionDays is how many days to keep completed tasks before
	// their non-global archival rows become eligible for cleanup.
	TaskRetentionDays int `yaml:"task_retention_days"`

	// HookEventTTL is a configured maximum age for hook events. No hook
	// event rows are persisted, and no cleanup step reads this value.
	HookEventTTL time.Duration `yaml:"hook_event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MinImportanceForGlobal is the importanceScore threshold at or above
	// which an archival row is eligible for promotion to global scope.
	MinImportanceForGlobal float64 `yaml:"min_importance_for_global"`

	// MinConfidenceForGlobal is the confidence threshold at or above which
	// a LearnedPattern is eligible for promotion to global scope.
	MinConfidenceForGlobal float64 `yaml:"min_confidence_for_global"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TaskRetentionDays:      365,
		HookEventTTL:           1 * time.Hour,
		CleanupInterval:        12 * time.Hour,
		MinImportanceForGlobal: 0.7,
		MinConfidenceForGlobal: 0.7,
	}
}
