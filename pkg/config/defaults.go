package config

// Defaults contains system-wide default values used when a per-repo
// StaticRepoConfig does not override them (spec §4.2).
type Defaults struct {
	// MaxDiffLines is the default cap on a candidate diff's size before it
	// is treated as a PolicyViolation.
	MaxDiffLines int `yaml:"max_diff_lines,omitempty"`

	// MaxFilesPerTask is the default cap on distinct files a task may touch.
	MaxFilesPerTask int `yaml:"max_files_per_task,omitempty"`

	// MaxAttempts is the default Task.maxAttempts.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// MaxIterations/MaxReplans/ConfidenceThreshold feed the Agentic Loop
	// (§4.7) when a task's session does not specify its own budget.
	MaxIterations       int     `yaml:"max_iterations,omitempty"`
	MaxReplans          int     `yaml:"max_replans,omitempty"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold,omitempty"`

	// OrchestrationComplexityFloor is the minimum estimatedComplexity at
	// which a task is considered for parent/child decomposition (§4.9).
	OrchestrationComplexityFloor string `yaml:"orchestration_complexity_floor,omitempty"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		MaxDiffLines:                 2000,
		MaxFilesPerTask:              25,
		MaxAttempts:                  5,
		MaxIterations:                6,
		MaxReplans:                   2,
		ConfidenceThreshold:          0.6,
		OrchestrationComplexityFloor: "M",
	}
}
