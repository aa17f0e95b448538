package config

// RepoSeed is the YAML-sourced bootstrap for a StaticRepoConfig row
// (§4.2). It is only consulted the first time a repo is seen — once a
// StaticRepoConfig row exists in the database it is authoritative and the
// YAML seed is ignored on subsequent runs.
type RepoSeed struct {
	Owner           string   `yaml:"owner"`
	Repo            string   `yaml:"repo"`
	AllowedPaths    []string `yaml:"allowed_paths,omitempty"`
	BlockedPaths    []string `yaml:"blocked_paths,omitempty"`
	MaxDiffLines    int      `yaml:"max_diff_lines,omitempty"`
	MaxFilesPerTask int      `yaml:"max_files_per_task,omitempty"`
	TechStackHints  []string `yaml:"tech_stack_hints,omitempty"`
}

// ModelSeed is the YAML-sourced bootstrap for a ModelConfig row consumed
// by the LLM façade (§4.13). As with RepoSeed, the database row wins once
// it exists; the seed only establishes the initial value.
type ModelSeed struct {
	Name                   string  `yaml:"name"`
	Provider               string  `yaml:"provider"`
	Model                  string  `yaml:"model"`
	DefaultTemperature     float64 `yaml:"default_temperature,omitempty"`
	DefaultMaxTokens       int     `yaml:"default_max_tokens,omitempty"`
	DefaultReasoningEffort string  `yaml:"default_reasoning_effort,omitempty"`
}

// DefaultModelSeeds returns the built-in model bindings available even
// when devpipe.yaml declares no "models" section.
func DefaultModelSeeds() map[string]ModelSeed {
	return map[string]ModelSeed{
		"default": {
			Name:               "default",
			Provider:           "anthropic",
			Model:              "claude-sonnet-4-5",
			DefaultTemperature: 0.2,
			DefaultMaxTokens:   4096,
		},
	}
}
