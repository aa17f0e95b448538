package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeModelSeeds_UserOverridesBuiltin(t *testing.T) {
	builtin := DefaultModelSeeds()

	user := map[string]ModelSeed{
		"default": {
			Name:     "default",
			Provider: "anthropic",
			Model:    "claude-opus-4-6",
		},
	}

	merged, err := mergeModelSeeds(builtin, user)
	assert.NoError(t, err)

	assert.Equal(t, "claude-opus-4-6", merged["default"].Model)
	// Fields left zero on the override fall back to the built-in value.
	assert.Equal(t, builtin["default"].DefaultTemperature, merged["default"].DefaultTemperature)
	assert.Equal(t, builtin["default"].DefaultMaxTokens, merged["default"].DefaultMaxTokens)
}

func TestMergeModelSeeds_UserAddsNewEntry(t *testing.T) {
	builtin := DefaultModelSeeds()

	user := map[string]ModelSeed{
		"fast": {
			Name:               "fast",
			Provider:           "anthropic",
			Model:              "claude-haiku-4-6",
			DefaultTemperature: 0.1,
			DefaultMaxTokens:   2048,
		},
	}

	merged, err := mergeModelSeeds(builtin, user)
	assert.NoError(t, err)

	assert.Len(t, merged, 2)
	assert.Equal(t, "claude-haiku-4-6", merged["fast"].Model)
	assert.Contains(t, merged, "default")
}

func TestMergeRepoSeeds(t *testing.T) {
	user := map[string]RepoSeed{
		"acme/widgets": {Owner: "acme", Repo: "widgets", MaxDiffLines: 500},
	}

	merged := mergeRepoSeeds(user)

	assert.Len(t, merged, 1)
	assert.Equal(t, 500, merged["acme/widgets"].MaxDiffLines)
}

func TestMergeRepoSeeds_EmptyInput(t *testing.T) {
	merged := mergeRepoSeeds(nil)
	assert.Empty(t, merged)
}
