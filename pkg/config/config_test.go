package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDir(t *testing.T) {
	cfg := &Config{configDir: "/test/config"}
	assert.Equal(t, "/test/config", cfg.ConfigDir())
}

func TestConfigStats(t *testing.T) {
	cfg := &Config{
		SeedRepos: map[string]RepoSeed{
			"acme/widgets": {Owner: "acme", Repo: "widgets"},
		},
		SeedModels: DefaultModelSeeds(),
	}

	stats := cfg.Stats()
	assert.Equal(t, 1, stats.SeedRepos)
	assert.Equal(t, 1, stats.SeedModels)
}
