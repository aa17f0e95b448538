package config

import "dario.cat/mergo"

// mergeModelSeeds merges built-in model seeds with user-defined ones from
// devpipe.yaml. A user-defined entry overrides the built-in entry of the
// same name field by field; any field left zero in the user override
// falls back to the built-in value.
func mergeModelSeeds(builtin, user map[string]ModelSeed) (map[string]ModelSeed, error) {
	result := make(map[string]ModelSeed, len(builtin)+len(user))
	for name, seed := range builtin {
		result[name] = seed
	}

	for name, userSeed := range user {
		base, ok := result[name]
		if !ok {
			result[name] = userSeed
			continue
		}
		merged := userSeed
		if err := mergo.Merge(&merged, base); err != nil {
			return nil, err
		}
		result[name] = merged
	}

	return result, nil
}

// mergeRepoSeeds copies the user-defined per-repo seeds into a fresh map.
// There is no built-in repo configuration — every repo opts in explicitly
// via devpipe.yaml or an existing StaticRepoConfig row.
func mergeRepoSeeds(user map[string]RepoSeed) map[string]RepoSeed {
	result := make(map[string]RepoSeed, len(user))
	for key, seed := range user {
		result[key] = seed
	}
	return result
}
