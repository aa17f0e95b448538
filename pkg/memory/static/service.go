// Package static implements the immutable per-repo configuration lookup
// (Memory: Static, spec §4.2). Config is keyed by (owner, repo); updates
// never mutate an existing row in place — Update inserts a fresh row and
// the query for "current" config always takes the most recently created
// one, so a task that already started keeps seeing the version it was
// handed at creation time.
package static

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/ent/staticrepoconfig"
	"github.com/oakforge/devpipe/pkg/config"
)

// Service resolves and mutates per-repo static configuration.
type Service struct {
	client *ent.Client
	seeds  map[string]config.RepoSeed
}

// NewService creates a new Service. seeds comes from Config.SeedRepos and
// is only consulted the first time a repo is seen.
func NewService(client *ent.Client, seeds map[string]config.RepoSeed) *Service {
	return &Service{client: client, seeds: seeds}
}

// Get returns the current StaticRepoConfig for (owner, repo), bootstrapping
// it from the YAML seed (or hard defaults) if no row exists yet.
func (s *Service) Get(ctx context.Context, owner, repo string) (*ent.StaticRepoConfig, error) {
	row, err := s.client.StaticRepoConfig.Query().
		Where(staticrepoconfig.Owner(owner), staticrepoconfig.Repo(repo)).
		Order(ent.Desc(staticrepoconfig.FieldCreatedAt)).
		First(ctx)
	if err == nil {
		return row, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("query static config: %w", err)
	}

	return s.bootstrap(ctx, owner, repo)
}

func (s *Service) bootstrap(ctx context.Context, owner, repo string) (*ent.StaticRepoConfig, error) {
	key := owner + "/" + repo
	seed, ok := s.seeds[key]

	builder := s.client.StaticRepoConfig.Create().
		SetID(uuid.New().String()).
		SetOwner(owner).
		SetRepo(repo)

	if ok {
		if len(seed.AllowedPaths) > 0 {
			builder = builder.SetAllowedPaths(seed.AllowedPaths)
		}
		if len(seed.BlockedPaths) > 0 {
			builder = builder.SetBlockedPaths(seed.BlockedPaths)
		}
		if seed.MaxDiffLines > 0 {
			builder = builder.SetMaxDiffLines(seed.MaxDiffLines)
		}
		if seed.MaxFilesPerTask > 0 {
			builder = builder.SetMaxFilesPerTask(seed.MaxFilesPerTask)
		}
		if len(seed.TechStackHints) > 0 {
			builder = builder.SetTechStackHints(seed.TechStackHints)
		}
	}

	row, err := builder.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			// Lost the race with a concurrent bootstrap; the other writer's
			// row is now current.
			return s.Get(ctx, owner, repo)
		}
		return nil, fmt.Errorf("bootstrap static config: %w", err)
	}
	return row, nil
}

// Update is the admin operation: it writes a brand-new row carrying the
// merged field set rather than mutating the existing one, so in-flight
// tasks keep the version they started with.
type Update struct {
	AllowedPaths    []string
	BlockedPaths    []string
	MaxDiffLines    int
	MaxFilesPerTask int
	TechStackHints  []string
}

// Update applies an admin update, producing a new current row.
func (s *Service) Update(ctx context.Context, owner, repo string, u Update) (*ent.StaticRepoConfig, error) {
	current, err := s.Get(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	builder := s.client.StaticRepoConfig.Create().
		SetID(uuid.New().String()).
		SetOwner(owner).
		SetRepo(repo).
		SetAllowedPaths(mergeStrings(current.AllowedPaths, u.AllowedPaths)).
		SetBlockedPaths(mergeStrings(current.BlockedPaths, u.BlockedPaths)).
		SetTechStackHints(mergeStrings(current.TechStackHints, u.TechStackHints))

	if u.MaxDiffLines > 0 {
		builder = builder.SetMaxDiffLines(u.MaxDiffLines)
	} else {
		builder = builder.SetMaxDiffLines(current.MaxDiffLines)
	}
	if u.MaxFilesPerTask > 0 {
		builder = builder.SetMaxFilesPerTask(u.MaxFilesPerTask)
	} else {
		builder = builder.SetMaxFilesPerTask(current.MaxFilesPerTask)
	}

	row, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("update static config: %w", err)
	}
	return row, nil
}

func mergeStrings(current, override []string) []string {
	if override != nil {
		return override
	}
	return current
}

// IsPathAllowed reports whether path may be touched by a candidate diff,
// consulting blockedPaths first (deny takes precedence) then allowedPaths
// (empty allowedPaths means "no restriction").
func IsPathAllowed(cfg *ent.StaticRepoConfig, path string) bool {
	for _, blocked := range cfg.BlockedPaths {
		if pathHasPrefix(path, blocked) {
			return false
		}
	}
	if len(cfg.AllowedPaths) == 0 {
		return true
	}
	for _, allowed := range cfg.AllowedPaths {
		if pathHasPrefix(path, allowed) {
			return true
		}
	}
	return false
}

func pathHasPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix)] == '/'
	}
	return false
}
