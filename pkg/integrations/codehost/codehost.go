// Package codehost implements orchestrator.CodeHost against GitHub, opening
// a draft pull request from a unified diff. It is grounded on the GitHub
// backend in the example pack (provider/github.Backend): the same
// go-github-ratelimit-wrapped client, owner/repo split, and
// WithEnterpriseURLs override for self-hosted GitHub Enterprise.
//
// The orchestrator hands codehost a unified diff (pkg/patch.FileChange),
// not a working tree, so OpenDraftPR has to do what a local `git` client
// would do for free: read each changed file's current blob off the base
// branch, apply the diff's hunks in memory (pkg/patch.Apply), and push the
// result through the git-data API (blobs -> tree -> commit -> ref) rather
// than the contents API, which only supports one file at a time.
package codehost

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"

	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/orchestrator"
	"github.com/oakforge/devpipe/pkg/patch"
)

// Backend implements orchestrator.CodeHost against the GitHub REST and
// git-data APIs.
type Backend struct {
	client       *gh.Client
	commitAuthor *gh.CommitAuthor
}

// NewBackend builds a Backend from resolved config and a PAT already read
// from cfg.TokenEnv by the caller. baseURL is empty for github.com, or a
// GitHub Enterprise API base ("https://ghe.example.com/api/v3/") otherwise.
func NewBackend(cfg *config.CodeHostConfig, token string) (*Backend, error) {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)

	if cfg != nil && cfg.BaseURL != "" {
		enterprise, err := client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("codehost: configure enterprise URL %q: %w", cfg.BaseURL, err)
		}
		client = enterprise
	}

	return &Backend{
		client:       client,
		commitAuthor: &gh.CommitAuthor{Name: gh.Ptr("devpipe"), Email: gh.Ptr("devpipe@oakforge.dev")},
	}, nil
}

var _ orchestrator.CodeHost = (*Backend)(nil)

// OpenDraftPR implements orchestrator.CodeHost.
func (b *Backend) OpenDraftPR(ctx context.Context, req orchestrator.PRRequest) (string, error) {
	owner, repo, err := splitRepo(req.Repo)
	if err != nil {
		return "", err
	}

	changes, err := patch.ParseFiles(req.Diff)
	if err != nil {
		return "", fmt.Errorf("codehost: parse diff: %w", err)
	}

	repoInfo, _, err := b.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("codehost: get repo %s/%s: %w", owner, repo, err)
	}
	baseBranch := repoInfo.GetDefaultBranch()

	baseRef, _, err := b.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+baseBranch)
	if err != nil {
		return "", fmt.Errorf("codehost: get base ref %s: %w", baseBranch, err)
	}
	baseCommit, _, err := b.client.Git.GetCommit(ctx, owner, repo, baseRef.Object.GetSHA())
	if err != nil {
		return "", fmt.Errorf("codehost: get base commit: %w", err)
	}

	newTreeSHA, err := b.buildTree(ctx, owner, repo, baseCommit.Tree.GetSHA(), changes)
	if err != nil {
		return "", err
	}

	commit, _, err := b.client.Git.CreateCommit(ctx, owner, repo, &gh.Commit{
		Message: gh.Ptr(commitMessage(req)),
		Tree:    &gh.Tree{SHA: gh.Ptr(newTreeSHA)},
		Parents: []*gh.Commit{{SHA: baseCommit.SHA}},
		Author:  b.commitAuthor,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("codehost: create commit: %w", err)
	}

	if err := b.pointBranchAt(ctx, owner, repo, req.Branch, commit.GetSHA()); err != nil {
		return "", err
	}

	pr, _, err := b.client.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title: gh.Ptr(req.Title),
		Head:  gh.Ptr(req.Branch),
		Base:  gh.Ptr(baseBranch),
		Body:  gh.Ptr(req.Body),
		Draft: gh.Ptr(true),
	})
	if err != nil {
		return "", fmt.Errorf("codehost: create pull request: %w", err)
	}

	return pr.GetHTMLURL(), nil
}

// buildTree fetches the full recursive tree at baseTreeSHA, applies changes
// on top of it (new blobs for modified/added files, path removal for
// deletions), and creates the resulting tree with no base_tree reference —
// the git-data API only honors an explicit `"sha": null` entry to delete a
// path when a base_tree is given, which go-github's omitempty-tagged
// TreeEntry.SHA cannot express, so building the full entry set is the only
// way to keep deletions just as honest as additions.
func (b *Backend) buildTree(ctx context.Context, owner, repo, baseTreeSHA string, changes []patch.FileChange) (string, error) {
	existing, _, err := b.client.Git.GetTree(ctx, owner, repo, baseTreeSHA, true)
	if err != nil {
		return "", fmt.Errorf("codehost: get base tree: %w", err)
	}

	byPath := make(map[string]*gh.TreeEntry, len(existing.Entries))
	for _, e := range existing.Entries {
		if e.GetType() != "blob" {
			continue // submodules and subtrees pass through untouched via their parent entries
		}
		byPath[e.GetPath()] = e
	}

	for _, change := range changes {
		path := change.Path()
		if change.IsDeleted {
			delete(byPath, path)
			continue
		}

		var original string
		if prior, ok := byPath[path]; ok && !change.IsNew {
			content, err := b.fetchBlob(ctx, owner, repo, prior.GetSHA())
			if err != nil {
				return "", err
			}
			original = content
		}

		newContent, err := patch.Apply(original, change)
		if err != nil {
			return "", fmt.Errorf("codehost: apply diff to %q: %w", path, err)
		}

		blob, _, err := b.client.Git.CreateBlob(ctx, owner, repo, &gh.Blob{
			Content:  gh.Ptr(newContent),
			Encoding: gh.Ptr("utf-8"),
		})
		if err != nil {
			return "", fmt.Errorf("codehost: create blob for %q: %w", path, err)
		}

		byPath[path] = &gh.TreeEntry{
			Path: gh.Ptr(path),
			Mode: gh.Ptr("100644"),
			Type: gh.Ptr("blob"),
			SHA:  blob.SHA,
		}
	}

	entries := make([]*gh.TreeEntry, 0, len(byPath))
	for _, e := range byPath {
		entries = append(entries, e)
	}

	tree, _, err := b.client.Git.CreateTree(ctx, owner, repo, "", entries)
	if err != nil {
		return "", fmt.Errorf("codehost: create tree: %w", err)
	}
	return tree.GetSHA(), nil
}

func (b *Backend) fetchBlob(ctx context.Context, owner, repo, sha string) (string, error) {
	blob, _, err := b.client.Git.GetBlob(ctx, owner, repo, sha)
	if err != nil {
		return "", fmt.Errorf("codehost: get blob %s: %w", sha, err)
	}
	if blob.GetEncoding() != "base64" {
		return blob.GetContent(), nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob.GetContent())
	if err != nil {
		return "", fmt.Errorf("codehost: decode blob %s: %w", sha, err)
	}
	return string(raw), nil
}

// pointBranchAt creates branch if it doesn't exist yet, or fast-forwards it
// (force-update) to sha otherwise — the Agentic Loop may push a revised
// diff to the same branch across retries (spec §4.9).
func (b *Backend) pointBranchAt(ctx context.Context, owner, repo, branch, sha string) error {
	ref := "refs/heads/" + branch
	_, _, err := b.client.Git.CreateRef(ctx, owner, repo, &gh.Reference{
		Ref:    gh.Ptr(ref),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	})
	if err == nil {
		return nil
	}

	// Branch already exists: update it in place instead.
	_, _, updateErr := b.client.Git.UpdateRef(ctx, owner, repo, &gh.Reference{
		Ref:    gh.Ptr(ref),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	}, true)
	if updateErr != nil {
		return fmt.Errorf("codehost: create ref failed (%v), update ref also failed: %w", err, updateErr)
	}
	return nil
}

func commitMessage(req orchestrator.PRRequest) string {
	if req.Title == "" {
		return "devpipe: automated change"
	}
	return req.Title
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("codehost: repo must be \"owner/name\", got %q", repo)
	}
	return parts[0], parts[1], nil
}
