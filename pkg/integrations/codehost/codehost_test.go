package codehost

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gh "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/orchestrator"
)

// newTestBackend wires a Backend at a test HTTP server the same way the
// example pack's GitHub provider tests do: go-github's WithEnterpriseURLs
// override, pointed at an httptest server instead of a real GHE instance.
func newTestBackend(t *testing.T, handler http.Handler) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	b, err := NewBackend(&config.CodeHostConfig{BaseURL: server.URL + "/"}, "test-token")
	require.NoError(t, err)
	return b
}

func jsonHandler(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}

func TestOpenDraftPR_NewBranchNewFileOpensDraftPR(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v3/repos/acme/widgets", jsonHandler(&gh.Repository{
		DefaultBranch: gh.Ptr("main"),
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/ref/heads/main", jsonHandler(&gh.Reference{
		Ref:    gh.Ptr("refs/heads/main"),
		Object: &gh.GitObject{SHA: gh.Ptr("base-commit-sha")},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/commits/base-commit-sha", jsonHandler(&gh.Commit{
		SHA:  gh.Ptr("base-commit-sha"),
		Tree: &gh.Tree{SHA: gh.Ptr("base-tree-sha")},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/trees/base-tree-sha", jsonHandler(&gh.Tree{
		SHA: gh.Ptr("base-tree-sha"),
		Entries: []*gh.TreeEntry{
			{Path: gh.Ptr("README.md"), Type: gh.Ptr("blob"), SHA: gh.Ptr("readme-sha"), Mode: gh.Ptr("100644")},
		},
	}))

	var createdBlobContent string
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		var blob gh.Blob
		require.NoError(t, json.NewDecoder(r.Body).Decode(&blob))
		createdBlobContent = blob.GetContent()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&gh.Blob{SHA: gh.Ptr("new-blob-sha")})
	})

	var treeEntryPaths []string
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/trees", func(w http.ResponseWriter, r *http.Request) {
		var req gh.Tree
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, e := range req.Entries {
			treeEntryPaths = append(treeEntryPaths, e.GetPath())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&gh.Tree{SHA: gh.Ptr("new-tree-sha")})
	})

	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/commits", jsonHandler(&gh.Commit{SHA: gh.Ptr("new-commit-sha")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/refs", jsonHandler(&gh.Reference{Ref: gh.Ptr("refs/heads/devpipe/task-1")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/pulls", jsonHandler(&gh.PullRequest{
		Number:  gh.Ptr(7),
		HTMLURL: gh.Ptr("https://github.com/acme/widgets/pull/7"),
	}))

	b := newTestBackend(t, mux)

	diff := `--- /dev/null
+++ b/new-file.txt
@@ -0,0 +1,1 @@
+hello from devpipe
`
	url, err := b.OpenDraftPR(t.Context(), orchestrator.PRRequest{
		Repo:   "acme/widgets",
		Branch: "devpipe/task-1",
		Title:  "Fix the thing",
		Body:   "Implements the thing.",
		Diff:   diff,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", url)
	assert.Equal(t, "hello from devpipe\n", createdBlobContent)
	assert.ElementsMatch(t, []string{"README.md", "new-file.txt"}, treeEntryPaths)
}

func TestOpenDraftPR_ExistingBranchFallsBackToUpdateRef(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets", jsonHandler(&gh.Repository{DefaultBranch: gh.Ptr("main")}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/ref/heads/main", jsonHandler(&gh.Reference{
		Object: &gh.GitObject{SHA: gh.Ptr("base-sha")},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/commits/base-sha", jsonHandler(&gh.Commit{
		SHA: gh.Ptr("base-sha"), Tree: &gh.Tree{SHA: gh.Ptr("tree-sha")},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/trees/tree-sha", jsonHandler(&gh.Tree{SHA: gh.Ptr("tree-sha")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/blobs", jsonHandler(&gh.Blob{SHA: gh.Ptr("blob-sha")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/trees", jsonHandler(&gh.Tree{SHA: gh.Ptr("new-tree-sha")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/commits", jsonHandler(&gh.Commit{SHA: gh.Ptr("new-commit-sha")}))

	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Reference already exists"}`, http.StatusUnprocessableEntity)
	})
	var updatedSHA string
	mux.HandleFunc("PATCH /api/v3/repos/acme/widgets/git/refs/heads/devpipe/task-1", func(w http.ResponseWriter, r *http.Request) {
		var ref gh.Reference
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ref))
		updatedSHA = ref.Object.GetSHA()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&gh.Reference{Object: &gh.GitObject{SHA: gh.Ptr(updatedSHA)}})
	})
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/pulls", jsonHandler(&gh.PullRequest{
		Number: gh.Ptr(8), HTMLURL: gh.Ptr("https://github.com/acme/widgets/pull/8"),
	}))

	b := newTestBackend(t, mux)

	diff := `--- /dev/null
+++ b/f.txt
@@ -0,0 +1,1 @@
+x
`
	url, err := b.OpenDraftPR(t.Context(), orchestrator.PRRequest{
		Repo: "acme/widgets", Branch: "devpipe/task-1", Title: "t", Body: "b", Diff: diff,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/8", url)
	assert.Equal(t, "new-commit-sha", updatedSHA)
}

func TestOpenDraftPR_ModifiesExistingFileByFetchingItsBlobFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/acme/widgets", jsonHandler(&gh.Repository{DefaultBranch: gh.Ptr("main")}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/ref/heads/main", jsonHandler(&gh.Reference{
		Object: &gh.GitObject{SHA: gh.Ptr("base-sha")},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/commits/base-sha", jsonHandler(&gh.Commit{
		SHA: gh.Ptr("base-sha"), Tree: &gh.Tree{SHA: gh.Ptr("tree-sha")},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/trees/tree-sha", jsonHandler(&gh.Tree{
		Entries: []*gh.TreeEntry{
			{Path: gh.Ptr("f.txt"), Type: gh.Ptr("blob"), SHA: gh.Ptr("old-blob-sha")},
		},
	}))
	mux.HandleFunc("GET /api/v3/repos/acme/widgets/git/blobs/old-blob-sha", jsonHandler(&gh.Blob{
		Content:  gh.Ptr(base64.StdEncoding.EncodeToString([]byte("one\ntwo\n"))),
		Encoding: gh.Ptr("base64"),
	}))

	var gotContent string
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		var blob gh.Blob
		require.NoError(t, json.NewDecoder(r.Body).Decode(&blob))
		gotContent = blob.GetContent()
		json.NewEncoder(w).Encode(&gh.Blob{SHA: gh.Ptr("updated-blob-sha")})
	})
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/trees", jsonHandler(&gh.Tree{SHA: gh.Ptr("new-tree-sha")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/commits", jsonHandler(&gh.Commit{SHA: gh.Ptr("new-commit-sha")}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/git/refs", jsonHandler(&gh.Reference{}))
	mux.HandleFunc("POST /api/v3/repos/acme/widgets/pulls", jsonHandler(&gh.PullRequest{
		Number: gh.Ptr(1), HTMLURL: gh.Ptr("https://github.com/acme/widgets/pull/1"),
	}))

	b := newTestBackend(t, mux)

	diff := `--- a/f.txt
+++ b/f.txt
@@ -2,1 +2,1 @@
-two
+TWO
`
	_, err := b.OpenDraftPR(t.Context(), orchestrator.PRRequest{
		Repo: "acme/widgets", Branch: "devpipe/task-2", Title: "t", Body: "b", Diff: diff,
	})
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\n", gotContent)
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := splitRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)

	_, _, err = splitRepo("not-a-valid-repo")
	assert.Error(t, err)
}

func TestOpenDraftPR_RejectsMalformedDiff(t *testing.T) {
	b := newTestBackend(t, http.NewServeMux())
	_, err := b.OpenDraftPR(t.Context(), orchestrator.PRRequest{
		Repo: "acme/widgets", Branch: "b", Diff: "not a diff",
	})
	assert.Error(t, err)
}

func TestOpenDraftPR_RejectsMalformedRepo(t *testing.T) {
	b := newTestBackend(t, http.NewServeMux())
	_, err := b.OpenDraftPR(t.Context(), orchestrator.PRRequest{
		Repo: "nope", Branch: "b", Diff: "--- a/f\n+++ b/f\n@@ -1,1 +1,1 @@\n-a\n+b\n",
	})
	assert.Error(t, err)
}
