package issuetracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/errs"
)

func newTestClient(t *testing.T, handler http.Handler, cfg config.IssueTrackerConfig) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg.BaseURL = server.URL
	return NewClient(&cfg, "test-token")
}

func TestTransitionInReview_SendsExpectedStatusAndAuthHeader(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody transitionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/42/transitions", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mux, config.IssueTrackerConfig{InReview: "code_review"})
	err := c.TransitionInReview(t.Context(), "acme/widgets", 42)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/repos/acme/widgets/issues/42/transitions", gotPath)
	assert.Equal(t, "code_review", gotBody.Status)
}

func TestTransitionInReview_DefaultsInReviewStatusWhenUnconfigured(t *testing.T) {
	var gotBody transitionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/1/transitions", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, mux, config.IssueTrackerConfig{})
	require.NoError(t, c.TransitionInReview(t.Context(), "acme/widgets", 1))
	assert.Equal(t, "in_review", gotBody.Status)
}

func TestTransitionInReview_NotFoundClassifiesAsUserInput(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/999/transitions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	c := newTestClient(t, mux, config.IssueTrackerConfig{})
	err := c.TransitionInReview(t.Context(), "acme/widgets", 999)
	require.Error(t, err)
	assert.Equal(t, errs.KindUserInput, errs.KindOf(err))
}

func TestTransitionInReview_ServerErrorClassifiesAsTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/1/transitions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	c := newTestClient(t, mux, config.IssueTrackerConfig{})
	err := c.TransitionInReview(t.Context(), "acme/widgets", 1)
	require.Error(t, err)
	assert.Equal(t, errs.KindTransient, errs.KindOf(err))
	assert.True(t, errs.ShouldRetry(err))
}

func TestTransitionInReview_UnexpectedStatusClassifiesAsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /repos/acme/widgets/issues/1/transitions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	})

	c := newTestClient(t, mux, config.IssueTrackerConfig{})
	err := c.TransitionInReview(t.Context(), "acme/widgets", 1)
	require.Error(t, err)
	assert.Equal(t, errs.KindTerminal, errs.KindOf(err))
}
