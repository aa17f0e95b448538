// Package issuetracker implements orchestrator.IssueTracker as a thin HTTP
// façade over a generic issue-tracker REST API.
//
// No ecosystem client library for a generic (non-GitHub, non-Jira-specific)
// issue tracker turned up anywhere in the retrieved example pack — the only
// tracker-shaped client present is go-github's Issues service, which is
// GitHub-specific and already spoken for by pkg/integrations/codehost. The
// spec deliberately keeps the issue tracker abstracted behind a one-method
// interface (TransitionInReview), so rather than force-fit a GitHub-only
// client onto a generic contract, this package is a small net/http façade,
// classifying responses into pkg/errs's Kind taxonomy the way every other
// component boundary does. See DESIGN.md for this stdlib justification.
package issuetracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/errs"
	"github.com/oakforge/devpipe/pkg/orchestrator"
)

// Client transitions tickets to an "in review" state on a generic issue
// tracker reachable over HTTP.
type Client struct {
	baseURL    string
	token      string
	inReview   string
	httpClient *http.Client
}

// NewClient builds a Client from resolved config and a token already read
// from cfg.TokenEnv by the caller.
func NewClient(cfg *config.IssueTrackerConfig, token string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	inReview := cfg.InReview
	if inReview == "" {
		inReview = "in_review"
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      token,
		inReview:   inReview,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ orchestrator.IssueTracker = (*Client)(nil)

type transitionRequest struct {
	Status string `json:"status"`
}

// TransitionInReview implements orchestrator.IssueTracker (spec §4.8: "After
// a PR is opened, the linked ticket is transitioned to an 'in review'
// state.").
func (c *Client) TransitionInReview(ctx context.Context, repo string, issueNumber int) error {
	body, err := json.Marshal(transitionRequest{Status: c.inReview})
	if err != nil {
		return errs.Wrap(errs.KindInternal, "issuetracker: marshal transition request", err)
	}

	url := fmt.Sprintf("%s/repos/%s/issues/%d/transitions", c.baseURL, repo, issueNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.KindInternal, "issuetracker: build transition request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindTransient, "issuetracker: transition request failed", err)
	}
	defer resp.Body.Close()

	return classifyResponse(resp)
}

func classifyResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errs.New(errs.KindUserInput, fmt.Sprintf("issuetracker: ticket not found (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return errs.New(errs.KindTransient, fmt.Sprintf("issuetracker: transient failure (status %d)", resp.StatusCode))
	default:
		return errs.New(errs.KindTerminal, fmt.Sprintf("issuetracker: unexpected status %d", resp.StatusCode))
	}
}
