// Package llm implements the LLM integration façade (spec §4.13): a
// Planner, a Coder, and an archival.Embedder backed by a single gRPC
// connection to a model-provider sidecar, adapted from the teacher's
// pkg/llm.Client (gRPC + Gemini-style env config) onto the JSON-over-gRPC
// wire codec in codec.go and the Plan/Code/Embed operations this pipeline
// actually needs, rather than the teacher's session-based chat streaming.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oakforge/devpipe/pkg/agentic"
	"github.com/oakforge/devpipe/pkg/memory/archival"
	"github.com/oakforge/devpipe/pkg/orchestrator"
)

// Client is a single bound model configuration (provider/model/call
// defaults, mirroring an ent.ModelConfig row) reachable over one gRPC
// connection.
type Client struct {
	conn        *grpc.ClientConn
	model       string
	temperature float32
	maxTokens   int32
}

// NewClient dials addr (the model-provider sidecar) and binds model/
// temperature/maxTokens as the defaults for every call this Client makes —
// callers resolve these from an ent.ModelConfig row (or its per-call
// override) before construction.
func NewClient(addr, model string, temperature float32, maxTokens int32) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("llm: connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, model: model, temperature: temperature, maxTokens: maxTokens}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

var (
	_ orchestrator.Planner    = (*Client)(nil)
	_ orchestrator.Coder      = (*Client)(nil)
	_ orchestrator.Decomposer = (*Client)(nil)
	_ archival.Embedder       = (*Client)(nil)
	_ agentic.Reflector       = (*Client)(nil)
	_ agentic.Fixer           = (*Client)(nil)
)

type planRequest struct {
	IssueTitle  string  `json:"issue_title"`
	IssueBody   string  `json:"issue_body"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int32   `json:"max_tokens"`
}

type planResponse struct {
	Steps            []string `json:"steps"`
	DefinitionOfDone []string `json:"definition_of_done"`
	TargetFiles      []string `json:"target_files"`
	Complexity       string   `json:"complexity"`
}

// Plan implements orchestrator.Planner.
func (c *Client) Plan(ctx context.Context, issueTitle, issueBody string) (orchestrator.PlanResult, error) {
	req := planRequest{
		IssueTitle:  issueTitle,
		IssueBody:   issueBody,
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp planResponse
	if err := c.invoke(ctx, "/devpipe.llm.LLMService/Plan", &req, &resp); err != nil {
		return orchestrator.PlanResult{}, err
	}
	return orchestrator.PlanResult{
		Steps:            resp.Steps,
		DefinitionOfDone: resp.DefinitionOfDone,
		TargetFiles:      resp.TargetFiles,
		Complexity:       resp.Complexity,
	}, nil
}

type codeRequest struct {
	Plan        []string `json:"plan"`
	TargetFiles []string `json:"target_files"`
	Model       string   `json:"model"`
	Temperature float32  `json:"temperature"`
	MaxTokens   int32    `json:"max_tokens"`
}

type codeResponse struct {
	Diff string `json:"diff"`
}

// Code implements orchestrator.Coder.
func (c *Client) Code(ctx context.Context, plan []string, targetFiles []string) (string, error) {
	req := codeRequest{
		Plan:        plan,
		TargetFiles: targetFiles,
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp codeResponse
	if err := c.invoke(ctx, "/devpipe.llm.LLMService/Code", &req, &resp); err != nil {
		return "", err
	}
	return resp.Diff, nil
}

type embedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed implements archival.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embedRequest{Text: text, Model: c.model}
	var resp embedResponse
	if err := c.invoke(ctx, "/devpipe.llm.LLMService/Embed", &req, &resp); err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

type reflectRequest struct {
	Issue         string                   `json:"issue"`
	Plan          []string                 `json:"plan"`
	CurrentDiff   string                   `json:"current_diff"`
	TestOutput    string                   `json:"test_output"`
	PriorAttempts []agentic.AttemptSummary `json:"prior_attempts"`
	Model         string                   `json:"model"`
	Temperature   float32                  `json:"temperature"`
	MaxTokens     int32                    `json:"max_tokens"`
}

type reflectResponse struct {
	Diagnosis      string  `json:"diagnosis"`
	RootCause      string  `json:"root_cause"`
	Recommendation string  `json:"recommendation"`
	Feedback       string  `json:"feedback"`
	Confidence     float64 `json:"confidence"`
}

// Reflect implements agentic.Reflector.
func (c *Client) Reflect(ctx context.Context, input agentic.Input) (agentic.Reflection, error) {
	req := reflectRequest{
		Issue:         input.Issue,
		Plan:          input.Plan,
		CurrentDiff:   input.CurrentDiff,
		TestOutput:    input.TestOutput,
		PriorAttempts: input.PriorAttempts,
		Model:         c.model,
		Temperature:   c.temperature,
		MaxTokens:     c.maxTokens,
	}
	var resp reflectResponse
	if err := c.invoke(ctx, "/devpipe.llm.LLMService/Reflect", &req, &resp); err != nil {
		return agentic.Reflection{}, err
	}
	return agentic.Reflection{
		Diagnosis:      resp.Diagnosis,
		RootCause:      agentic.RootCause(resp.RootCause),
		Recommendation: agentic.Recommendation(resp.Recommendation),
		Feedback:       resp.Feedback,
		Confidence:     resp.Confidence,
	}, nil
}

type fixRequest struct {
	Diff        string  `json:"diff"`
	Feedback    string  `json:"feedback"`
	TestOutput  string  `json:"test_output"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int32   `json:"max_tokens"`
}

type fixResponse struct {
	Diff string `json:"diff"`
}

// Fix implements agentic.Fixer.
func (c *Client) Fix(ctx context.Context, diff, feedback, testOutput string) (string, error) {
	req := fixRequest{
		Diff:        diff,
		Feedback:    feedback,
		TestOutput:  testOutput,
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp fixResponse
	if err := c.invoke(ctx, "/devpipe.llm.LLMService/Fix", &req, &resp); err != nil {
		return "", err
	}
	return resp.Diff, nil
}

type decomposeRequest struct {
	Plan        []string `json:"plan"`
	TargetFiles []string `json:"target_files"`
	Model       string   `json:"model"`
	Temperature float32  `json:"temperature"`
	MaxTokens   int32    `json:"max_tokens"`
}

type decomposedSubTask struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	TargetFiles []string `json:"target_files"`
	DependsOn   []int    `json:"depends_on"`
}

type decomposeResponse struct {
	SubTasks []decomposedSubTask `json:"sub_tasks"`
}

// Decompose implements orchestrator.Decomposer.
func (c *Client) Decompose(ctx context.Context, plan []string, targetFiles []string) ([]orchestrator.SubTaskSpec, error) {
	req := decomposeRequest{
		Plan:        plan,
		TargetFiles: targetFiles,
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp decomposeResponse
	if err := c.invoke(ctx, "/devpipe.llm.LLMService/Decompose", &req, &resp); err != nil {
		return nil, err
	}
	specs := make([]orchestrator.SubTaskSpec, len(resp.SubTasks))
	for i, st := range resp.SubTasks {
		specs[i] = orchestrator.SubTaskSpec{
			Title:       st.Title,
			Body:        st.Body,
			TargetFiles: st.TargetFiles,
			DependsOn:   st.DependsOn,
		}
	}
	return specs, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	err := c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return fmt.Errorf("llm: %s: %w", method, err)
	}
	return nil
}
