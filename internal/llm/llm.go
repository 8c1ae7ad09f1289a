// Package llm asks Claude to rewrite a flagged function and applies the
// result to a workspace.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/debthunt/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// maxContextBytes caps how much of the surrounding file goes into a prompt.
const maxContextBytes = 24000

// maxTestOutput caps the failing test output sent back for self-heal.
const maxTestOutput = 8000

// FixRequest identifies the target of a fix inside a workspace.
type FixRequest struct {
	Workspace string
	Finding   models.Finding
}

// FixResult is the outcome of a fix or self-heal attempt.
type FixResult struct {
	Success      bool   `json:"success"`
	OriginalCode string `json:"original_code,omitempty"`
	FixedCode    string `json:"fixed_code,omitempty"`
	Summary      string `json:"summary,omitempty"`
	Error        string `json:"error,omitempty"`
}

func failed(format string, a ...any) *FixResult {
	return &FixResult{Error: fmt.Sprintf(format, a...)}
}

// completer sends one system+user exchange and returns the reply text.
type completer func(ctx context.Context, system, user string) (string, error)

// Client wraps the Anthropic API as a code-fix engine.
type Client struct {
	api      *anthropic.Client
	model    anthropic.Model
	complete completer
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	c := &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
	c.complete = c.messages
	return c
}

func (c *Client) messages(ctx context.Context, system, user string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// Fix asks for a rewrite of the finding's code. Failures are reported in
// the result; the error is non-nil only when ctx is done.
func (c *Client) Fix(ctx context.Context, req FixRequest) (*FixResult, error) {
	original, err := ExtractTarget(req.Workspace, req.Finding)
	if err != nil {
		return failed("%v", err), nil
	}
	system, user := buildFixPrompt(req.Finding, original, fileContext(req.Workspace, req.Finding.FilePath))
	return c.run(ctx, system, user, original)
}

// SelfHeal asks for a corrected version of priorCode given the failing
// test output. The workspace already holds priorCode by then, so the
// result leaves OriginalCode empty; the first Fix result owns it.
func (c *Client) SelfHeal(ctx context.Context, req FixRequest, priorCode, testOutput string) (*FixResult, error) {
	system, user := buildHealPrompt(req.Finding, priorCode, testOutput)
	return c.run(ctx, system, user, "")
}

func (c *Client) run(ctx context.Context, system, user, original string) (*FixResult, error) {
	text, err := c.complete(ctx, system, user)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return failed("%v", err), nil
	}

	resp, err := parseFixResponse(text)
	if err != nil {
		return failed("%v", err), nil
	}
	return &FixResult{
		Success:      true,
		OriginalCode: original,
		FixedCode:    resp.FixedCode,
		Summary:      resp.Summary,
	}, nil
}

type fixResponse struct {
	FixedCode string `json:"fixed_code"`
	Summary   string `json:"summary"`
}

// stripFences removes a surrounding markdown code fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func parseFixResponse(text string) (*fixResponse, error) {
	text = stripFences(text)
	var resp fixResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	if strings.TrimSpace(resp.FixedCode) == "" {
		return nil, fmt.Errorf("LLM response has no fixed_code")
	}
	resp.FixedCode = strings.TrimRight(resp.FixedCode, "\n")
	if resp.Summary == "" {
		resp.Summary = "Refactored the flagged code."
	}
	return &resp, nil
}

// ExtractTarget reads the finding's lines from the workspace copy.
func ExtractTarget(workspace string, f models.Finding) (string, error) {
	lines, err := readLines(workspace, f.FilePath)
	if err != nil {
		return "", err
	}
	if f.StartLine < 1 || f.EndLine < f.StartLine || f.EndLine > len(lines) {
		return "", fmt.Errorf("lines %d-%d out of range for %s (%d lines)", f.StartLine, f.EndLine, f.FilePath, len(lines))
	}
	return strings.Join(lines[f.StartLine-1:f.EndLine], "\n"), nil
}

// Apply replaces lines start..end of file with code and returns the last
// line number the replacement now occupies.
func Apply(workspace, file string, start, end int, code string) (int, error) {
	lines, err := readLines(workspace, file)
	if err != nil {
		return 0, err
	}
	if start < 1 || end < start || end > len(lines) {
		return 0, fmt.Errorf("lines %d-%d out of range for %s (%d lines)", start, end, file, len(lines))
	}

	replacement := strings.Split(strings.TrimRight(code, "\n"), "\n")
	out := make([]string, 0, len(lines)-(end-start+1)+len(replacement))
	out = append(out, lines[:start-1]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)

	content := strings.Join(out, "\n")
	if err := os.WriteFile(filepath.Join(workspace, filepath.FromSlash(file)), []byte(content), 0644); err != nil {
		return 0, fmt.Errorf("write %s: %w", file, err)
	}
	return start + len(replacement) - 1, nil
}

// readLines splits a workspace file on newlines. A trailing newline yields
// a final empty element, which Apply preserves.
func readLines(workspace, file string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(file)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return strings.Split(string(data), "\n"), nil
}

func fileContext(workspace, file string) string {
	data, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(file)))
	if err != nil || len(data) > maxContextBytes {
		return ""
	}
	return string(data)
}
