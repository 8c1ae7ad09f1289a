// Package mcp exposes scans and claims as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/debthunt/internal/analyzers"
	"github.com/joescharf/debthunt/internal/health"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/repoconfig"
	"github.com/joescharf/debthunt/internal/scanner"
	"github.com/joescharf/debthunt/internal/store"
)

// StaleClaims lists and reclaims stale claims.
type StaleClaims interface {
	StaleClaims(ctx context.Context, repoID int64) ([]*models.Claim, error)
	ReclaimStale(ctx context.Context, repoID int64) ([]*models.Claim, error)
}

// ScanConfig controls the scan tool.
type ScanConfig struct {
	Defaults   repoconfig.Config
	Thresholds analyzers.Thresholds
	Options    []scanner.Option
}

// Server wraps the debthunt data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	stale   StaleClaims
	scan    ScanConfig
	scorer  *health.Scorer
	version string
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, stale StaleClaims, scan ScanConfig, version string) *Server {
	if len(scan.Defaults.Analyzers) == 0 {
		scan.Defaults = repoconfig.Default()
	}
	if scan.Thresholds == (analyzers.Thresholds{}) {
		scan.Thresholds = analyzers.DefaultThresholds()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:   s,
		stale:   stale,
		scan:    scan,
		scorer:  health.NewScorer(),
		version: version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("debthunt", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.scanTool())
	srv.AddTool(s.listClaimsTool())
	srv.AddTool(s.getClaimTool())
	srv.AddTool(s.staleClaimsTool())
	srv.AddTool(s.listRepositoriesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// debthunt_scan
func (s *Server) scanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("debthunt_scan",
		mcp.WithDescription("Scan a local Python repository for tech debt. Returns ranked findings (duplicates, missing type hints, complexity) and a 0-100 debt score."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Repository root on the local filesystem")),
		mcp.WithString("analyzers", mcp.Description("Comma-separated analyzers to run (complexity, type_hints, duplicates); defaults to the repository config")),
		mcp.WithNumber("limit", mcp.Description("Maximum findings to return (default 20, 0 for all)")),
	)
	return tool, s.handleScan
}

func (s *Server) handleScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}

	cfg, err := repoconfig.Load(path, s.scan.Defaults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load repository config: %v", err)), nil
	}
	if names := request.GetString("analyzers", ""); names != "" {
		cfg.Analyzers = splitList(names)
		if err := cfg.Validate(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	opts := append([]scanner.Option{scanner.WithThresholds(s.scan.Thresholds)}, s.scan.Options...)
	sc, err := scanner.New(cfg, opts...)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := sc.Report(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
	}

	findings := report.Findings
	if limit := request.GetInt("limit", 20); limit > 0 && len(findings) > limit {
		findings = findings[:limit]
	}

	return jsonResult(map[string]any{
		"path":      path,
		"config":    cfg.Source,
		"analyzers": sc.AnalyzerNames(),
		"files":     report.Files,
		"total":     len(report.Findings),
		"score":     s.scorer.Score(report.Findings, report.Files),
		"findings":  findings,
	})
}

// debthunt_list_claims
func (s *Server) listClaimsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("debthunt_list_claims",
		mcp.WithDescription("List bounty claims, newest first. Returns a JSON array of claims."),
		mcp.WithString("repository", mcp.Description("Repository full name (owner/repo) or numeric id")),
		mcp.WithString("status", mcp.Description("Comma-separated statuses: pending, in_progress, testing, retrying, open, merged, success, failed, abandoned, closed")),
		mcp.WithNumber("limit", mcp.Description("Maximum claims to return (default 50)")),
	)
	return tool, s.handleListClaims
}

func (s *Server) handleListClaims(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ClaimListFilter{Limit: request.GetInt("limit", 50)}

	if ref := request.GetString("repository", ""); ref != "" {
		id, err := s.resolveRepository(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.RepositoryID = id
	}
	for _, st := range splitList(request.GetString("status", "")) {
		status := models.ClaimStatus(st)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", st)), nil
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	claims, err := s.store.ListClaims(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list claims: %v", err)), nil
	}
	if claims == nil {
		claims = []*models.Claim{}
	}
	return jsonResult(claims)
}

// debthunt_get_claim
func (s *Server) getClaimTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("debthunt_get_claim",
		mcp.WithDescription("Get one claim with its original and fixed code, test output and pull request."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Claim ID")),
	)
	return tool, s.handleGetClaim
}

func (s *Server) handleGetClaim(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	claim, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(claim)
}

// debthunt_stale_claims
func (s *Server) staleClaimsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("debthunt_stale_claims",
		mcp.WithDescription("List claims whose worker appears to have died (pending or in progress past the stale threshold). With reclaim=true they are marked abandoned so their targets can be claimed again."),
		mcp.WithString("repository", mcp.Description("Repository full name (owner/repo) or numeric id; all repositories when omitted")),
		mcp.WithBoolean("reclaim", mcp.Description("Abandon the stale claims (default false)")),
	)
	return tool, s.handleStaleClaims
}

func (s *Server) handleStaleClaims(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var repoID int64
	if ref := request.GetString("repository", ""); ref != "" {
		id, err := s.resolveRepository(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		repoID = id
	}

	reclaim := request.GetBool("reclaim", false)
	var (
		claims []*models.Claim
		err    error
	)
	if reclaim {
		claims, err = s.stale.ReclaimStale(ctx, repoID)
	} else {
		claims, err = s.stale.StaleClaims(ctx, repoID)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check stale claims: %v", err)), nil
	}
	if claims == nil {
		claims = []*models.Claim{}
	}
	return jsonResult(map[string]any{
		"reclaimed": reclaim,
		"count":     len(claims),
		"claims":    claims,
	})
}

// debthunt_list_repositories
func (s *Server) listRepositoriesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("debthunt_list_repositories",
		mcp.WithDescription("List tracked repositories with their last scan time and scan count."),
	)
	return tool, s.handleListRepositories
}

func (s *Server) handleListRepositories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list repositories: %v", err)), nil
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	return jsonResult(repos)
}

// resolveRepository accepts a numeric id or an owner/repo name.
func (s *Server) resolveRepository(ctx context.Context, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	repo, err := s.store.GetRepositoryByName(ctx, ref)
	if err != nil {
		return 0, err
	}
	return repo.ID, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
