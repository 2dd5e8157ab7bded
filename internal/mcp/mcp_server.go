// Package mcp provides the Model Context Protocol (MCP) server implementation.
package mcp

import (
	"context"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer initializes and configures the tsmine MCP server without starting it.
// This is exposed for unit testing.
func NewMCPServer(baseCfg *contract.Config, mgr contract.CacheManager) *server.MCPServer {
	s := server.NewMCPServer(
		"tsmine Corpus Server",
		"1.0.0",
		server.WithLogging(),
	)

	h := &toolHandler{
		baseCfg: baseCfg,
		mgr:     mgr,
		client:  contract.NewLocalGitClient(),
	}

	// --- 1. Tool: corpus_summary ---
	s.AddTool(mcp.NewTool("corpus_summary",
		mcp.WithDescription("Summarize the aggregated corpus per repository: records, buggy records, bug rate, test files and smells."),
		mcp.WithString("clone_url", mcp.Description("Only summarize this repository.")),
	), h.handleCorpusSummary)

	// --- 2. Tool: corpus_lookup ---
	s.AddTool(mcp.NewTool("corpus_lookup",
		mcp.WithDescription("Return the corpus records of one repository, or of one production file in it."),
		mcp.WithString("clone_url", mcp.Description("Clone URL the corpus is keyed by."), mcp.Required()),
		mcp.WithString("prod_path", mcp.Description("Repository-relative production file path.")),
	), h.handleCorpusLookup)

	// --- 3. Tool: bug_fixes ---
	s.AddTool(mcp.NewTool("bug_fixes",
		mcp.WithDescription("Return the bug-fixing merges of one repository with their base commits and changed files."),
		mcp.WithString("repo", mcp.Description("Index-prefixed repository name, e.g. [0001]requests."), mcp.Required()),
	), h.handleBugFixes)

	// --- 4. Tool: detector_progress ---
	s.AddTool(mcp.NewTool("detector_progress",
		mcp.WithDescription("Report how many commits of each repository have a smell detector report or a ledger entry."),
		mcp.WithString("repos", mcp.Description("Comma-separated repository names (defaults to every discovered repository).")),
		mcp.WithBoolean("include_complete", mcp.Description("Also list fully analyzed repositories.")),
		mcp.WithString("deadline", mcp.Description("Only count commits up to this time (RFC3339 or e.g. '6 months ago').")),
	), h.handleDetectorProgress)

	// --- 5. Tool: store_status ---
	s.AddTool(mcp.NewTool("store_status",
		mcp.WithDescription("Show the metrics cache and run store statistics."),
	), h.handleStoreStatus)

	return s
}

// StartMCPServer starts the tsmine MCP server on stdio.
func StartMCPServer(_ context.Context, baseCfg *contract.Config, mgr contract.CacheManager) error {
	s := NewMCPServer(baseCfg, mgr)
	return server.ServeStdio(s)
}
