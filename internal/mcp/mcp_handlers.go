package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/huangsam/tsmine/internal/contract"
	"github.com/huangsam/tsmine/internal/corpus"
	"github.com/huangsam/tsmine/internal/detector"
	"github.com/huangsam/tsmine/internal/linkage"
	"github.com/huangsam/tsmine/internal/outwriter"
	"github.com/huangsam/tsmine/internal/shard"
	"github.com/huangsam/tsmine/internal/vcs"
	"github.com/huangsam/tsmine/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	baseCfg *contract.Config
	mgr     contract.CacheManager
	client  contract.GitClient
}

func (h *toolHandler) layout() shard.Layout {
	return shard.Layout{Root: h.baseCfg.ResultsDir}
}

// jsonResult marshals v as the text content of a successful result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func (h *toolHandler) loadCorpus() (schema.Corpus, error) {
	c, err := corpus.LoadAggregate(h.layout())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.New("no corpus aggregate yet, run the forge command first")
	}
	return c, err
}

func (h *toolHandler) handleCorpusSummary(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := h.loadCorpus()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading corpus failed: %v", err)), nil
	}
	if url := request.GetString("clone_url", ""); url != "" {
		records, ok := c[url]
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("repository %s is not in the corpus", url)), nil
		}
		c = schema.Corpus{url: records}
	}
	return jsonResult(outwriter.SummarizeCorpus(c))
}

func (h *toolHandler) handleCorpusLookup(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("clone_url")
	if err != nil || url == "" {
		return mcp.NewToolResultError("clone_url is required"), nil
	}
	c, err := h.loadCorpus()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading corpus failed: %v", err)), nil
	}
	records, ok := c[url]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("repository %s is not in the corpus", url)), nil
	}

	prod := request.GetString("prod_path", "")
	if prod == "" {
		return jsonResult(records)
	}
	rec, ok := records[prod]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s has no record for %s", url, prod)), nil
	}
	return jsonResult(map[string]schema.CorpusRecord{prod: rec})
}

func (h *toolHandler) handleBugFixes(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repo")
	if err != nil || repo == "" {
		return mcp.NewToolResultError("repo is required"), nil
	}
	records, err := linkage.LoadRecords(h.layout(), repo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading bug fixes failed: %v", err)), nil
	}
	return jsonResult(records)
}

func (h *toolHandler) handleDetectorProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := h.baseCfg.Clone()
	if s := request.GetString("deadline", ""); s != "" {
		deadline, err := contract.ParseDeadline(s, time.Now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cfg.Deadline = deadline
	}

	targets, err := vcs.Discover(cfg.ReposDir, zerolog.Nop())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discovering repositories failed: %v", err)), nil
	}
	if names := splitNames(request.GetString("repos", "")); len(names) > 0 {
		targets = vcs.Filter(targets, names)
	}

	rows, err := detector.Progress(ctx, h.layout(), h.client, targets, cfg.Deadline, cfg.Workers)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("progress failed: %v", err)), nil
	}
	if !request.GetBool("include_complete", false) {
		rows = detector.Incomplete(rows)
	}
	if rows == nil {
		rows = []schema.ProgressRow{}
	}
	return jsonResult(rows)
}

func (h *toolHandler) handleStoreStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type storeStatus struct {
		Cache *schema.CacheStatus `json:"cache,omitempty"`
		Runs  *schema.RunStatus   `json:"runs,omitempty"`
	}
	var out storeStatus
	if h.mgr != nil {
		if store := h.mgr.GetMetricsStore(); store != nil {
			status, err := store.GetStatus()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("cache status failed: %v", err)), nil
			}
			out.Cache = &status
		}
		if store := h.mgr.GetRunStore(); store != nil {
			status, err := store.GetStatus()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("run status failed: %v", err)), nil
			}
			out.Runs = &status
		}
	}
	return jsonResult(out)
}

func splitNames(s string) []string {
	var names []string
	for p := range strings.SplitSeq(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
