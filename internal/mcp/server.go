// Package mcp provides a Model Context Protocol server for mlstore.
//
// It exposes the stored datasets, their materialized matrices and persisted
// trees as read-only tools, runs analyses through mlstore_analyze, and
// publishes store statistics as a resource. Served over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hurttlocker/mlstore/internal/analysis"
	"github.com/hurttlocker/mlstore/internal/logging"
	"github.com/hurttlocker/mlstore/internal/matrix"
	"github.com/hurttlocker/mlstore/internal/pipeline"
	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/hurttlocker/mlstore/internal/tree"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Version string // version string for MCP server info
	Logger  *logging.Logger
	// Defaults seed mlstore_analyze arguments the caller leaves out.
	Defaults pipeline.Options
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines and the
// store has a single writer.
var dbMu sync.Mutex

// maxPreviewRows caps the rows mlstore_matrix returns.
const maxPreviewRows = 100

// NewServer creates a configured MCP server with all mlstore tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoopLogger()
	}

	s := server.NewMCPServer(
		"mlstore",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerDatasetsTool(s, cfg.Store)
	registerMatrixTool(s, cfg.Store)
	registerTreeTool(s, cfg.Store)
	registerAnalyzeTool(s, cfg.Store, logger, cfg.Defaults)

	registerStatsResource(s, cfg.Store)
	registerDatasetsResource(s, cfg.Store)

	return s
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(cfg ServerConfig) error {
	return server.ServeStdio(NewServer(cfg))
}

// --- Tools ---

func datasetArg(req mcp.CallToolRequest) (int64, error) {
	v, err := req.RequireFloat("dataset_id")
	if err != nil {
		return 0, fmt.Errorf("dataset_id is required")
	}
	if v != float64(int64(v)) || v < 1 {
		return 0, fmt.Errorf("dataset_id must be a positive integer, got %v", v)
	}
	return int64(v), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data))
}

func registerDatasetsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("mlstore_datasets",
		mcp.WithDescription("List stored datasets with their feature and point counts."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		summaries, err := listDatasets(ctx, st)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("datasets error: %v", err)), nil
		}
		return jsonResult(summaries), nil
	})
}

type datasetSummary struct {
	*store.Dataset
	Features int `json:"features"`
	Points   int `json:"points"`
}

func listDatasets(ctx context.Context, st store.Store) ([]datasetSummary, error) {
	datasets, err := st.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]datasetSummary, 0, len(datasets))
	for _, d := range datasets {
		feats, err := st.ListFeatures(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		points, err := st.ListPoints(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, datasetSummary{Dataset: d, Features: len(feats), Points: len(points)})
	}
	return out, nil
}

func registerMatrixTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("mlstore_matrix",
		mcp.WithDescription("Materialize a dataset as a dense matrix. Returns the row and column index maps and a preview of the values; missing cells are zero."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("dataset_id",
			mcp.Required(),
			mcp.Description("Dataset id"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum rows in the preview (default: 20, max: %d)", maxPreviewRows)),
		),
		mcp.WithString("source",
			mcp.Description("Index source: metadata (all points and features) or values (only those with values). Default: metadata"),
			mcp.Enum("metadata", "values"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		id, err := datasetArg(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := 20
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			limit = min(int(l), maxPreviewRows)
		}
		src := matrix.FromMetadata
		if v, err := req.RequireString("source"); err == nil && v == "values" {
			src = matrix.FromValues
		}

		m, err := matrix.Build(ctx, st, id, src)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("matrix error: %v", err)), nil
		}
		rows, cols := m.Dims()
		preview := make([][]float64, 0, min(rows, limit))
		for i := 0; i < rows && i < limit && !m.Empty(); i++ {
			preview = append(preview, m.Dense.RawRowView(i))
		}
		return jsonResult(map[string]any{
			"dataset_id": id,
			"source":     src.String(),
			"rows":       rows,
			"columns":    cols,
			"features":   m.Columns,
			"points":     m.Rows[:min(rows, limit)],
			"values":     preview,
			"truncated":  rows > limit,
		}), nil
	})
}

func registerTreeTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("mlstore_tree",
		mcp.WithDescription("Read back the persisted hierarchical clustering tree of a dataset and verify its shape."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("dataset_id",
			mcp.Required(),
			mcp.Description("Dataset id"),
		),
		mcp.WithBoolean("include_nodes",
			mcp.Description("Include every node row in the response (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		id, err := datasetArg(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		nodes, err := st.ListTreeNodes(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("tree error: %v", err)), nil
		}
		if len(nodes) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("dataset %d has no persisted tree; run mlstore_analyze with analysis=hierarchical", id)), nil
		}

		payload := map[string]any{"dataset_id": id, "nodes_total": len(nodes)}
		report, verr := tree.Verify(nodes)
		if verr != nil {
			payload["valid"] = false
			payload["problem"] = verr.Error()
		} else {
			payload["valid"] = true
			payload["report"] = report
		}
		if include := req.GetBool("include_nodes", false); include {
			payload["nodes"] = nodes
		}
		return jsonResult(payload), nil
	})
}

func registerAnalyzeTool(s *server.MCPServer, st store.Store, logger *logging.Logger, defaults pipeline.Options) {
	kinds := make([]string, len(pipeline.Kinds))
	for i, k := range pipeline.Kinds {
		kinds[i] = string(k)
	}

	tool := mcp.NewTool("mlstore_analyze",
		mcp.WithDescription("Run one analysis over a dataset and persist its artifacts in one transaction. Returns a summary of the rows written."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("dataset_id",
			mcp.Required(),
			mcp.Description("Dataset id"),
		),
		mcp.WithString("analysis",
			mcp.Required(),
			mcp.Description("Analysis to run"),
			mcp.Enum(kinds...),
		),
		mcp.WithNumber("k",
			mcp.Description("Cluster count for kmeans and kmedoids"),
		),
		mcp.WithNumber("seed",
			mcp.Description("Random seed for kmeans initialization"),
		),
		mcp.WithString("linkage",
			mcp.Description("Linkage for hierarchical clustering"),
			mcp.Enum("single", "complete", "average", "weighted", "ward", "centroid", "median"),
		),
		mcp.WithString("metric",
			mcp.Description("Distance metric for hierarchical clustering"),
			mcp.Enum("euclidean", "cityblock", "chebyshev"),
		),
		mcp.WithString("target",
			mcp.Description("Response feature name for regressions (default: last column)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		id, err := datasetArg(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		name, err := req.RequireString("analysis")
		if err != nil {
			return mcp.NewToolResultError("analysis is required"), nil
		}
		kind, err := pipeline.ParseKind(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		opts := defaults
		if k, err := req.RequireFloat("k"); err == nil && k > 0 {
			opts.Clusters = int(k)
		}
		if seed, err := req.RequireFloat("seed"); err == nil && seed > 0 {
			opts.Seed = uint64(seed)
		}
		if v, err := req.RequireString("linkage"); err == nil && v != "" {
			l, err := analysis.ParseLinkage(v)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			opts.Linkage = l
		}
		if v, err := req.RequireString("metric"); err == nil && v != "" {
			m, err := analysis.ParseMetric(v)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			opts.Metric = m
		}
		if v, err := req.RequireString("target"); err == nil && v != "" {
			opts.Target = v
		}

		rep, err := pipeline.NewRunner(st, logger, opts).Run(ctx, kind, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analyze error: %v", err)), nil
		}
		return jsonResult(rep), nil
	})
}
