package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"mlstore://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Row counts for every mlstore table: datasets, triples and persisted analysis artifacts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerDatasetsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"mlstore://datasets",
		"Datasets",
		mcp.WithResourceDescription("Stored datasets with feature and point counts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		summaries, err := listDatasets(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("listing datasets: %w", err)
		}

		payload := map[string]any{
			"datasets": summaries,
			"count":    len(summaries),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
