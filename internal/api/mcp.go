package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/training"
)

// DefaultWorkspace is used by MCP tools when no workspace argument is given.
const DefaultWorkspace = "default"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store        *storage.Store
	Orchestrator *training.Orchestrator
	Engine       *intent.Engine
	Version      string
}

// NewMCPServer creates an MCP server with all echotrain tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"echotrain",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("echotrain manages NLU training datasets and jobs and answers shopping questions from a product catalog."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("classify",
			mcp.WithDescription("Classify a shopper message with the rule-based engine and return intent, slots and recommended items."),
			mcp.WithString("text", mcp.Description("The message to classify"), mcp.Required()),
		),
		mcpClassify(deps),
	)

	s.AddTool(
		mcp.NewTool("list_datasets",
			mcp.WithDescription("List the datasets of a workspace with their validation status."),
			mcp.WithString("workspace", mcp.Description("Workspace id (default \"default\")")),
		),
		mcpListDatasets(deps),
	)

	s.AddTool(
		mcp.NewTool("start_training",
			mcp.WithDescription("Start a training job for a validated dataset."),
			mcp.WithString("dataset_id", mcp.Description("Dataset to train"), mcp.Required()),
			mcp.WithString("workspace", mcp.Description("Workspace id (default \"default\")")),
		),
		mcpStartTraining(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Show the status, progress and log of a training job."),
			mcp.WithString("job_id", mcp.Description("Training job id"), mcp.Required()),
			mcp.WithString("workspace", mcp.Description("Workspace id (default \"default\")")),
		),
		mcpJobStatus(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"catalog://products",
			"Product Catalog",
			mcp.WithResourceDescription("Products the fallback engine recommends from"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpClassify(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}
		return mcpJSON(deps.Engine.Respond(text))
	}
}

func mcpListDatasets(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ws := req.GetString("workspace", DefaultWorkspace)
		list, err := deps.Store.ListDatasets(ws)
		if err != nil {
			return nil, fmt.Errorf("listing datasets: %w", err)
		}
		if len(list) == 0 {
			return mcpText(fmt.Sprintf("No datasets in workspace %q.", ws)), nil
		}
		views := make([]DatasetView, 0, len(list))
		for _, d := range list {
			views = append(views, NewDatasetView(d))
		}
		return mcpJSON(views)
	}
}

func mcpStartTraining(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		datasetID, err := req.RequireString("dataset_id")
		if err != nil {
			return mcpError("dataset_id is required"), nil
		}
		ws := req.GetString("workspace", DefaultWorkspace)

		job, err := deps.Orchestrator.StartTraining(ctx, ws, datasetID)
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, training.ErrPreconditionFailed):
			return mcpError(err.Error()), nil
		case err != nil:
			return nil, fmt.Errorf("starting training: %w", err)
		}
		return mcpJSON(NewJobView(job))
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		ws := req.GetString("workspace", DefaultWorkspace)

		job, err := deps.Store.GetTrainingJob(jobID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && job.WorkspaceID != ws) {
			return mcpError(fmt.Sprintf("training job %s not found in workspace %q", jobID, ws)), nil
		}
		if err != nil {
			return nil, fmt.Errorf("loading training job: %w", err)
		}
		return mcpJSON(NewJobView(job))
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Engine.Catalog())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
