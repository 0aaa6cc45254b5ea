package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/echotrain/internal/ingest"
	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/training"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return MCPDeps{
		Store:        store,
		Orchestrator: training.New(store, training.Config{}, training.WithLogger(logger)),
		Engine:       intent.NewEngine(),
		Version:      "test",
	}, store
}

func seedDataset(t *testing.T, store *storage.Store, ws string) storage.Dataset {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "shop_nlu.yml"))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	out, err := ingest.NewService(store, 0).Upload(ws, "shop_nlu.yml", "structured-yaml", data)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return out.Dataset
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_Classify(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpClassify(deps)

	result, err := handler(context.Background(), makeCallToolRequest("classify", map[string]interface{}{
		"text": "show me sustainable products",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var reply intent.Reply
	if err := json.Unmarshal([]byte(toolText(t, result)), &reply); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if reply.Intent != intent.IntentSustainability {
		t.Errorf("intent = %q, want %q", reply.Intent, intent.IntentSustainability)
	}
	if len(reply.Items) == 0 {
		t.Error("no items recommended")
	}
}

func TestMCPTool_Classify_MissingText(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpClassify(deps)(context.Background(), makeCallToolRequest("classify", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing text")
	}
}

func TestMCPTool_ListDatasets(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpListDatasets(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_datasets", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); !strings.Contains(text, "No datasets") {
		t.Fatalf("expected empty message, got: %s", text)
	}

	d := seedDataset(t, store, DefaultWorkspace)
	seedDataset(t, store, "other")

	result, err = handler(context.Background(), makeCallToolRequest("list_datasets", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var views []DatasetView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("decoding datasets: %v", err)
	}
	if len(views) != 1 || views[0].ID != d.ID || views[0].Status != "validated" {
		t.Fatalf("datasets = %+v", views)
	}
}

func TestMCPTool_StartTrainingAndJobStatus(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	d := seedDataset(t, store, "shop")

	result, err := mcpStartTraining(deps)(context.Background(), makeCallToolRequest("start_training", map[string]interface{}{
		"dataset_id": d.ID,
		"workspace":  "shop",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var job JobView
	if err := json.Unmarshal([]byte(toolText(t, result)), &job); err != nil {
		t.Fatalf("decoding job: %v", err)
	}
	if job.Status != "queued" {
		t.Fatalf("job status = %q, want queued", job.Status)
	}

	// Already active.
	result, err = mcpStartTraining(deps)(context.Background(), makeCallToolRequest("start_training", map[string]interface{}{
		"dataset_id": d.ID,
		"workspace":  "shop",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "precondition failed") {
		t.Fatalf("expected precondition error, got: %s", toolText(t, result))
	}

	result, err = mcpJobStatus(deps)(context.Background(), makeCallToolRequest("job_status", map[string]interface{}{
		"job_id":    job.ID,
		"workspace": "shop",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(toolText(t, result), job.ID) {
		t.Fatalf("job status missing id: %s", toolText(t, result))
	}

	// Jobs are scoped to their workspace.
	result, err = mcpJobStatus(deps)(context.Background(), makeCallToolRequest("job_status", map[string]interface{}{
		"job_id": job.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected not-found error for another workspace")
	}
}

func TestMCPTool_StartTraining_UnknownDataset(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpStartTraining(deps)(context.Background(), makeCallToolRequest("start_training", map[string]interface{}{
		"dataset_id": "missing",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown dataset")
	}
}

func TestMCPResource_Catalog(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	contents, err := mcpResourceCatalog(deps)(context.Background(), makeReadResourceRequest("catalog://products"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var items []intent.Item
	if err := json.Unmarshal([]byte(tc.Text), &items); err != nil {
		t.Fatalf("decoding catalog: %v", err)
	}
	if len(items) != len(intent.DefaultCatalog()) {
		t.Errorf("catalog has %d items, want %d", len(items), len(intent.DefaultCatalog()))
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDataset(t, store, DefaultWorkspace)

	classify := mcpClassify(deps)
	list := mcpListDatasets(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("classify", map[string]interface{}{"text": "cheap gifts"})
			if _, err := classify(context.Background(), req); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("list_datasets", map[string]interface{}{})
			if _, err := list(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
