package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vsextract/internal/cleanup"
	"github.com/kalambet/vsextract/internal/journal"
	"github.com/kalambet/vsextract/internal/pipeline"
	"github.com/kalambet/vsextract/internal/schema"
	"github.com/kalambet/vsextract/internal/storage"
)

const recentJournalLimit = 20

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Runner    RunService
	Stores    cleanup.PurgeAPI
	Defaults  pipeline.Request
	DeleteRaw bool
	Version   string
}

// NewMCPServer creates an MCP server with the vsextract tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"vsextract",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vsextract uploads documents to an OpenAI vector store and extracts a validated order record from them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("extract_documents",
			mcp.WithDescription("Upload local files to a new vector store, wait for indexing and extract the validated JSON record."),
			mcp.WithArray("paths", mcp.Description("Local file paths to upload"), mcp.Required()),
			mcp.WithBoolean("wait_for_index", mcp.Description("Wait for indexing and run the extraction (default true)")),
			mcp.WithString("instruction", mcp.Description("User instruction for the model")),
			mcp.WithString("model", mcp.Description("Model name")),
			mcp.WithNumber("auto_cleanup_minutes", mcp.Description("Delete the store after this many minutes; 0 keeps it")),
		),
		mcpExtractDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("list_stores",
			mcp.WithDescription("List vector stores created by this client, or every store on the account."),
			mcp.WithBoolean("remote", mcp.Description("List stores from the OpenAI account instead of the local registry")),
		),
		mcpListStores(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_store",
			mcp.WithDescription("Detach every file from a vector store and delete it."),
			mcp.WithString("store_id", mcp.Description("Vector store id"), mcp.Required()),
		),
		mcpDeleteStore(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"journal://recent",
			"Recent Journal",
			mcp.WithResourceDescription(fmt.Sprintf("Last %d journal entries", recentJournalLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJournal(deps),
	)

	return s
}

func mcpExtractDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paths := req.GetStringSlice("paths", nil)
		if len(paths) == 0 {
			return mcpError("paths is required"), nil
		}

		run := deps.Defaults
		run.Paths = paths
		run.WaitForIndex = req.GetBool("wait_for_index", true)
		run.Instruction = req.GetString("instruction", run.Instruction)
		run.Model = req.GetString("model", run.Model)
		run.AutoCleanupMinutes = req.GetInt("auto_cleanup_minutes", run.AutoCleanupMinutes)
		run.Progress = nil

		res, err := deps.Runner.Run(ctx, run)
		if err != nil {
			var ve *schema.ValidationError
			if errors.As(err, &ve) {
				b, _ := json.Marshal(map[string]any{"store_id": res.StoreID, "issues": ve.Issues, "raw_text": res.RawText})
				return mcpError(string(b)), nil
			}
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}

		out := map[string]any{
			"store_id":       res.StoreID,
			"attached_count": res.Upload.AttachedCount,
			"summary":        res.Upload.Text,
		}
		if res.CleanJSON != "" {
			out["result"] = json.RawMessage(res.CleanJSON)
		}
		if res.SavedCopyPath != "" {
			out["saved_copy_path"] = res.SavedCopyPath
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListStores(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			v   any
			err error
		)
		if req.GetBool("remote", false) {
			v, err = deps.Stores.ListStores(ctx)
		} else {
			v, err = deps.Store.ListStoreRecords(ctx, false)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("listing stores failed: %v", err)), nil
		}

		b, err := json.Marshal(v)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stores: %v", err)), nil
		}
		if string(b) == "null" {
			return mcpText("[]"), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteStore(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("store_id")
		if err != nil || id == "" {
			return mcpError("store_id is required"), nil
		}

		rep, err := deleteStore(ctx, deps.Store, deps.Stores, deps.DeleteRaw, id)
		if err != nil {
			return mcpError(fmt.Sprintf("delete failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted store %s (%d files detached, %d deleted)", id, rep.FilesDetached, rep.FilesDeleted)), nil
	}
}

func mcpResourceJournal(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := journal.NewSQLite(deps.Store).Recent(ctx, recentJournalLimit, "")
		if err != nil {
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
		if entries == nil {
			entries = []journal.Entry{}
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal journal: %w", err)
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
