// Package mcp exposes ingestion, upload and search over the Model Context
// Protocol so agent runtimes can drive the catalog directly.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/evidra/evidra/internal/app"
	"github.com/evidra/evidra/internal/backend"
)

// Server wraps the MCP SDK server around the application container.
type Server struct {
	mcpServer *mcpsdk.Server
	app       *app.App
}

// NewServer creates an MCP server exposing the ingest, upload and search
// tools. The search tool is named by the active backend.
func NewServer(a *app.App, name, version string) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("app is required")
	}

	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	s := &Server{mcpServer: mcpServer, app: a}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run starts the server on the given transport. Blocks until the transport
// closes or ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcpsdk.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// SearchInput is the search tool input.
type SearchInput struct {
	Query string `json:"query" jsonschema:"The search query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum number of results (default 5)"`
}

// IngestInput is the ingest tool input.
type IngestInput struct {
	URLs []string `json:"urls" jsonschema:"Source URLs to fetch and catalog"`
}

// UploadInput is the upload tool input.
type UploadInput struct {
	Refs []string `json:"refs" jsonschema:"File references: source URLs, local paths, file ids or catalog names"`
}

func (s *Server) registerTools() error {
	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search tool: %w", err)
	}
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name: s.app.Backend.ToolName(),
		Description: "Search the ingested document corpus and return ranked evidence chunks. " +
			"Results are deduplicated and capped per source document.",
		InputSchema: searchSchema,
	}, s.Search)

	ingestSchema, err := jsonschema.For[IngestInput](nil)
	if err != nil {
		return fmt.Errorf("schema for ingest tool: %w", err)
	}
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name: "ingest_sources",
		Description: "Fetch web pages, extract their readable text and record them in the " +
			"document catalog. Re-ingesting a known URL refreshes its entry.",
		InputSchema: ingestSchema,
	}, s.Ingest)

	uploadSchema, err := jsonschema.For[UploadInput](nil)
	if err != nil {
		return fmt.Errorf("schema for upload tool: %w", err)
	}
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name: "upload_files",
		Description: "Push cataloged documents into the active retrieval backend. " +
			"Files already present in the backend are reused, not re-uploaded.",
		InputSchema: uploadSchema,
	}, s.Upload)

	return nil
}

// Search handles the search tool call.
func (s *Server) Search(ctx context.Context, _ *mcpsdk.CallToolRequest, in SearchInput) (*mcpsdk.CallToolResult, any, error) {
	hits, err := s.app.Engine.Retrieve(ctx, in.Query, in.TopK)
	if err != nil {
		if errors.Is(err, backend.ErrSearchUnsupported) {
			return errorResult("this backend holds no queryable content; search happens inside the model call that owns the store"), nil, nil
		}
		return nil, nil, fmt.Errorf("search failed: %w", err)
	}
	return jsonResult(hits)
}

// Ingest handles the ingest_sources tool call.
func (s *Server) Ingest(ctx context.Context, _ *mcpsdk.CallToolRequest, in IngestInput) (*mcpsdk.CallToolResult, any, error) {
	if len(in.URLs) == 0 {
		return errorResult("no URLs given"), nil, nil
	}
	result, err := s.app.Ingest(ctx, in.URLs)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest failed: %w", err)
	}
	return jsonResult(result)
}

// Upload handles the upload_files tool call.
func (s *Server) Upload(ctx context.Context, _ *mcpsdk.CallToolRequest, in UploadInput) (*mcpsdk.CallToolResult, any, error) {
	if len(in.Refs) == 0 {
		return errorResult("no file references given"), nil, nil
	}
	result, err := s.app.Backend.Upload(ctx, in.Refs)
	if err != nil {
		return nil, nil, fmt.Errorf("upload failed: %w", err)
	}
	return jsonResult(result)
}

// jsonResult encodes v as a JSON text content block.
func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult builds a tool-level error the caller can act on.
func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
		IsError: true,
	}
}
