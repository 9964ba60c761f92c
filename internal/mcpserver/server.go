// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the memo store to LLM agents over stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/memoranda/internal/memostore"
	"github.com/starford/memoranda/internal/models"
	"github.com/starford/memoranda/internal/search"
)

const (
	formatURI  = "memoranda://format"
	contextURI = "memoranda://context"
)

// Memos is the memo store as seen by the tools.
type Memos interface {
	CreateMemo(ctx context.Context, title, content string) (*models.Memo, error)
	UpdateMemo(ctx context.Context, id, content string) (*models.Memo, error)
	DeleteMemo(ctx context.Context, id string) error
	GetMemo(ctx context.Context, id string) (*models.Memo, error)
	ListMemos(ctx context.Context) ([]models.MemoMetadata, error)
	SearchMemos(ctx context.Context, query string) ([]search.Result, error)
	GetAllContext(ctx context.Context) (string, error)
}

var _ Memos = (*memostore.Store)(nil)

// Server wraps the MCP server with memo tools.
type Server struct {
	mcp   *server.MCPServer
	memos Memos
}

// New creates a new MCP server with all memo tools registered.
func New(memos Memos, version string) *Server {
	s := &Server{memos: memos}

	s.mcp = server.NewMCPServer(
		"memoranda",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithInstructions("Memoranda stores short Markdown memos for this repository. "+
			"Use search_memos to find relevant memos and get_all_context to load all of them at once."),
	)

	s.mcp.AddTool(mcp.NewTool("create_memo",
		mcp.WithDescription("Create a new memo. Returns the stored memo including its generated id."),
		mcp.WithString("title", mcp.Required(), mcp.MinLength(1), mcp.MaxLength(models.MaxTitleLength),
			mcp.Description("Memo title, 1 to 255 characters")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content, at most 1 MiB")),
	), s.createMemo)

	s.mcp.AddTool(mcp.NewTool("update_memo",
		mcp.WithDescription("Replace the content of an existing memo. Title, id and creation time are kept."),
		mcp.WithString("id", mcp.Required(), mcp.MinLength(26), mcp.MaxLength(26),
			mcp.Description("26-character memo id (ULID)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown content, at most 1 MiB")),
	), s.updateMemo)

	s.mcp.AddTool(mcp.NewTool("get_memo",
		mcp.WithDescription("Read a memo by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("26-character memo id (ULID)")),
	), s.getMemo)

	s.mcp.AddTool(mcp.NewTool("delete_memo",
		mcp.WithDescription("Delete a memo by id. Deletion is permanent."),
		mcp.WithString("id", mcp.Required(), mcp.Description("26-character memo id (ULID)")),
	), s.deleteMemo)

	s.mcp.AddTool(mcp.NewTool("list_memos",
		mcp.WithDescription("List all memos (id, title, timestamps, location) without their content."),
	), s.listMemos)

	s.mcp.AddTool(mcp.NewTool("search_memos",
		mcp.WithDescription("Full-text search over memo titles and content. Supports \"phrases\", "+
			"AND/OR/NOT, parentheses and * wildcards. Read "+formatURI+" for the syntax."),
		mcp.WithString("query", mcp.Required(), mcp.MinLength(1), mcp.MaxLength(models.MaxQueryLength),
			mcp.Description("Search query, 1 to 1000 characters")),
	), s.searchMemos)

	s.mcp.AddTool(mcp.NewTool("get_all_context",
		mcp.WithDescription("Return every memo rendered as one Markdown document, oldest first."),
	), s.getAllContext)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Memo Format",
			mcp.WithResourceDescription("How memos are stored on disk and the search query syntax."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(contextURI, "All Memos",
			mcp.WithResourceDescription("Every memo rendered as one Markdown document."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContextResource,
	)

	return s
}

// ServeStdio serves MCP on in/out until ctx is cancelled or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// HTTPHandler returns a streamable HTTP transport for mounting on a router.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) createMemo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.memos.CreateMemo(ctx, title, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m)
}

func (s *Server) updateMemo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.memos.UpdateMemo(ctx, id, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m)
}

func (s *Server) getMemo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := s.memos.GetMemo(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(m)
}

func (s *Server) deleteMemo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.memos.DeleteMemo(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("deleted: " + id), nil
}

func (s *Server) listMemos(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metas, err := s.memos.ListMemos(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if metas == nil {
		metas = []models.MemoMetadata{}
	}
	return jsonResult(metas)
}

func (s *Server) searchMemos(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.memos.SearchMemos(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getAllContext(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := s.memos.GetAllContext(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if text == "" {
		return mcp.NewToolResultText("no memos found"), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     MemoFormatContract,
		},
	}, nil
}

func (s *Server) readContextResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	text, err := s.memos.GetAllContext(ctx)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contextURI,
			MIMEType: "text/markdown",
			Text:     text,
		},
	}, nil
}
