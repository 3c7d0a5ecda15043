// Package mcpadapter exposes the review queue over the Model Context
// Protocol, so MCP-compatible agents can inspect and resolve entries with the
// same guarantees as the HTTP API.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
)

const (
	serverVersion = "1.0.0"

	openQueueURI        = "tradeconfirm://review-queue/open"
	documentURITemplate = "tradeconfirm://document/{id}"
	documentURIPrefix   = "tradeconfirm://document/"

	// openQueueLimit bounds the resource payload; tools page explicitly.
	openQueueLimit   = 100
	defaultListLimit = 20
)

type Server struct {
	mcpServer *mcpserver.MCPServer
	reviews   ports.ReviewQueue
	documents ports.DocumentReader
	logger    *slog.Logger
}

func New(reviews ports.ReviewQueue, documents ports.DocumentReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reviews:   reviews,
		documents: documents,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tradeconfirm",
		serverVersion,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// HTTPHandler returns the streamable HTTP transport for mounting under /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			openQueueURI,
			"Open Review Queue",
			mcplib.WithResourceDescription("Review queue entries still waiting for an operator"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleOpenQueue,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			documentURITemplate,
			"Trade Document",
			mcplib.WithTemplateDescription("Document metadata and processing state by document id"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleDocument,
	)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("review_list",
			mcplib.WithDescription("List review queue entries by status"),
			mcplib.WithString("status", mcplib.Description("Queue status: open, assigned or rejected (default open)")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum entries to return")),
		),
		s.handleReviewList,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("review_assign",
			mcplib.WithDescription("Resolve a review entry by assigning it to an employee and trade request"),
			mcplib.WithString("entry_id", mcplib.Description("Review entry identifier"), mcplib.Required()),
			mcplib.WithString("employee_id", mcplib.Description("Employee the document belongs to"), mcplib.Required()),
			mcplib.WithString("request_id", mcplib.Description("Trade request awaiting this confirmation"), mcplib.Required()),
			mcplib.WithString("note", mcplib.Description("Resolution note")),
			mcplib.WithString("resolved_by", mcplib.Description("Operator identity")),
		),
		s.handleReviewAssign,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("review_reject",
			mcplib.WithDescription("Resolve a review entry by rejecting the document"),
			mcplib.WithString("entry_id", mcplib.Description("Review entry identifier"), mcplib.Required()),
			mcplib.WithString("note", mcplib.Description("Resolution note")),
			mcplib.WithString("resolved_by", mcplib.Description("Operator identity")),
		),
		s.handleReviewReject,
	)
}

func (s *Server) handleOpenQueue(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	entries, err := s.reviews.List(ctx, domain.ReviewOpen, openQueueLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: list open review entries: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"entries": entries,
		"count":   len(entries),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal review queue: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      openQueueURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDocument(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id := strings.TrimPrefix(uri, documentURIPrefix)
	if id == "" || id == uri || strings.Contains(id, "/") {
		return nil, fmt.Errorf("mcp: invalid document URI: %s", uri)
	}

	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: get document %s: %w", id, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal document: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReviewList(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := domain.ReviewStatus(request.GetString("status", string(domain.ReviewOpen)))
	switch status {
	case domain.ReviewOpen, domain.ReviewAssigned, domain.ReviewRejected:
	default:
		return errorResult(fmt.Sprintf("unknown status %q, want open, assigned or rejected", status)), nil
	}
	limit := request.GetInt("limit", defaultListLimit)

	entries, err := s.reviews.List(ctx, status, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("list review entries: %v", err)), nil
	}

	resultData, err := json.MarshalIndent(map[string]any{
		"entries": entries,
		"count":   len(entries),
	}, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal entries: %v", err)), nil
	}

	return textResult(string(resultData)), nil
}

func (s *Server) handleReviewAssign(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entryID := request.GetString("entry_id", "")
	employeeID := request.GetString("employee_id", "")
	requestID := request.GetString("request_id", "")
	if entryID == "" || employeeID == "" || requestID == "" {
		return errorResult("entry_id, employee_id and request_id are required"), nil
	}
	note := request.GetString("note", "")
	resolvedBy := request.GetString("resolved_by", "mcp")

	entry, err := s.reviews.Assign(ctx, entryID, employeeID, requestID, note, resolvedBy)
	if err != nil {
		return errorResult(fmt.Sprintf("assign entry %s: %v", entryID, err)), nil
	}

	s.logger.Info("review_entry_assigned",
		"entry_id", entry.ID,
		"document_id", entry.DocumentID,
		"employee_id", employeeID,
		"request_id", requestID,
		"resolved_by", resolvedBy,
	)

	resultData, _ := json.MarshalIndent(entry, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleReviewReject(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entryID := request.GetString("entry_id", "")
	if entryID == "" {
		return errorResult("entry_id is required"), nil
	}
	note := request.GetString("note", "")
	resolvedBy := request.GetString("resolved_by", "mcp")

	entry, err := s.reviews.Reject(ctx, entryID, note, resolvedBy)
	if err != nil {
		return errorResult(fmt.Sprintf("reject entry %s: %v", entryID, err)), nil
	}

	s.logger.Info("review_entry_rejected",
		"entry_id", entry.ID,
		"document_id", entry.DocumentID,
		"resolved_by", resolvedBy,
	)

	resultData, _ := json.MarshalIndent(entry, "", "  ")
	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
