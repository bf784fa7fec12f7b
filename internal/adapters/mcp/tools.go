package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List documents, newest first. Optionally filter by category or return only the most recent ones."),
		mcp.WithString("category", mcp.Description("one of: "+strings.Join(domain.CategoryNames, ", "))),
		mcp.WithNumber("limit", mcp.Description("return only the N most recent documents")),
	), s.handleListDocuments)

	s.server.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Get one document with its analysis result."),
		mcp.WithString("id", mcp.Required(), mcp.Description("document id")),
	), s.handleGetDocument)

	s.server.AddTool(mcp.NewTool("analyze_document",
		mcp.WithDescription("Run AI analysis on a document and return the result."),
		mcp.WithString("id", mcp.Required(), mcp.Description("document id")),
		mcp.WithBoolean("force", mcp.Description("restart an analysis that is stuck in processing")),
	), s.handleAnalyzeDocument)

	s.server.AddTool(mcp.NewTool("document_statistics",
		mcp.WithDescription("Document totals, documents processed today, pending analyses and per-category counts."),
	), s.handleStatistics)

	s.server.AddTool(mcp.NewTool("processing_queue",
		mcp.WithDescription("List analysis queue entries, oldest first."),
	), s.handleQueue)

	s.server.AddTool(mcp.NewTool("list_categories",
		mcp.WithDescription("List document categories with their display icon and color."),
	), s.handleCategories)
}

func (s *Server) handleListDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := strings.TrimSpace(req.GetString("category", ""))
	limit := req.GetInt("limit", 0)

	var (
		docs []domain.Document
		err  error
	)
	switch {
	case category != "":
		docs, err = s.ports.Query.ListByCategory(ctx, category)
	case limit > 0:
		docs, err = s.ports.Query.ListRecent(ctx, limit)
	default:
		docs, err = s.ports.Query.List(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return jsonResult(docs)
}

func (s *Server) handleGetDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.ports.Query.GetByID(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc)
}

func (s *Server) handleAnalyzeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.ports.Analyzer.Analyze(ctx, id, ports.AnalyzeOptions{Force: req.GetBool("force", false)})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleStatistics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.ports.Query.Statistics(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func (s *Server) handleQueue(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.ports.Query.QueueEntries(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if entries == nil {
		entries = []domain.QueueEntry{}
	}
	return jsonResult(entries)
}

func (s *Server) handleCategories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	categories, err := s.ports.Query.ListCategories(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(categories)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(raw)), nil
}
