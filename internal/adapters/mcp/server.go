// Package mcp exposes the document read model and on-demand analysis as
// Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/docvault/internal/core/ports"
)

const (
	serverName = "docvault"
	Version    = "0.1.0"
)

// Ports are the inbound services the tools call.
type Ports struct {
	Query    ports.DocumentQueryService
	Analyzer ports.DocumentAnalyzerService
}

func (p Ports) Validate() error {
	if p.Query == nil {
		return errors.New("query service is required")
	}
	if p.Analyzer == nil {
		return errors.New("analyzer service is required")
	}
	return nil
}

type Server struct {
	ports  Ports
	server *server.MCPServer
}

func NewServer(p Ports) (*Server, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		ports:  p,
		server: server.NewMCPServer(serverName, Version, server.WithToolCapabilities(false), server.WithRecovery()),
	}
	s.registerTools()
	return s, nil
}

// ServeStdio blocks until stdin is closed or the process receives a signal.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.server, server.WithStdioContextFunc(func(context.Context) context.Context {
		return ctx
	}))
}
