package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	agentsURI = "terrabuild://agents"
	statusURI = "terrabuild://status"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(agentsURI, "Agents",
			mcplib.WithResourceDescription("Registered agents and their task types"),
			mcplib.WithMIMEType("application/json"),
		),
		s.jsonResource(func() any { return s.swarm.Agents() }),
	)
	s.mcpServer.AddResource(
		mcplib.NewResource(statusURI, "Swarm Status",
			mcplib.WithResourceDescription("Task counts per agent and for composite tasks"),
			mcplib.WithMIMEType("application/json"),
		),
		s.jsonResource(func() any { return s.swarm.Status() }),
	)
}

func (s *Server) jsonResource(read func() any) func(context.Context, mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return func(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		if s.swarm == nil {
			return nil, errNoSwarm
		}
		data, err := json.Marshal(read())
		if err != nil {
			return nil, err
		}
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}
