// Package mcp exposes the swarm to MCP clients: tools to list agents, run
// single and composite tasks and read status, plus read-only resources.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/service"
)

// Swarm is the part of the runner the MCP tools drive.
type Swarm interface {
	Agents() []task.AgentInfo
	Status() service.SwarmStatus
	RunTaskJSON(ctx context.Context, agentID string, taskType task.Type, raw json.RawMessage, priority string) (any, error)
	RunCompositeTask(ctx context.Context, description string, reqs map[string]service.SubtaskRequest) (map[string]any, error)
	GetTask(agentID, taskID string) (task.Task, error)
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// Server serves the MCP protocol over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	swarm     Swarm
	mcpServer *mcpserver.MCPServer

	mu   sync.Mutex
	http *http.Server
	done chan struct{}
}

// NewServer creates the MCP server and registers its tools and resources.
// A nil swarm yields tools that report an error result.
func NewServer(cfg ServerConfig, s Swarm) *Server {
	srv := &Server{
		cfg:   cfg,
		swarm: s,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	srv.registerTools()
	srv.registerResources()
	return srv
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("mcp server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server error", "error", err)
		}
	}(s.http, s.done)

	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the HTTP listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.http, s.done
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	slog.Info("mcp server stopped")
	return err
}
