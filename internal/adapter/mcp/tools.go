package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bsvalues/TerraBuild-sub001/internal/domain/task"
	"github.com/bsvalues/TerraBuild-sub001/internal/service"
)

var errNoSwarm = errors.New("swarm not configured")

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listAgentsTool(),
		s.runTaskTool(),
		s.runCompositeTaskTool(),
		s.getTaskTool(),
		s.getSwarmStatusTool(),
	)
}

func (s *Server) listAgentsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_agents",
		mcplib.WithDescription("List the registered agents and the task types each accepts"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListAgents}
}

func (s *Server) runTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("run_task",
		mcplib.WithDescription("Run one task on an agent and wait for its result"),
		mcplib.WithString("agent_id", mcplib.Required(), mcplib.Description("Agent to run the task on, e.g. curve")),
		mcplib.WithString("task_type", mcplib.Required(), mcplib.Description("Task type, e.g. train_curve")),
		mcplib.WithObject("task_data", mcplib.Required(), mcplib.Description("Task payload")),
		mcplib.WithString("priority", mcplib.Description("low, normal or high")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRunTask}
}

func (s *Server) runCompositeTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("run_composite_task",
		mcplib.WithDescription("Fan a request out to several agents and wait for all results"),
		mcplib.WithString("description", mcplib.Description("What the composite task is for")),
		mcplib.WithObject("agent_tasks", mcplib.Required(),
			mcplib.Description(`Map of agent id to {"type": ..., "data": {...}, "priority": ...}`)),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRunCompositeTask}
}

func (s *Server) getTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task",
		mcplib.WithDescription("Get the state of a task by agent and task id"),
		mcplib.WithString("agent_id", mcplib.Required(), mcplib.Description("Owning agent")),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("Task id")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTask}
}

func (s *Server) getSwarmStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_swarm_status",
		mcplib.WithDescription("Get task counts per agent and for composite tasks"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetSwarmStatus}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}

// rawArg re-encodes an object argument; a JSON string is passed through.
func rawArg(v any) (json.RawMessage, error) {
	if str, ok := v.(string); ok {
		if !json.Valid([]byte(str)) {
			return nil, errors.New("not valid JSON")
		}
		return json.RawMessage(str), nil
	}
	return json.Marshal(v)
}

func (s *Server) handleListAgents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.swarm == nil {
		return mcplib.NewToolResultError(errNoSwarm.Error()), nil
	}
	return jsonResult(s.swarm.Agents()), nil
}

func (s *Server) handleRunTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.swarm == nil {
		return mcplib.NewToolResultError(errNoSwarm.Error()), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	taskType, err := req.RequireString("task_type")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	data, ok := req.GetArguments()["task_data"]
	if !ok {
		return mcplib.NewToolResultError("task_data is required"), nil
	}
	raw, err := rawArg(data)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid task_data", err), nil
	}

	res, err := s.swarm.RunTaskJSON(ctx, agentID, task.Type(taskType), raw, req.GetString("priority", ""))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("task failed", err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) handleRunCompositeTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.swarm == nil {
		return mcplib.NewToolResultError(errNoSwarm.Error()), nil
	}
	arg, ok := req.GetArguments()["agent_tasks"]
	if !ok {
		return mcplib.NewToolResultError("agent_tasks is required"), nil
	}
	raw, err := rawArg(arg)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid agent_tasks", err), nil
	}
	var reqs map[string]service.SubtaskRequest
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid agent_tasks", err), nil
	}
	if len(reqs) == 0 {
		return mcplib.NewToolResultError("agent_tasks must name at least one agent"), nil
	}

	res, err := s.swarm.RunCompositeTask(ctx, req.GetString("description", ""), reqs)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("composite task failed", err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) handleGetTask(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.swarm == nil {
		return mcplib.NewToolResultError(errNoSwarm.Error()), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	t, err := s.swarm.GetTask(agentID, taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("task %s", taskID), err), nil
	}
	return jsonResult(t), nil
}

func (s *Server) handleGetSwarmStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.swarm == nil {
		return mcplib.NewToolResultError(errNoSwarm.Error()), nil
	}
	return jsonResult(s.swarm.Status()), nil
}
