package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JulianRyder01/resonance/internal/agent"
	"github.com/JulianRyder01/resonance/internal/tools/security"
)

// ExecuteShellCommandTool runs a shell command in the workspace, combining
// stdout and stderr, capped at 120s by default. There is no deny-list or
// approval gate here: dangerous-token analysis is advisory only, logged so
// an operator reviewing the session transcript can see what ran.
type ExecuteShellCommandTool struct {
	manager *Manager
	logger  *slog.Logger
}

// NewExecuteShellCommandTool creates the execute_shell_command tool.
func NewExecuteShellCommandTool(manager *Manager) *ExecuteShellCommandTool {
	return &ExecuteShellCommandTool{manager: manager, logger: slog.Default().With("tool", "execute_shell_command")}
}

func (t *ExecuteShellCommandTool) Name() string { return "execute_shell_command" }

func (t *ExecuteShellCommandTool) Description() string {
	return "Runs a shell command in the workspace and returns combined stdout/stderr. Defaults to a 120s timeout."
}

func (t *ExecuteShellCommandTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *ExecuteShellCommandTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("exec manager unavailable"), nil
	}
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	if analysis := security.AnalyzeCommandQuoteAware(command); !analysis.IsSafe {
		t.logger.Warn("dangerous shell tokens detected",
			"command", command,
			"tokens", analysis.DangerousTokens,
			"reason", analysis.Reason)
	}

	result, err := t.manager.RunCommand(ctx, command, "", nil, "", defaultTimeout)
	if err != nil {
		return toolError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
