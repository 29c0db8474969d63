// Package profile implements the remember_user_fact native tool, writing
// into the user-profile YAML blob that feeds the Orchestrator's identity
// prompt section.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JulianRyder01/resonance/internal/agent"
	"github.com/JulianRyder01/resonance/internal/config"
)

// RememberUserFactTool persists a single key/value fact about the user.
type RememberUserFactTool struct {
	profilePath string
	onUpdated   func(*config.UserConfig)
}

// NewRememberUserFactTool creates the tool, writing to profilePath. If
// onUpdated is non-nil it is called with the refreshed profile after every
// successful write, so the Orchestrator can rebuild its identity prompt
// section on the next turn.
func NewRememberUserFactTool(profilePath string, onUpdated func(*config.UserConfig)) *RememberUserFactTool {
	return &RememberUserFactTool{profilePath: profilePath, onUpdated: onUpdated}
}

func (t *RememberUserFactTool) Name() string { return "remember_user_fact" }

func (t *RememberUserFactTool) Description() string {
	return "Saves a fact about the user or system to long-term configuration (e.g. name, ssh_key_path)."
}

func (t *RememberUserFactTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Category, e.g. 'name' or 'ssh_key_path'."},
			"value": {"type": "string", "description": "The information to save."}
		},
		"required": ["key", "value"]
	}`)
}

func (t *RememberUserFactTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Key) == "" {
		return &agent.ToolResult{Content: "key is required", IsError: true}, nil
	}

	profile, err := config.RememberFact(t.profilePath, input.Key, input.Value)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("error saving fact: %v", err), IsError: true}, nil
	}

	if t.onUpdated != nil {
		t.onUpdated(profile)
	}

	return &agent.ToolResult{Content: fmt.Sprintf("memory updated: %s = %s", input.Key, input.Value)}, nil
}
