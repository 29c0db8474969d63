package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JulianRyder01/resonance/internal/agent"
	exectools "github.com/JulianRyder01/resonance/internal/tools/exec"
)

// ManageSkillsTool implements the manage_skills native tool: listing,
// activating, deactivating, and deleting skills. "Active" is session-scoped
// (per Design Notes §9, never a Manager-wide singleton) — activating a
// skill returns its full content so the caller can store it on the
// session/turn context and inject it as the active-skill prompt section on
// the next turn; this tool itself holds no activation state.
type ManageSkillsTool struct {
	manager *Manager
}

// NewManageSkillsTool creates the manage_skills tool bound to manager.
func NewManageSkillsTool(manager *Manager) *ManageSkillsTool {
	return &ManageSkillsTool{manager: manager}
}

func (t *ManageSkillsTool) Name() string { return "manage_skills" }

func (t *ManageSkillsTool) Description() string {
	return "Lists, activates, deactivates, or deletes skills. Activating a skill loads its full instructions into context."
}

func (t *ManageSkillsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["list", "activate", "deactivate", "delete"]},
			"skill_name": {"type": "string", "description": "Required for activate, deactivate, and delete."}
		},
		"required": ["action"]
	}`)
}

func (t *ManageSkillsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Action    string `json:"action"`
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	switch input.Action {
	case "list":
		eligible := t.manager.ListEligible()
		snapshots := make([]*SkillSnapshot, 0, len(eligible))
		for _, s := range eligible {
			snapshots = append(snapshots, s.ToSnapshot())
		}
		payload, _ := json.MarshalIndent(map[string]any{"skills": snapshots}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil

	case "activate":
		if strings.TrimSpace(input.SkillName) == "" {
			return &agent.ToolResult{Content: "skill_name is required for activate", IsError: true}, nil
		}
		skill, ok := t.manager.GetEligible(input.SkillName)
		if !ok {
			return &agent.ToolResult{Content: fmt.Sprintf("skill %q is not eligible or not found", input.SkillName), IsError: true}, nil
		}
		content, err := t.manager.LoadContent(input.SkillName)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("load skill content: %v", err), IsError: true}, nil
		}
		payload, _ := json.MarshalIndent(map[string]any{
			"activated": skill.Name,
			"content":   content,
		}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil

	case "deactivate":
		payload, _ := json.MarshalIndent(map[string]any{"deactivated": input.SkillName}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil

	case "delete":
		if strings.TrimSpace(input.SkillName) == "" {
			return &agent.ToolResult{Content: "skill_name is required for delete", IsError: true}, nil
		}
		deleted, err := t.manager.Delete(ctx, input.SkillName)
		if err != nil {
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		payload, _ := json.MarshalIndent(map[string]any{"deleted": deleted}, "", "  ")
		return &agent.ToolResult{Content: string(payload)}, nil

	default:
		return &agent.ToolResult{Content: fmt.Sprintf("unknown action: %s", input.Action), IsError: true}, nil
	}
}

// LearnNewSkillTool implements the learn_new_skill native tool.
type LearnNewSkillTool struct {
	manager *Manager
}

// NewLearnNewSkillTool creates the learn_new_skill tool bound to manager.
func NewLearnNewSkillTool(manager *Manager) *LearnNewSkillTool {
	return &LearnNewSkillTool{manager: manager}
}

func (t *LearnNewSkillTool) Name() string { return "learn_new_skill" }

func (t *LearnNewSkillTool) Description() string {
	return "Imports a new skill from a git URL or local directory path and registers it."
}

func (t *LearnNewSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url_or_path": {"type": "string", "description": "Git URL or local filesystem path to the skill."}
		},
		"required": ["url_or_path"]
	}`)
}

func (t *LearnNewSkillTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		URLOrPath string `json:"url_or_path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	result, err := t.manager.Learn(ctx, input.URLOrPath)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: result}, nil
}

// SkillToolSpec defines a tool provided by a skill.
type SkillToolSpec struct {
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description" yaml:"description"`
	Schema         map[string]any `json:"schema" yaml:"schema"`
	Command        string         `json:"command" yaml:"command"`
	Script         string         `json:"script" yaml:"script"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds"`
	WorkingDir     string         `json:"cwd" yaml:"cwd"`
}

// BuildSkillTools creates executable tools from a skill definition.
func BuildSkillTools(skill *SkillEntry, execManager *exectools.Manager) []agent.Tool {
	if skill == nil || skill.Metadata == nil || len(skill.Metadata.Tools) == 0 || execManager == nil {
		return nil
	}

	tools := make([]agent.Tool, 0, len(skill.Metadata.Tools))
	for _, spec := range skill.Metadata.Tools {
		if strings.TrimSpace(spec.Name) == "" {
			continue
		}
		tools = append(tools, &skillTool{
			skill:   skill,
			spec:    spec,
			manager: execManager,
		})
	}
	return tools
}

type skillTool struct {
	skill   *SkillEntry
	spec    SkillToolSpec
	manager *exectools.Manager
}

func (t *skillTool) Name() string {
	return t.spec.Name
}

func (t *skillTool) Description() string {
	if t.spec.Description != "" {
		return t.spec.Description
	}
	return "Skill tool: " + t.spec.Name
}

func (t *skillTool) Schema() json.RawMessage {
	if t.spec.Schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	payload, err := json.Marshal(t.spec.Schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *skillTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return &agent.ToolResult{Content: "exec manager unavailable", IsError: true}, nil
	}
	command := strings.TrimSpace(t.spec.Command)
	script := strings.TrimSpace(t.spec.Script)
	if command == "" {
		command = "bash"
	}

	input := string(params)
	if script != "" {
		scriptPath := filepath.Join(t.skill.Path, script)
		content, err := os.ReadFile(scriptPath)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("read script: %v", err), IsError: true}, nil
		}
		input = string(content)
	}

	env := map[string]string{
		"RESONANCE_TOOL_INPUT": string(params),
		"RESONANCE_TOOL_NAME":  t.spec.Name,
	}
	if t.skill != nil {
		env["RESONANCE_SKILL_NAME"] = t.skill.Name
		env["RESONANCE_SKILL_DIR"] = t.skill.Path
	}

	cwd := strings.TrimSpace(t.spec.WorkingDir)
	if cwd == "" {
		cwd = t.skill.Path
	}
	timeout := time.Duration(t.spec.TimeoutSeconds) * time.Second

	result, err := t.manager.RunCommand(ctx, command, cwd, env, input, timeout)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("encode result: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
