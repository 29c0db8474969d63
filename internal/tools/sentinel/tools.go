// Package sentinel exposes the Sentinel Engine's watcher registrations as
// agent tools: add_time_sentinel, add_file_sentinel, add_behavior_sentinel,
// list_active_sentinels, and remove_sentinel.
package sentinel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JulianRyder01/resonance/internal/agent"
	sentinelpkg "github.com/JulianRyder01/resonance/internal/sentinel"
)

// AddTimeSentinelTool registers a recurring time-based sentinel.
type AddTimeSentinelTool struct {
	engine *sentinelpkg.Engine
}

func NewAddTimeSentinelTool(engine *sentinelpkg.Engine) *AddTimeSentinelTool {
	return &AddTimeSentinelTool{engine: engine}
}

func (t *AddTimeSentinelTool) Name() string { return "add_time_sentinel" }

func (t *AddTimeSentinelTool) Description() string {
	return "Registers a sentinel that fires on a recurring interval (e.g. every 30 minutes)."
}

func (t *AddTimeSentinelTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"interval":    map[string]interface{}{"type": "integer", "description": "How often to fire, in units of `unit`."},
			"unit":        map[string]interface{}{"type": "string", "enum": []string{"seconds", "minutes", "hours", "days"}},
			"description": map[string]interface{}{"type": "string", "description": "What this sentinel is for."},
		},
		"required": []string{"interval", "unit", "description"},
	})
}

func (t *AddTimeSentinelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Interval    int    `json:"interval"`
		Unit        string `json:"unit"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	id, err := t.engine.AddTimeSentinel(input.Interval, input.Unit, input.Description)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"id": id, "kind": "time"}), nil
}

// AddFileSentinelTool registers a sentinel watching a path for changes.
type AddFileSentinelTool struct {
	engine *sentinelpkg.Engine
}

func NewAddFileSentinelTool(engine *sentinelpkg.Engine) *AddFileSentinelTool {
	return &AddFileSentinelTool{engine: engine}
}

func (t *AddFileSentinelTool) Name() string { return "add_file_sentinel" }

func (t *AddFileSentinelTool) Description() string {
	return "Registers a sentinel that fires when a file or its containing directory changes."
}

func (t *AddFileSentinelTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":        map[string]interface{}{"type": "string", "description": "File or directory to watch."},
			"description": map[string]interface{}{"type": "string", "description": "What this sentinel is for."},
		},
		"required": []string{"path", "description"},
	})
}

func (t *AddFileSentinelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path        string `json:"path"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	id, err := t.engine.AddFileSentinel(input.Path, input.Description)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"id": id, "kind": "file"}), nil
}

// AddBehaviorSentinelTool registers a sentinel triggered by a hotkey combo.
type AddBehaviorSentinelTool struct {
	engine *sentinelpkg.Engine
}

func NewAddBehaviorSentinelTool(engine *sentinelpkg.Engine) *AddBehaviorSentinelTool {
	return &AddBehaviorSentinelTool{engine: engine}
}

func (t *AddBehaviorSentinelTool) Name() string { return "add_behavior_sentinel" }

func (t *AddBehaviorSentinelTool) Description() string {
	return "Registers a sentinel that fires when a hotkey combination is pressed."
}

func (t *AddBehaviorSentinelTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key_combo":   map[string]interface{}{"type": "string", "description": "e.g. ctrl+shift+r"},
			"description": map[string]interface{}{"type": "string", "description": "What this sentinel is for."},
		},
		"required": []string{"key_combo", "description"},
	})
}

func (t *AddBehaviorSentinelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		KeyCombo    string `json:"key_combo"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	id, err := t.engine.AddBehaviorSentinel(input.KeyCombo, input.Description)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"id": id, "kind": "behavior"}), nil
}

// ListActiveSentinelsTool lists every registered sentinel.
type ListActiveSentinelsTool struct {
	engine *sentinelpkg.Engine
}

func NewListActiveSentinelsTool(engine *sentinelpkg.Engine) *ListActiveSentinelsTool {
	return &ListActiveSentinelsTool{engine: engine}
}

func (t *ListActiveSentinelsTool) Name() string { return "list_active_sentinels" }

func (t *ListActiveSentinelsTool) Description() string {
	return "Lists every currently registered time, file, and behavior sentinel."
}

func (t *ListActiveSentinelsTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	})
}

func (t *ListActiveSentinelsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	state := t.engine.ListSentinels()
	return jsonResult(map[string]interface{}{
		"time":     state.Time,
		"file":     state.File,
		"behavior": state.Behavior,
	}), nil
}

// RemoveSentinelTool removes a sentinel by kind and ID.
type RemoveSentinelTool struct {
	engine *sentinelpkg.Engine
}

func NewRemoveSentinelTool(engine *sentinelpkg.Engine) *RemoveSentinelTool {
	return &RemoveSentinelTool{engine: engine}
}

func (t *RemoveSentinelTool) Name() string { return "remove_sentinel" }

func (t *RemoveSentinelTool) Description() string {
	return "Removes a previously registered sentinel by kind and ID."
}

func (t *RemoveSentinelTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind": map[string]interface{}{"type": "string", "enum": []string{"time", "file", "behavior"}},
			"id":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"kind", "id"},
	})
}

func (t *RemoveSentinelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	removed, err := t.engine.RemoveSentinel(sentinelpkg.Kind(input.Kind), input.ID)
	if err != nil {
		return toolError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{"removed": removed}), nil
}

func mustSchema(schema map[string]interface{}) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}
