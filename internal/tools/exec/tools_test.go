package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestExecuteShellCommandToolRunsCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecuteShellCommandTool(mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "echo hello",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected output in result: %s", result.Content)
	}
}

func TestExecuteShellCommandToolCombinesStderr(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecuteShellCommandTool(mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "echo out && echo err 1>&2",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "out") || !strings.Contains(result.Content, "err") {
		t.Fatalf("expected combined stdout/stderr in result: %s", result.Content)
	}
}

func TestExecuteShellCommandToolRequiresCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecuteShellCommandTool(mgr)
	params, _ := json.Marshal(map[string]interface{}{"command": "  "})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error for empty command")
	}
}
