package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JulianRyder01/resonance/internal/agent"
)

// maxBrowseChars caps the content returned by browse_url.
const maxBrowseChars = 8000

// BrowseConfig controls browse_url defaults.
type BrowseConfig struct {
	MaxChars int
}

// BrowseURLTool fetches a URL, strips scripts/navigation chrome, and returns
// the page title plus readable content.
type BrowseURLTool struct {
	config    BrowseConfig
	extractor *ContentExtractor
}

// BrowseURLOption customizes BrowseURLTool construction.
type BrowseURLOption func(*BrowseURLTool)

// WithExtractor overrides the default content extractor (useful for tests).
func WithExtractor(extractor *ContentExtractor) BrowseURLOption {
	return func(tool *BrowseURLTool) {
		if extractor != nil {
			tool.extractor = extractor
		}
	}
}

// NewBrowseURLTool creates the browse_url tool with defaults applied.
func NewBrowseURLTool(config *BrowseConfig, opts ...BrowseURLOption) *BrowseURLTool {
	cfg := BrowseConfig{MaxChars: maxBrowseChars}
	if config != nil && config.MaxChars > 0 {
		cfg.MaxChars = config.MaxChars
	}
	tool := &BrowseURLTool{
		config:    cfg,
		extractor: NewContentExtractor(),
	}
	for _, opt := range opts {
		opt(tool)
	}
	return tool
}

func (t *BrowseURLTool) Name() string { return "browse_url" }

func (t *BrowseURLTool) Description() string {
	return "Fetches a URL and returns its title plus up to 8000 characters of readable content, with scripts and navigation chrome stripped."
}

func (t *BrowseURLTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch (http/https only)",
			},
		},
		"required": []string{"url"},
	}
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return schemaBytes
}

func (t *BrowseURLTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(params, &raw); err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Invalid parameters: %v", err),
			IsError: true,
		}, nil
	}
	url := readStringParam(raw, "url")
	if url == "" {
		return &agent.ToolResult{
			Content: "Missing required parameter: url",
			IsError: true,
		}, nil
	}

	content, err := t.extractor.Extract(ctx, url)
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Network error fetching %s: %v", url, err),
			IsError: true,
		}, nil
	}

	truncated := false
	limit := t.config.MaxChars
	if limit > 0 && len(content) > limit {
		content = content[:limit] + "..."
		truncated = true
	}

	result := map[string]interface{}{
		"url":     url,
		"content": content,
	}
	if truncated {
		result["truncated"] = true
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Failed to format response: %v", err),
			IsError: true,
		}, nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

func readStringParam(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			if str, ok := value.(string); ok {
				return strings.TrimSpace(str)
			}
		}
	}
	return ""
}
