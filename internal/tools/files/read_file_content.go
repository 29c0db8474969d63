// Package files implements the read-only filesystem tools exposed by the
// Tool Dispatcher: read_file_content, list_directory_files, and
// search_files_by_keyword.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/JulianRyder01/resonance/internal/agent"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace string
}

const maxReadFileBytes = 50 * 1024

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
	".db": true, ".sqlite": true, ".class": true, ".o": true, ".a": true,
}

var ignoredDirNames = map[string]bool{
	".git": true, ".hg": true, ".svn": true, "node_modules": true, "__pycache__": true,
	".cache": true, ".venv": true, "venv": true, "dist": true, "build": true,
	".next": true, "target": true, ".idea": true, ".vscode": true,
}

// ReadFileContentTool reads up to 50 KB of a text file, declining binary
// extensions with a warning.
type ReadFileContentTool struct {
	resolver Resolver
}

// NewReadFileContentTool creates the read_file_content tool scoped to the workspace.
func NewReadFileContentTool(cfg Config) *ReadFileContentTool {
	return &ReadFileContentTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ReadFileContentTool) Name() string { return "read_file_content" }

func (t *ReadFileContentTool) Description() string {
	return "Reads up to 50 KB of a text file's content; declines binary extensions."
}

func (t *ReadFileContentTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file (relative to workspace, or absolute).",
			},
		},
		"required": []string{"path"},
	})
}

func (t *ReadFileContentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if binaryExtensions[strings.ToLower(filepath.Ext(input.Path))] {
		return toolError(fmt.Sprintf("declining to read binary file: %s", input.Path)), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	buf, err := io.ReadAll(io.LimitReader(file, maxReadFileBytes+1))
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := len(buf) > maxReadFileBytes
	if truncated {
		buf = buf[:maxReadFileBytes]
	}

	content := string(buf)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}

	return jsonResult(map[string]interface{}{
		"path":      input.Path,
		"content":   content,
		"bytes":     len(buf),
		"truncated": truncated,
	}), nil
}

// ListDirectoryFilesTool renders a capped tree of a directory.
type ListDirectoryFilesTool struct {
	resolver Resolver
}

// NewListDirectoryFilesTool creates the list_directory_files tool.
func NewListDirectoryFilesTool(cfg Config) *ListDirectoryFilesTool {
	return &ListDirectoryFilesTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ListDirectoryFilesTool) Name() string { return "list_directory_files" }

func (t *ListDirectoryFilesTool) Description() string {
	return "Renders a tree of a directory's contents, ignoring VCS/cache/media directories, capped at 150 entries."
}

func (t *ListDirectoryFilesTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path (relative to workspace, or absolute).",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether to descend into subdirectories (default true).",
			},
			"depth": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum descent depth when recursive (default 2).",
			},
		},
		"required": []string{"path"},
	})
}

const maxDirectoryEntries = 150

func (t *ListDirectoryFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input := struct {
		Path      string `json:"path"`
		Recursive *bool  `json:"recursive"`
		Depth     int    `json:"depth"`
	}{Depth: 2}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	recursive := true
	if input.Recursive != nil {
		recursive = *input.Recursive
	}
	if input.Depth <= 0 {
		input.Depth = 2
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var lines []string
	count := 0
	truncated := false
	var walk func(dir string, prefix string, depth int)
	walk = func(dir, prefix string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if count >= maxDirectoryEntries {
				truncated = true
				return
			}
			if e.IsDir() && ignoredDirNames[e.Name()] {
				continue
			}
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			lines = append(lines, prefix+name)
			count++
			if e.IsDir() && recursive && depth < input.Depth {
				walk(filepath.Join(dir, e.Name()), prefix+"  ", depth+1)
			}
		}
	}
	walk(resolved, "", 1)

	return jsonResult(map[string]interface{}{
		"path":      input.Path,
		"tree":      strings.Join(lines, "\n"),
		"count":     count,
		"truncated": truncated,
	}), nil
}

// SearchFilesByKeywordTool scans text files under a path for a keyword.
type SearchFilesByKeywordTool struct {
	resolver Resolver
}

// NewSearchFilesByKeywordTool creates the search_files_by_keyword tool.
func NewSearchFilesByKeywordTool(cfg Config) *SearchFilesByKeywordTool {
	return &SearchFilesByKeywordTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *SearchFilesByKeywordTool) Name() string { return "search_files_by_keyword" }

func (t *SearchFilesByKeywordTool) Description() string {
	return "Scans up to 50 text files under path for a case-insensitive keyword match."
}

func (t *SearchFilesByKeywordTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Directory to scan."},
			"keyword": map[string]interface{}{"type": "string", "description": "Keyword to search for."},
		},
		"required": []string{"path", "keyword"},
	})
}

const maxSearchFiles = 50

func (t *SearchFilesByKeywordTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Keyword string `json:"keyword"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" || strings.TrimSpace(input.Keyword) == "" {
		return toolError("path and keyword are required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	needle := strings.ToLower(input.Keyword)
	type hit struct {
		Path  string `json:"path"`
		Lines []int  `json:"lines"`
	}
	var hits []hit
	scanned := 0

	_ = filepath.Walk(resolved, func(path string, info os.FileInfo, err error) error {
		if err != nil || scanned >= maxSearchFiles {
			return nil
		}
		if info.IsDir() {
			if ignoredDirNames[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if binaryExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		scanned++
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var matchLines []int
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				matchLines = append(matchLines, i+1)
			}
		}
		if len(matchLines) > 0 {
			rel, relErr := filepath.Rel(resolved, path)
			if relErr != nil {
				rel = path
			}
			hits = append(hits, hit{Path: rel, Lines: matchLines})
		}
		return nil
	})

	return jsonResult(map[string]interface{}{
		"path":          input.Path,
		"keyword":       input.Keyword,
		"files_scanned": scanned,
		"matches":       hits,
	}), nil
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
