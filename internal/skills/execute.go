package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	argsafety "github.com/JulianRyder01/resonance/internal/exec"
	exectools "github.com/JulianRyder01/resonance/internal/tools/exec"
)

// skillExecuteTimeout bounds a single execute() run, matching the 240s
// subprocess timeout of the Python original's execute_skill.
const skillExecuteTimeout = 240 * time.Second

// entryPointCandidates are checked, in order, inside a skill's directory to
// find its runnable entry point.
var entryPointCandidates = []string{"run.sh", "main.py", "main.sh", "index.js", "main.js"}

// LearnedSkillsDir returns the directory new skills are learned into,
// mirroring the Python original's configurable skill_storage_path.
func (m *Manager) learnedSkillsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".resonance", "skills")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create skills directory: %w", err)
	}
	return dir, nil
}

// Learn imports a new skill from a git URL or local filesystem path,
// copying (or cloning) it into the learned-skills directory and
// re-running discovery so it becomes visible immediately. Grounded on
// original_source/backend/core/skill_manager.py's learn_skill.
func (m *Manager) Learn(ctx context.Context, urlOrPath string) (string, error) {
	urlOrPath = strings.TrimSpace(urlOrPath)
	if urlOrPath == "" {
		return "", fmt.Errorf("url_or_path is required")
	}

	root, err := m.learnedSkillsDir()
	if err != nil {
		return "", err
	}

	name := generateSkillName(urlOrPath)
	target := filepath.Join(root, name)

	if strings.HasPrefix(urlOrPath, "http://") || strings.HasPrefix(urlOrPath, "https://") {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("skill %q already exists; delete it first to update", name)
		}
		if _, err := exec.LookPath("git"); err != nil {
			return "", fmt.Errorf("git is not installed")
		}
		// urlOrPath reaches git's argv directly; reject control characters
		// and shell metacharacters before it does.
		cloneURL, err := argsafety.SanitizeArgument(urlOrPath)
		if err != nil {
			return "", fmt.Errorf("unsafe skill source %q: %w", urlOrPath, err)
		}
		cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", cloneURL, target)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(out)))
		}
	} else {
		info, err := os.Stat(urlOrPath)
		if err != nil {
			return "", fmt.Errorf("source path %q does not exist", urlOrPath)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("source path %q is not a directory", urlOrPath)
		}
		absSrc, _ := filepath.Abs(urlOrPath)
		absDst, _ := filepath.Abs(target)
		if absSrc != absDst {
			if err := os.RemoveAll(target); err != nil {
				return "", fmt.Errorf("clear existing skill directory: %w", err)
			}
			if err := copyDirSkipping(urlOrPath, target, map[string]bool{".git": true, "__pycache__": true, "venv": true}); err != nil {
				return "", fmt.Errorf("copy skill: %w", err)
			}
		}
	}

	if _, err := os.Stat(filepath.Join(target, SkillFilename)); err != nil {
		return "", fmt.Errorf("%s not found in learned skill; expected at %s", SkillFilename, filepath.Join(target, SkillFilename))
	}

	if err := m.Discover(ctx); err != nil {
		return "", fmt.Errorf("discover after learn: %w", err)
	}

	return fmt.Sprintf("learned skill %q into %s", name, target), nil
}

// Delete removes a learned skill's directory and drops it from the
// in-memory registry. Grounded on skill_manager.py's delete_skill.
// Only skills rooted under the learned-skills directory may be deleted;
// bundled/workspace skills are read-only from this operation.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	skill, ok := m.GetSkill(name)
	if !ok {
		return false, nil
	}

	root, err := m.learnedSkillsDir()
	if err != nil {
		return false, err
	}
	absRoot, _ := filepath.Abs(root)
	absPath, _ := filepath.Abs(skill.Path)
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return false, fmt.Errorf("skill %q is not a learned skill and cannot be deleted", name)
	}

	if err := os.RemoveAll(skill.Path); err != nil {
		return false, fmt.Errorf("remove skill directory: %w", err)
	}

	return true, m.Discover(ctx)
}

// Execute runs a skill's entry-point script with args flattened to
// `--key value` command-line flags, combining stdout/stderr into one
// stream. Grounded on skill_manager.py's execute_skill (PYTHONUNBUFFERED
// output, 240s timeout, flattened args); the Go idiom replaces Python's
// subprocess.Popen + communicate(timeout=...) with exec.CommandContext's
// own deadline propagation via execMgr.
func (m *Manager) Execute(ctx context.Context, execMgr *exectools.Manager, name string, args map[string]any) (string, error) {
	skill, ok := m.GetSkill(name)
	if !ok {
		return "", fmt.Errorf("skill %q not loaded", name)
	}

	entry, err := findEntryPoint(skill.Path)
	if err != nil {
		return "", err
	}

	command := buildEntryCommand(entry, args)
	env := map[string]string{"PYTHONUNBUFFERED": "1"}

	result, err := execMgr.RunCommand(ctx, command, skill.Path, env, "", skillExecuteTimeout)
	if err != nil {
		return "", err
	}
	if result.TimedOut {
		return "", fmt.Errorf("skill %q execution timed out after %s", name, skillExecuteTimeout)
	}

	output := strings.TrimSpace(result.Output)
	if output == "" {
		return "skill executed successfully (no output)", nil
	}
	return fmt.Sprintf("[Output]:\n%s", output), nil
}

func findEntryPoint(skillDir string) (string, error) {
	for _, candidate := range entryPointCandidates {
		path := filepath.Join(skillDir, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no entry point found (expected one of %v) in %s", entryPointCandidates, skillDir)
}

func buildEntryCommand(entry string, args map[string]any) string {
	runner := entryRunner(entry)
	parts := []string{shellQuote(runner), shellQuote(entry)}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := args[k]
		parts = append(parts, shellQuote("--"+k))
		parts = append(parts, shellQuote(stringifyArg(v)))
	}
	return strings.Join(parts, " ")
}

func entryRunner(entry string) string {
	switch filepath.Ext(entry) {
	case ".py":
		return "python3"
	case ".js":
		return "node"
	case ".sh":
		return "bash"
	default:
		return "bash"
	}
}

func stringifyArg(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func generateSkillName(urlOrPath string) string {
	if strings.HasPrefix(urlOrPath, "http://") || strings.HasPrefix(urlOrPath, "https://") {
		trimmed := strings.TrimSuffix(strings.TrimRight(urlOrPath, "/"), ".git")
		segments := strings.Split(trimmed, "/")
		base := segments[len(segments)-1]
		return strings.ToLower(sanitizeName(base))
	}
	base := filepath.Base(filepath.Clean(urlOrPath))
	return strings.ToLower(sanitizeName(base))
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' {
			return '_'
		}
		return r
	}, s)
}

func copyDirSkipping(src, dst string, skip map[string]bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if skip[info.Name()] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
