package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cebus/internal/providers"
)

var errMissingParameter = errors.New("required tool parameter is missing")

// Permission kinds understood by the approval gate.
const (
	PermissionShell = "shell"
	PermissionWrite = "write"
	PermissionRead  = "read"
	PermissionMCP   = "mcp"
	PermissionURL   = "url"
)

// PermissionForTool maps a tool name to the permission kind its approval
// request carries. Unknown tools fall back to the most restrictive kind.
func PermissionForTool(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "read_file":
		return PermissionRead
	case "write_file":
		return PermissionWrite
	case "run_command":
		return PermissionShell
	case "fetch_url":
		return PermissionURL
	case "mcp_call":
		return PermissionMCP
	default:
		return PermissionWrite
	}
}

type ToolResult struct {
	Output string
	Data   map[string]any
}

type Tool struct {
	Name        string
	Description string
	Execute     func(ctx context.Context, params map[string]any) (ToolResult, error)
}

type ToolSet struct {
	ordered []Tool
	byName  map[string]Tool
}

// ToolEnv carries the per-participant context tools execute in.
type ToolEnv struct {
	WorkingDir string
	AgentID    string
	Emit       func(Event)
}

func NewToolSet(tools ...Tool) ToolSet {
	byName := make(map[string]Tool, len(tools))
	ordered := make([]Tool, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(strings.ToLower(t.Name))
		if name == "" {
			continue
		}
		t.Name = name
		ordered = append(ordered, t)
		byName[name] = t
	}
	return ToolSet{
		ordered: ordered,
		byName:  byName,
	}
}

func (t ToolSet) Get(name string) (Tool, bool) {
	if t.byName == nil {
		return Tool{}, false
	}
	tool, ok := t.byName[strings.ToLower(strings.TrimSpace(name))]
	return tool, ok
}

func (t ToolSet) Names() []string {
	out := make([]string, 0, len(t.ordered))
	for _, tool := range t.ordered {
		out = append(out, tool.Name)
	}
	return out
}

func (t ToolSet) Empty() bool {
	return len(t.ordered) == 0
}

// ProviderTools converts the tool set to provider-compatible definitions with
// a JSON Schema for each tool's parameters.
func (t ToolSet) ProviderTools() []providers.Tool {
	out := make([]providers.Tool, 0, len(t.ordered))
	for _, tool := range t.ordered {
		out = append(out, providers.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: toolInputSchema(tool.Name),
		})
	}
	return out
}

func toolInputSchema(name string) map[string]interface{} {
	switch name {
	case "read_file":
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file within the workspace.",
				},
			},
			"required": []string{"path"},
		}
	case "write_file":
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path to the file within the workspace.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full content to write to the file.",
				},
			},
			"required": []string{"path", "content"},
		}
	case "run_command":
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Shell command to execute in the workspace.",
				},
			},
			"required": []string{"command"},
		}
	case "fetch_url":
		return map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "HTTP or HTTPS URL to fetch.",
				},
			},
			"required": []string{"url"},
		}
	default:
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
}

// DefaultToolSet is the tool surface every model participant gets. Each call
// still passes the approval gate before execution.
func DefaultToolSet(env ToolEnv) ToolSet {
	if strings.TrimSpace(env.WorkingDir) == "" {
		env.WorkingDir = "."
	}
	return NewToolSet(
		newReadFileTool(env),
		newWriteFileTool(env),
		newRunCommandTool(env),
		newFetchURLTool(env),
	)
}

func newReadFileTool(env ToolEnv) Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read UTF-8 text from a file under the current workspace.",
		Execute: func(ctx context.Context, params map[string]any) (ToolResult, error) {
			if err := checkContextCancelled(ctx); err != nil {
				return ToolResult{}, err
			}
			path, err := requiredStringParam(params, "path")
			if err != nil {
				return ToolResult{}, err
			}
			absPath, relPath, err := resolveWorkspacePath(env.WorkingDir, path)
			if err != nil {
				return ToolResult{}, err
			}
			emitToolActivity(env, fmt.Sprintf("reading %s", relPath))

			content, err := os.ReadFile(absPath)
			if err != nil {
				return ToolResult{}, err
			}
			return ToolResult{
				Output: string(content),
				Data:   map[string]any{"path": relPath},
			}, nil
		},
	}
}

func newWriteFileTool(env ToolEnv) Tool {
	return Tool{
		Name:        "write_file",
		Description: "Write full file content to a workspace path.",
		Execute: func(ctx context.Context, params map[string]any) (ToolResult, error) {
			if err := checkContextCancelled(ctx); err != nil {
				return ToolResult{}, err
			}
			path, err := requiredStringParam(params, "path")
			if err != nil {
				return ToolResult{}, err
			}
			content, err := requiredStringParam(params, "content")
			if err != nil {
				return ToolResult{}, err
			}
			absPath, relPath, err := resolveWorkspacePath(env.WorkingDir, path)
			if err != nil {
				return ToolResult{}, err
			}
			emitToolActivity(env, fmt.Sprintf("writing %s", relPath))

			if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
				return ToolResult{}, err
			}
			if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
				return ToolResult{}, err
			}
			return ToolResult{
				Output: "ok",
				Data:   map[string]any{"path": relPath},
			}, nil
		},
	}
}

func newRunCommandTool(env ToolEnv) Tool {
	return Tool{
		Name:        "run_command",
		Description: "Run a shell command in the workspace.",
		Execute: func(ctx context.Context, params map[string]any) (ToolResult, error) {
			if err := checkContextCancelled(ctx); err != nil {
				return ToolResult{}, err
			}
			command, err := requiredStringParam(params, "command")
			if err != nil {
				return ToolResult{}, err
			}
			emitToolActivity(env, fmt.Sprintf("running %s", command))

			cmd := exec.CommandContext(ctx, "bash", "-lc", command)
			cmd.Dir = effectiveWorkingDir(env.WorkingDir)
			out, err := cmd.CombinedOutput()
			output := strings.TrimSpace(string(out))
			if err != nil {
				err = normalizeCancellationErr(err)
				if IsUserCancelled(err) {
					return ToolResult{}, err
				}
				if output == "" {
					return ToolResult{}, err
				}
				return ToolResult{}, fmt.Errorf("%w: %s", err, output)
			}
			return ToolResult{
				Output: output,
				Data:   map[string]any{"command": command},
			}, nil
		},
	}
}

const fetchURLMaxBytes = 512 * 1024

func newFetchURLTool(env ToolEnv) Tool {
	return Tool{
		Name:        "fetch_url",
		Description: "Fetch the body of an HTTP or HTTPS URL.",
		Execute: func(ctx context.Context, params map[string]any) (ToolResult, error) {
			if err := checkContextCancelled(ctx); err != nil {
				return ToolResult{}, err
			}
			rawURL, err := requiredStringParam(params, "url")
			if err != nil {
				return ToolResult{}, err
			}
			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				return ToolResult{}, fmt.Errorf("fetch_url only supports http and https URLs")
			}
			emitToolActivity(env, fmt.Sprintf("fetching %s", rawURL))

			req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
			if err != nil {
				return ToolResult{}, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return ToolResult{}, normalizeCancellationErr(err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchURLMaxBytes))
			if err != nil {
				return ToolResult{}, err
			}
			return ToolResult{
				Output: string(body),
				Data:   map[string]any{"url": rawURL, "status": resp.StatusCode},
			}, nil
		},
	}
}

func requiredStringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", errMissingParameter, key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s", errMissingParameter, key)
	}
	return value, nil
}

func effectiveWorkingDir(workingDir string) string {
	workingDir = strings.TrimSpace(workingDir)
	if workingDir == "" {
		return "."
	}
	return workingDir
}

func resolveWorkspacePath(root, path string) (absPath string, relPath string, err error) {
	rootAbs, err := filepath.Abs(effectiveWorkingDir(root))
	if err != nil {
		return "", "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", "", errors.New("path is empty")
	}

	var targetAbs string
	if filepath.IsAbs(path) {
		targetAbs = filepath.Clean(path)
	} else {
		targetAbs = filepath.Clean(filepath.Join(rootAbs, path))
	}

	relToRoot, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", "", err
	}
	relToRoot = filepath.Clean(relToRoot)
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", "", errors.New("path escapes workspace root")
	}
	return targetAbs, filepath.ToSlash(relToRoot), nil
}

func emitToolActivity(env ToolEnv, detail string) {
	if env.Emit == nil {
		return
	}
	env.Emit(Event{
		Kind:    EventActivity,
		AgentID: env.AgentID,
		Detail:  strings.TrimSpace(detail),
	})
}
