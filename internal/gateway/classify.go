package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Classification is the permission key and human-readable description a
// tool call maps to.
type Classification struct {
	PermissionKey string
	Description   string
}

// Classify maps a tool name and its raw JSON params to a permission key and
// description, following the fixed rule table in spec.md §4.2. Unknown
// tools fall back to the wildcard key "*".
func Classify(toolName string, params json.RawMessage) Classification {
	var obj map[string]any
	_ = json.Unmarshal(params, &obj)

	str := func(key string) string {
		if v, ok := obj[key].(string); ok {
			return v
		}
		return "<unknown>"
	}

	switch toolName {
	case "write", "edit":
		return Classification{"file_write", fmt.Sprintf("%s %s", toolName, str("path"))}
	case "read", "list", "grep", "glob":
		return Classification{"file_read", fmt.Sprintf("%s %s", toolName, str("path"))}
	case "webfetch", "websearch":
		return Classification{"network", fmt.Sprintf("%s request", toolName)}
	case "shell", "bash":
		return Classification{"shell_execute", fmt.Sprintf("shell %s", str("command"))}
	case "git":
		op := str("operation")
		if op == "commit" {
			return Classification{"git_commit", "git commit"}
		}
		return Classification{"git", fmt.Sprintf("git %s", op)}
	case "fs":
		op := str("operation")
		path := str("path")
		switch op {
		case "delete":
			return Classification{"file_delete", fmt.Sprintf("delete %s", path)}
		case "write", "create":
			return Classification{"file_write", fmt.Sprintf("%s %s", op, path)}
		default:
			return Classification{"file_read", fmt.Sprintf("%s %s", op, path)}
		}
	default:
		if strings.HasPrefix(toolName, "ndc_task_") {
			return Classification{"task_manage", fmt.Sprintf("manage task via %s", toolName)}
		}
		if strings.HasPrefix(toolName, "ndc_memory_") {
			return Classification{"task_manage", fmt.Sprintf("query memory via %s", toolName)}
		}
		return Classification{"*", fmt.Sprintf("tool %s", toolName)}
	}
}

// InjectWorkingDir adds "working_dir" to params iff the tool is shell or fs
// and the parameter was absent, returning the (possibly unchanged) params.
func InjectWorkingDir(toolName string, params json.RawMessage, workDir string) json.RawMessage {
	if toolName != "shell" && toolName != "bash" && toolName != "fs" {
		return params
	}
	if workDir == "" {
		return params
	}

	var obj map[string]any
	if err := json.Unmarshal(params, &obj); err != nil {
		return params
	}
	if obj == nil {
		obj = map[string]any{}
	}
	if _, ok := obj["working_dir"]; ok {
		return params
	}
	obj["working_dir"] = workDir

	out, err := json.Marshal(obj)
	if err != nil {
		return params
	}
	return out
}
