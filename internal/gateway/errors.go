package gateway

import "fmt"

// AgentError is the taxonomy of errors the runner distinguishes when
// deciding whether to swallow a failure into a tool result or surface it as
// a turn-level failure (spec.md §7).
type AgentError struct {
	Kind    AgentErrorKind
	Message string
}

// AgentErrorKind enumerates the taxonomy.
type AgentErrorKind string

const (
	ErrLlmError         AgentErrorKind = "llm_error"
	ErrToolError         AgentErrorKind = "tool_error"
	ErrPermissionDenied  AgentErrorKind = "permission_denied"
	ErrStorageError      AgentErrorKind = "storage_error"
	ErrExecutionError    AgentErrorKind = "execution_error"
)

func (e *AgentError) Error() string {
	return e.Message
}

// NewPermissionDenied constructs a PermissionDenied AgentError.
func NewPermissionDenied(format string, args ...any) *AgentError {
	return &AgentError{Kind: ErrPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// NewToolError constructs a ToolError AgentError.
func NewToolError(format string, args ...any) *AgentError {
	return &AgentError{Kind: ErrToolError, Message: fmt.Sprintf(format, args...)}
}

// NewLlmError constructs an LlmError AgentError, used when a provider call
// fails or returns no assistant message.
func NewLlmError(format string, args ...any) *AgentError {
	return &AgentError{Kind: ErrLlmError, Message: fmt.Sprintf(format, args...)}
}

// IsPermissionDenied reports whether err is a PermissionDenied AgentError.
func IsPermissionDenied(err error) bool {
	ae, ok := err.(*AgentError)
	return ok && ae.Kind == ErrPermissionDenied
}
