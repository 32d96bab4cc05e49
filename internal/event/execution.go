package event

import (
	"fmt"
	"time"
)

// ExecutionEventKind enumerates the observation kinds a conversation round
// can emit, per the wire schema in spec.md §6.
type ExecutionEventKind string

const (
	ExecSessionStatus  ExecutionEventKind = "SessionStatus"
	ExecWorkflowStage  ExecutionEventKind = "WorkflowStage"
	ExecStepStart      ExecutionEventKind = "StepStart"
	ExecStepFinish     ExecutionEventKind = "StepFinish"
	ExecReasoning      ExecutionEventKind = "Reasoning"
	ExecToolCallStart  ExecutionEventKind = "ToolCallStart"
	ExecToolCallEnd    ExecutionEventKind = "ToolCallEnd"
	ExecTokenUsage     ExecutionEventKind = "TokenUsage"
	ExecPermissionAsked ExecutionEventKind = "PermissionAsked"
	ExecVerification   ExecutionEventKind = "Verification"
	ExecError          ExecutionEventKind = "Error"
	ExecText           ExecutionEventKind = "Text"
)

// WorkflowStage names the phase of a round a WorkflowStage execution event
// reports a transition into.
type WorkflowStage string

const (
	StagePlanning   WorkflowStage = "Planning"
	StageDiscovery  WorkflowStage = "Discovery"
	StageExecuting  WorkflowStage = "Executing"
	StageVerifying  WorkflowStage = "Verifying"
	StageCompleting WorkflowStage = "Completing"
)

// ExecutionEvent is one structured observation of a conversation round,
// emitted in strict monotonic per-session order and fanned out over a
// Timeline. Round is monotonically non-decreasing across a session; for
// every ToolCallStart there is exactly one ToolCallEnd sharing the same
// ToolCallID and Round.
type ExecutionEvent struct {
	Kind      ExecutionEventKind `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Round     int                `json:"round"`
	Message   string             `json:"message"`

	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	IsError    bool   `json:"isError"`

	WorkflowStage      WorkflowStage `json:"workflowStage,omitempty"`
	WorkflowDetail     string        `json:"workflowDetail,omitempty"`
	WorkflowStageIndex int           `json:"workflowStageIndex,omitempty"`
	WorkflowStageTotal int           `json:"workflowStageTotal,omitempty"`

	// TokenUsage-only fields. Source is "provider" when the completion
	// response carried usage directly, or "estimated" when derived via the
	// runes/4 heuristic.
	Source           string `json:"source,omitempty"`
	PromptTokens     int    `json:"promptTokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`
	TotalTokens      int    `json:"totalTokens,omitempty"`
	SessionTotalTokens int  `json:"sessionTotalTokens,omitempty"`
}

// stageOrder fixes the (index, total) pair reported with every
// WorkflowStage transition; total is a constant of the engine.
var stageOrder = map[WorkflowStage]int{
	StagePlanning:   1,
	StageDiscovery:  2,
	StageExecuting:  3,
	StageVerifying:  4,
	StageCompleting: 5,
}

const workflowStageTotal = 5

// NewWorkflowStageEvent builds a WorkflowStage event with index/total filled
// in from the fixed stage ordering. Message follows the stable
// "workflow_stage: <stage> | <detail>" preview format from spec.md §6.
func NewWorkflowStageEvent(round int, stage WorkflowStage, detail string) ExecutionEvent {
	return ExecutionEvent{
		Kind:               ExecWorkflowStage,
		Timestamp:          time.Now().UTC(),
		Round:              round,
		Message:            fmt.Sprintf("workflow_stage: %s | %s", stage, detail),
		WorkflowStage:      stage,
		WorkflowDetail:     detail,
		WorkflowStageIndex: stageOrder[stage],
		WorkflowStageTotal: workflowStageTotal,
	}
}

// NewToolCallStartEvent builds a ToolCallStart event carrying a compact
// preview of the call's arguments, formatted as
// "tool_call_start: <name> | args_preview: <...>" per spec.md §6.
func NewToolCallStartEvent(round int, toolName, callID, argsPreview string) ExecutionEvent {
	return ExecutionEvent{
		Kind:       ExecToolCallStart,
		Timestamp:  time.Now().UTC(),
		Round:      round,
		Message:    fmt.Sprintf("tool_call_start: %s | args_preview: %s", toolName, argsPreview),
		ToolName:   toolName,
		ToolCallID: callID,
	}
}

// NewToolCallEndEvent builds a ToolCallEnd event carrying a bounded result
// preview and whether the call failed, formatted as "tool_call_end: <name>
// (<ok|error>) | args_preview: <...> | result_preview: <...>" per spec.md §6.
func NewToolCallEndEvent(round int, toolName, callID, argsPreview, resultPreview string, durationMs int64, isError bool) ExecutionEvent {
	status := "ok"
	if isError {
		status = "error"
	}
	return ExecutionEvent{
		Kind:       ExecToolCallEnd,
		Timestamp:  time.Now().UTC(),
		Round:      round,
		Message:    fmt.Sprintf("tool_call_end: %s (%s) | args_preview: %s | result_preview: %s", toolName, status, argsPreview, resultPreview),
		ToolName:   toolName,
		ToolCallID: callID,
		DurationMs: durationMs,
		IsError:    isError,
	}
}

// NewTokenUsageEvent builds a TokenUsage event. source is "provider" when
// the provider reported usage directly, or "estimated" when it was derived
// via internal/provider's heuristic estimator. sessionPrompt/sessionCompletion/
// sessionTotal are the running session totals after this round's usage is
// applied. Message follows spec.md §6's stable "token_usage: ..." preview
// format.
func NewTokenUsageEvent(round int, source string, prompt, completion, total, sessionPrompt, sessionCompletion, sessionTotal int) ExecutionEvent {
	return ExecutionEvent{
		Kind:      ExecTokenUsage,
		Timestamp: time.Now().UTC(),
		Round:     round,
		Message: fmt.Sprintf(
			"token_usage: source=%s prompt=%d completion=%d total=%d | session_prompt_total=%d session_completion_total=%d session_total=%d",
			source, prompt, completion, total, sessionPrompt, sessionCompletion, sessionTotal,
		),
		Source:             source,
		PromptTokens:       prompt,
		CompletionTokens:   completion,
		TotalTokens:        total,
		SessionTotalTokens: sessionTotal,
	}
}

// NewSimpleEvent builds a plain event of the given kind carrying only a
// message, for kinds that need no structured fields (SessionStatus,
// StepStart, StepFinish, Reasoning, PermissionAsked, Verification, Error,
// Text).
func NewSimpleEvent(kind ExecutionEventKind, round int, message string, isError bool) ExecutionEvent {
	return ExecutionEvent{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Round:     round,
		Message:   message,
		IsError:   isError,
	}
}
