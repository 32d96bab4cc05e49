package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ndc-agent/agent/internal/event"
	"github.com/ndc-agent/agent/internal/gateway"
	"github.com/ndc-agent/agent/internal/permission"
	"github.com/ndc-agent/agent/internal/provider"
	"github.com/ndc-agent/agent/internal/storage"
	"github.com/ndc-agent/agent/internal/tool"
	"github.com/ndc-agent/agent/internal/verifier"
)

// Defaults for the Conversation Runner, per spec.md §4.4.
const (
	defaultMaxConversationMessages = 50
	defaultMaxToolCalls            = 25
	llmTemperature                 = 0.1
	llmMaxTokens                   = 4096
)

// RunOptions carries the per-turn parameters run_main_loop accepts beyond
// the session id and user message.
type RunOptions struct {
	ActiveTaskID  string
	WorkingMemory string
	AutoVerify    bool
	// MaxToolCalls overrides defaultMaxToolCalls when positive.
	MaxToolCalls int
}

// AgentResponse is the terminal result of one RunMainLoop turn.
type AgentResponse struct {
	IsComplete          bool
	NeedsInput          bool
	VerificationResult  *verifier.VerificationResult
	ToolCalls           []provider.ToolCall
	ExecutionEvents     []event.ExecutionEvent
	Content             string
}

// Runner implements the Conversation Runner (spec.md §4.4): a round-based
// loop that calls a Completer, branches on whether the model asked for
// tool calls, executes them through the Security Gateway and Permission
// Engine, and feeds completed tasks through the Verifier's gold-memory
// loop.
type Runner struct {
	Completer provider.Completer
	Model     string
	Tools     *tool.Registry
	Confirmer gateway.Confirmer
	Verifier  *verifier.TaskVerifier
	Sessions  *SessionStore

	// DoomLoop, when set, blocks a tool call that repeats the same tool
	// and arguments DoomLoopThreshold times in a row for a session,
	// matching spec.md §4.5's doom-loop guard. Nil disables the check.
	DoomLoop *permission.DoomLoopDetector

	// Storage, when set, persists each session's state as a JSON blob after
	// every round, approximating spec.md §5's "session saved on every
	// event emission" within a single synchronous write per round rather
	// than one per individual event.
	Storage *storage.Storage

	// SystemPrompt seeds a brand-new session's history, built by the
	// caller (e.g. via NewSystemPrompt(...).Build()) so the Runner itself
	// stays independent of the teacher's heavier prompt-construction types.
	SystemPrompt string

	MaxConversationMessages int
}

// RunMainLoop runs one user turn to completion: run_main_loop(session,
// user_message, active_task?, working_dir?, working_memory?) from
// spec.md §4.4.
func (r *Runner) RunMainLoop(ctx context.Context, sessionID, workingDir, userMessage string, opts RunOptions) (*AgentResponse, error) {
	maxToolCalls := opts.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = defaultMaxToolCalls
	}
	maxMessages := r.MaxConversationMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxConversationMessages
	}

	sess := r.Sessions.GetOrCreate(sessionID, workingDir)

	sess.mu.Lock()
	if len(sess.Messages) == 0 {
		if r.SystemPrompt != "" {
			sess.Messages = append(sess.Messages, AgentMessage{Role: "system", Content: r.SystemPrompt})
		}
		if opts.WorkingMemory != "" {
			sess.Messages = append(sess.Messages, AgentMessage{Role: "system", Content: opts.WorkingMemory})
		}
	}
	sess.Messages = append(sess.Messages, AgentMessage{Role: "user", Content: userMessage})
	sess.mu.Unlock()

	messages := r.wireMessages(sess)
	tools := toolSchemas(r.Tools)

	var (
		events       []event.ExecutionEvent
		allToolCalls []provider.ToolCall
		toolCallCount int
		round        int
	)

	emit := func(ev event.ExecutionEvent) {
		events = append(events, ev)
		sess.Timeline.Record(ev)
	}

	for {
		round++

		if toolCallCount >= maxToolCalls {
			emit(event.NewSimpleEvent(event.ExecError, round, fmt.Sprintf("max_tool_calls_exceeded: %d", maxToolCalls), true))
			r.saveSession(sess)
			return &AgentResponse{
				NeedsInput:      true,
				ToolCalls:       allToolCalls,
				ExecutionEvents: events,
				Content: fmt.Sprintf(
					"I've reached the maximum number of tool calls (%d) for this turn. Please provide guidance on how to proceed.",
					maxToolCalls,
				),
			}, nil
		}

		emit(event.NewWorkflowStageEvent(round, event.StageExecuting, "llm_round_start"))
		emit(event.NewSimpleEvent(event.ExecStepStart, round, fmt.Sprintf("llm_round_%d_start", round), false))

		if len(messages) > maxMessages {
			messages = messages[len(messages)-maxMessages:]
		}

		req := provider.Request{
			Model:       r.Model,
			Messages:    messages,
			MaxTokens:   llmMaxTokens,
			Temperature: llmTemperature,
		}
		if len(tools) > 0 {
			req.Tools = tools
		}

		llmStarted := time.Now()
		resp, err := r.Completer.Complete(ctx, req)
		if err != nil {
			return nil, gateway.NewLlmError("%v", err)
		}

		sess.mu.Lock()
		sess.Tokens.Prompt += resp.Usage.PromptTokens
		sess.Tokens.Completion += resp.Usage.CompletionTokens
		sess.Tokens.Total += resp.Usage.TotalTokens
		sessionPrompt, sessionCompletion, sessionTotal := sess.Tokens.Prompt, sess.Tokens.Completion, sess.Tokens.Total
		sess.mu.Unlock()

		source := provider.ProviderSource
		if resp.Usage.Estimated {
			source = provider.EstimatedSource
		}
		emit(event.NewTokenUsageEvent(round, source, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens, sessionPrompt, sessionCompletion, sessionTotal))

		stepFinish := event.NewSimpleEvent(event.ExecStepFinish, round, fmt.Sprintf("llm_round_%d_finish", round), false)
		stepFinish.DurationMs = time.Since(llmStarted).Milliseconds()
		emit(stepFinish)

		if resp.Content == "" && len(resp.ToolCalls) == 0 {
			sess.mu.Lock()
			sess.Messages = append(sess.Messages, AgentMessage{Role: "assistant", Content: ""})
			sess.mu.Unlock()
			emit(event.NewWorkflowStageEvent(round, event.StageCompleting, "empty_response"))
			emit(event.NewSimpleEvent(event.ExecSessionStatus, round, "session_idle", false))
			r.saveSession(sess)
			return &AgentResponse{
				IsComplete:      true,
				ToolCalls:       allToolCalls,
				ExecutionEvents: events,
			}, nil
		}

		if len(resp.ToolCalls) > 0 {
			emit(event.NewWorkflowStageEvent(round, event.StageDiscovery, "tool_calls_received"))

			reasoningMsg := strings.TrimSpace(resp.Content)
			if reasoningMsg == "" {
				names := make([]string, len(resp.ToolCalls))
				for i, tc := range resp.ToolCalls {
					names[i] = tc.Name
				}
				reasoningMsg = "planning to call: " + strings.Join(names, ", ")
			}
			emit(event.NewSimpleEvent(event.ExecReasoning, round, truncatePreview(reasoningMsg), false))

			sess.mu.Lock()
			sess.Messages = append(sess.Messages, AgentMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
			sess.mu.Unlock()
			messages = append(messages, provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

			results := r.executeToolCalls(ctx, sess, resp.ToolCalls, round, emit, workingDir)
			toolCallCount += len(resp.ToolCalls)
			allToolCalls = append(allToolCalls, resp.ToolCalls...)

			sess.mu.Lock()
			for _, res := range results {
				sess.Messages = append(sess.Messages, AgentMessage{Role: "tool", Content: res.sanitizedOutput, ToolCallID: res.callID})
			}
			sess.mu.Unlock()
			for _, res := range results {
				messages = append(messages, provider.Message{Role: "tool", Content: res.sanitizedOutput, ToolCallID: res.callID})
			}

			r.saveSession(sess)
			continue
		}

		// Branch B: no tool calls.
		content := resp.Content
		if strings.TrimSpace(content) != "" {
			emit(event.NewSimpleEvent(event.ExecText, round, truncatePreview(content), false))
		}
		sess.mu.Lock()
		sess.Messages = append(sess.Messages, AgentMessage{Role: "assistant", Content: content})
		sess.mu.Unlock()

		var verResult *verifier.VerificationResult
		if opts.AutoVerify && opts.ActiveTaskID != "" && r.Verifier != nil {
			emit(event.NewWorkflowStageEvent(round, event.StageVerifying, "verify_"+opts.ActiveTaskID))
			emit(event.NewSimpleEvent(event.ExecVerification, round, "verifying task "+opts.ActiveTaskID, false))

			result, err := r.Verifier.VerifyAndTrack(ctx, opts.ActiveTaskID)
			if err != nil {
				return nil, gateway.NewToolError("verification failed: %v", err)
			}
			verResult = &result

			if result.Kind != verifier.ResultCompleted {
				continuation := verifier.GenerateContinuationPrompt(result)
				feedback := verifier.GenerateFeedbackMessage(result)
				messages = append(messages, provider.Message{Role: "system", Content: continuation})
				sess.mu.Lock()
				sess.Messages = append(sess.Messages, AgentMessage{Role: "system", Content: feedback})
				sess.mu.Unlock()
				r.saveSession(sess)
				continue
			}
		}

		emit(event.NewWorkflowStageEvent(round, event.StageCompleting, "turn_complete"))
		emit(event.NewSimpleEvent(event.ExecSessionStatus, round, "session_idle", false))
		r.saveSession(sess)

		return &AgentResponse{
			IsComplete:         true,
			VerificationResult: verResult,
			ToolCalls:          allToolCalls,
			ExecutionEvents:    events,
			Content:            content,
		}, nil
	}
}

// wireMessages converts a session's full history into the provider-facing
// wire format.
func (r *Runner) wireMessages(sess *RunnerSession) []provider.Message {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]provider.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		out = append(out, provider.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

// toolSchemas builds the provider-facing tool schema list straight from the
// registered tools, without going through eino's schema types.
func toolSchemas(reg *tool.Registry) []provider.ToolSchema {
	if reg == nil {
		return nil
	}
	list := reg.List()
	out := make([]provider.ToolSchema, 0, len(list))
	for _, t := range list {
		out = append(out, provider.ToolSchema{
			Name:        t.ID(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

type toolExecResult struct {
	callID          string
	sanitizedOutput string
	isError         bool
}

// executeToolCalls implements the Tool Execution sub-algorithm (spec.md
// §4.5): every call, in input order, brackets a ToolCallStart/ToolCallEnd
// pair and is sanitized before being appended to history. Calls run
// sequentially; there is no concurrency inside a round.
func (r *Runner) executeToolCalls(ctx context.Context, sess *RunnerSession, calls []provider.ToolCall, round int, emit func(event.ExecutionEvent), workingDir string) []toolExecResult {
	results := make([]toolExecResult, 0, len(calls))

	for _, call := range calls {
		argsPreview := truncatePreview(call.Arguments)
		emit(event.NewToolCallStartEvent(round, call.Name, call.ID, argsPreview))

		start := time.Now()
		output, isError := r.invokeOneTool(ctx, sess, call, round, emit, workingDir)
		duration := time.Since(start).Milliseconds()
		sanitized := sanitizeToolOutput(output)

		emit(event.NewToolCallEndEvent(round, call.Name, call.ID, argsPreview, truncatePreview(sanitized), duration, isError))

		results = append(results, toolExecResult{
			callID:          call.ID,
			sanitizedOutput: sanitized,
			isError:         isError,
		})
	}

	return results
}

// eventConfirmer wraps a gateway.Confirmer to emit the PermissionAsked
// events spec.md §4.5 step 3 requires bracketing a confirmation.
type eventConfirmer struct {
	inner gateway.Confirmer
	round int
	emit  func(event.ExecutionEvent)
}

func (c *eventConfirmer) Confirm(ctx context.Context, description, permissionKey string) (bool, error) {
	c.emit(event.NewSimpleEvent(event.ExecPermissionAsked, c.round, "permission_asked: "+description, false))

	ok, err := c.inner.Confirm(ctx, description, permissionKey)
	switch {
	case err != nil:
		c.emit(event.NewSimpleEvent(event.ExecPermissionAsked, c.round, "permission_asked: permission_rejected: "+err.Error(), true))
	case ok:
		c.emit(event.NewSimpleEvent(event.ExecPermissionAsked, c.round, "permission_asked: permission_approved: "+description, false))
	default:
		c.emit(event.NewSimpleEvent(event.ExecPermissionAsked, c.round, "permission_asked: permission_rejected: "+description, true))
	}
	return ok, err
}

// invokeOneTool runs a single tool call under the Security Gateway's
// classification and the Permission Engine's confirm-and-retry protocol
// (spec.md §4.2, §4.5 step 3).
func (r *Runner) invokeOneTool(ctx context.Context, sess *RunnerSession, call provider.ToolCall, round int, emit func(event.ExecutionEvent), workingDir string) (string, bool) {
	t, ok := r.Tools.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %s", call.Name), true
	}

	rawParams := json.RawMessage(call.Arguments)
	if len(rawParams) == 0 || !json.Valid(rawParams) {
		rawParams = json.RawMessage(`{}`)
	}

	if r.DoomLoop != nil && r.DoomLoop.Check(sess.ID, call.Name, rawParams) {
		return fmt.Sprintf("Error: doom loop detected — %s repeated with identical arguments %d+ times in a row", call.Name, permission.DoomLoopThreshold), true
	}

	classification := gateway.Classify(call.Name, rawParams)
	rawParams = gateway.InjectWorkingDir(call.Name, rawParams, workingDir)

	toolCtx := &tool.Context{
		SessionID: sess.ID,
		CallID:    call.ID,
		WorkDir:   workingDir,
		AbortCh:   ctx.Done(),
	}

	preApprovedKey := classification.PermissionKey
	invoker := gateway.ToolInvoker(func(ctx context.Context, overrides []string) (string, error) {
		if !containsString(overrides, classification.PermissionKey) && !r.isPreApproved(preApprovedKey) {
			return "", gateway.NewPermissionDenied("requires_confirmation permission=%s", classification.PermissionKey)
		}
		result, err := t.Execute(ctx, rawParams, toolCtx)
		if err != nil {
			return "", err
		}
		return result.Output, nil
	})

	confirmer := &eventConfirmer{inner: r.Confirmer, round: round, emit: emit}
	output, err := gateway.ExecuteWithRuntimeConfirmation(ctx, invoker, confirmer, classification.Description)
	if err != nil {
		if ae, ok := err.(*gateway.AgentError); ok {
			return fmt.Sprintf("Error: %s", ae.Message), true
		}
		return fmt.Sprintf("Error: %s", err.Error()), true
	}
	return output, false
}

// isPreApproved reports whether key was already approved with session
// scope earlier in this runner's lifetime, when the Confirmer is a
// *permission.Engine (the only implementation that tracks scope).
func (r *Runner) isPreApproved(key string) bool {
	engine, ok := r.Confirmer.(*permission.Engine)
	if !ok {
		return false
	}
	return engine.IsSessionApproved(key)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type persistedSession struct {
	ID         string             `json:"id"`
	WorkingDir string             `json:"workingDir"`
	Messages   []AgentMessage     `json:"messages"`
	Tokens     SessionTokenTotals `json:"tokens"`
}

// saveSession persists the session's current state, approximating spec.md
// §5's "session saved on every event emission" with one write per round.
func (r *Runner) saveSession(sess *RunnerSession) {
	if r.Storage == nil {
		return
	}
	messages, tokens := sess.Snapshot()
	snap := persistedSession{
		ID:         sess.ID,
		WorkingDir: sess.WorkingDir,
		Messages:   messages,
		Tokens:     tokens,
	}
	_ = r.Storage.Put(context.Background(), []string{"runner_session", sess.ID}, snap)
}
