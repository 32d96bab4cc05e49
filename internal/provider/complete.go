package provider

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cloudwego/eino/schema"
)

// Message is a provider-agnostic chat message, used by Completer so callers
// (internal/session's runner and its tests) never need to construct an eino
// schema.Message directly.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSchema describes one callable tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Usage is the token accounting a completion reports; Estimated is true
// when no usage block was present and the counts were derived via
// EstimateTokens instead.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// Request is a plain-Go completion request, independent of eino's stream
// types, so internal/session's runner can depend on Completer without
// pulling the eino module into its own test code.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float64
}

// FinishReason normalizes the many provider-specific completion-stop labels
// (eino reports "stop"/"tool_use"/"tool_calls"/"length"/"error" depending on
// vendor) into the small set the runner branches on.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Response is the drained result of one completion call.
type Response struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// Completer is the narrow, eino-free seam the Conversation Runner depends
// on. Production code satisfies it via NewProviderCompleter, wrapping a
// Provider's streaming CreateCompletion; tests satisfy it directly with a
// scripted struct.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// providerCompleter adapts a Provider to Completer by draining its eino
// stream and converting the accumulated chunks (see drainStream for the
// accumulated-vs-delta detection), without publishing any events.
type providerCompleter struct {
	prov Provider
}

// NewProviderCompleter wraps prov as a Completer.
func NewProviderCompleter(prov Provider) Completer {
	return &providerCompleter{prov: prov}
}

func (p *providerCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	einoReq := &CompletionRequest{
		Model:       req.Model,
		Messages:    toEinoMessages(req.Messages),
		Tools:       toEinoToolInfos(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	stream, err := p.prov.CreateCompletion(ctx, einoReq)
	if err != nil {
		return Response{}, err
	}
	defer stream.Close()

	return drainStream(stream, einoReq.Messages)
}

// drainStream accumulates every chunk off stream into a single Response.
// Eino providers emit either whole-so-far "accumulated" content per chunk or
// incremental "delta" content; it detects which mode a stream is in by
// checking whether each chunk's content is a prefix extension of the
// previous one.
func drainStream(stream *CompletionStream, requestMessages []*schema.Message) (Response, error) {
	var (
		content       string
		reasoning     string
		lastContent   string
		finish        FinishReason
		usage         Usage
		toolCallsByID = map[string]*ToolCall{}
		toolCallOrder []string
		lastMsg       *schema.Message
	)

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			return Response{}, err
		}
		if chunk == nil {
			continue
		}
		lastMsg = chunk

		if chunk.Content != "" {
			if lastContent != "" && len(chunk.Content) >= len(lastContent) && chunk.Content[:len(lastContent)] == lastContent {
				content = chunk.Content
			} else {
				content += chunk.Content
			}
			lastContent = chunk.Content
		}

		if rc, ok := reasoningContent(chunk); ok && rc != "" {
			reasoning += rc
		}

		for i, tc := range chunk.ToolCalls {
			key := tc.ID
			if key == "" {
				key = indexKey(i)
			}
			existing, ok := toolCallsByID[key]
			if !ok {
				existing = &ToolCall{ID: tc.ID, Name: tc.Function.Name}
				toolCallsByID[key] = existing
				toolCallOrder = append(toolCallOrder, key)
			}
			if tc.ID != "" {
				existing.ID = tc.ID
			}
			if tc.Function.Name != "" {
				existing.Name = tc.Function.Name
			}
			existing.Arguments += tc.Function.Arguments
		}

		if rm := chunk.ResponseMeta; rm != nil {
			if rm.Usage != nil {
				usage.PromptTokens = rm.Usage.PromptTokens
				usage.CompletionTokens = rm.Usage.CompletionTokens
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
			if rm.FinishReason != "" {
				finish = normalizeFinishReason(rm.FinishReason)
			}
		}
	}

	var toolCalls []ToolCall
	for _, key := range toolCallOrder {
		toolCalls = append(toolCalls, *toolCallsByID[key])
	}

	if finish == "" {
		if len(toolCalls) > 0 {
			finish = FinishToolCalls
		} else {
			finish = FinishStop
		}
	}

	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		est := EstimateTokens(requestMessages, lastMsg)
		usage = Usage{
			PromptTokens:     est.Prompt,
			CompletionTokens: est.Completion,
			TotalTokens:      est.Total,
			Estimated:        true,
		}
	}

	return Response{
		Content:      content,
		Reasoning:    reasoning,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage:        usage,
	}, nil
}

func indexKey(i int) string {
	return "#idx:" + string(rune('0'+i))
}

func normalizeFinishReason(reason string) FinishReason {
	switch reason {
	case "stop", "end_turn":
		return FinishStop
	case "tool_use", "tool_calls":
		return FinishToolCalls
	case "max_tokens", "length":
		return FinishLength
	case "error":
		return FinishError
	default:
		return FinishStop
	}
}

// reasoningContent extracts eino's reasoning/thinking field, populated by
// chat models that support it; most providers leave it empty.
func reasoningContent(msg *schema.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	return msg.ReasoningContent, msg.ReasoningContent != ""
}

func toEinoMessages(messages []Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		role := schema.Assistant
		switch m.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		case "tool":
			role = schema.Tool
		}

		einoMsg := &schema.Message{
			Role:    role,
			Content: m.Content,
		}
		if m.ToolCallID != "" {
			einoMsg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			einoMsg.ToolCalls = append(einoMsg.ToolCalls, schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result = append(result, einoMsg)
	}
	return result
}

func toEinoToolInfos(tools []ToolSchema) []*schema.ToolInfo {
	if len(tools) == 0 {
		return nil
	}
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaToParams(t.Parameters)
		}
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}
