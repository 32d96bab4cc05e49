package types

import "encoding/json"

// Part represents a component of an assistant message.
// SDK compatible: all parts must have sessionID and messageID fields.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
// SDK compatible: includes sessionID and messageID fields.
type TextPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"` // SDK compatible
	MessageID string         `json:"messageID"` // SDK compatible
	Type      string         `json:"type"`      // always "text"
	Text      string         `json:"text"`
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking/reasoning content.
// SDK compatible: includes sessionID and messageID fields.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"` // SDK compatible
	MessageID string   `json:"messageID"` // SDK compatible
	Type      string   `json:"type"`      // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// ToolTime tracks when a tool call started and finished.
type ToolTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

// ToolState carries the mutable execution state of a tool call as it
// moves from pending -> running -> completed/error.
type ToolState struct {
	Status      string         `json:"status"` // "pending" | "running" | "completed" | "error"
	Input       map[string]any `json:"input,omitempty"`
	Raw         string         `json:"raw,omitempty"` // accumulated raw JSON args while streaming
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Title       string         `json:"title,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Time        *ToolTime      `json:"time,omitempty"`
	Attachments []FilePart     `json:"attachments,omitempty"`
}

// ToolPart represents a tool call and its result.
// SDK compatible: includes sessionID and messageID fields.
type ToolPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"` // SDK compatible
	MessageID string         `json:"messageID"` // SDK compatible
	Type      string         `json:"type"`      // always "tool"
	CallID    string         `json:"callID"`
	Tool      string         `json:"tool"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	State     ToolState      `json:"state"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// FilePart represents a file attachment.
// SDK compatible: includes sessionID and messageID fields.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"` // SDK compatible
	MessageID string `json:"messageID"` // SDK compatible
	Type      string `json:"type"`      // always "file"
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string      { return "file" }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

// StepStartPart marks the beginning of a single inference round within
// a multi-round agentic response.
type StepStartPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "step-start"
}

func (p *StepStartPart) PartType() string      { return "step-start" }
func (p *StepStartPart) PartID() string        { return p.ID }
func (p *StepStartPart) PartSessionID() string { return p.SessionID }
func (p *StepStartPart) PartMessageID() string { return p.MessageID }

// StepFinishPart marks the end of a single inference round, carrying the
// round's finish reason, cost, and token usage.
type StepFinishPart struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	MessageID string      `json:"messageID"`
	Type      string      `json:"type"` // always "step-finish"
	Reason    string      `json:"reason"`
	Cost      float64     `json:"cost,omitempty"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`
}

func (p *StepFinishPart) PartType() string      { return "step-finish" }
func (p *StepFinishPart) PartID() string        { return p.ID }
func (p *StepFinishPart) PartSessionID() string { return p.SessionID }
func (p *StepFinishPart) PartMessageID() string { return p.MessageID }

// CompactionPart represents a user-issued request to compact (summarize)
// the conversation so far, optionally triggered automatically by context
// pressure rather than the user.
type CompactionPart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "compaction"
	Summary   string `json:"summary,omitempty"`
	Count     int    `json:"count,omitempty"`
	Auto      bool   `json:"auto,omitempty"`
}

func (p *CompactionPart) PartType() string      { return "compaction" }
func (p *CompactionPart) PartID() string        { return p.ID }
func (p *CompactionPart) PartSessionID() string { return p.SessionID }
func (p *CompactionPart) PartMessageID() string { return p.MessageID }

// RawPart is used for JSON unmarshaling of parts.
type RawPart struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw RawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "step-start":
		var p StepStartPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "step-finish":
		var p StepFinishPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "compaction":
		var p CompactionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		// Return raw part for unknown types
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
