package types

import "encoding/json"

// Message represents either a User or Assistant message in a conversation.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	ParentID  string      `json:"parentID,omitempty"`
	Time      MessageTime `json:"time"`
	Path      *MessagePath `json:"path,omitempty"`

	// User-specific fields
	Agent  string              `json:"agent,omitempty"`
	Model  *ModelRef           `json:"model,omitempty"`
	System *string             `json:"system,omitempty"`
	Tools  map[string]bool     `json:"tools,omitempty"`
	Summary *UserMessageSummary `json:"-"` // marshaled polymorphically, see MarshalJSON

	// Assistant-specific fields
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	IsSummary  bool          `json:"-"` // marshaled polymorphically, see MarshalJSON
}

// MessagePath records the working directory a message was produced in.
type MessagePath struct {
	Cwd  string `json:"cwd"`
	Root string `json:"root"`
}

// UserMessageSummary describes a compaction summary attached to a user
// message (the SDK renders this as an object, as opposed to the boolean
// "summary" marker assistant messages carry).
type UserMessageSummary struct {
	Title string     `json:"title"`
	Body  string     `json:"body,omitempty"`
	Diffs []FileDiff `json:"diffs,omitempty"`
}

// messageAlias breaks the recursion MarshalJSON/UnmarshalJSON would
// otherwise cause by re-invoking Message's own methods.
type messageAlias Message

type messageWire struct {
	messageAlias
	Summary json.RawMessage `json:"summary,omitempty"`
}

// MarshalJSON renders the polymorphic "summary" field: an object for user
// messages carrying a compaction summary, a bare boolean for assistant
// messages marked as a compaction result, and omitted otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{messageAlias: messageAlias(m)}

	switch {
	case m.Role == "user" && m.Summary != nil:
		b, err := json.Marshal(m.Summary)
		if err != nil {
			return nil, err
		}
		wire.Summary = b
	case m.Role == "assistant" && m.IsSummary:
		wire.Summary = json.RawMessage("true")
	}

	return json.Marshal(wire)
}

// UnmarshalJSON reverses MarshalJSON's polymorphic "summary" encoding.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = Message(wire.messageAlias)

	if len(wire.Summary) == 0 {
		return nil
	}

	switch wire.Summary[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(wire.Summary, &b); err != nil {
			return err
		}
		m.IsSummary = b
	default:
		var s UserMessageSummary
		if err := json.Unmarshal(wire.Summary, &s); err != nil {
			return err
		}
		m.Summary = &s
	}

	return nil
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents an error that occurred during message processing.
type MessageError struct {
	Type    string `json:"type"` // "api" | "auth" | "abort" | "max_steps" | "output_length"
	Message string `json:"message"`
}
