package session

import (
	"strings"
	"unicode/utf8"
)

// maxToolOutputBytes bounds how much of a single tool's output enters the
// message history; oversized output is truncated with a trailing marker
// rather than dropped, so the model still sees the start of the result.
const maxToolOutputBytes = 32 * 1024

// sanitizeToolOutput is the defensive boundary between raw tool output and
// the LLM message history: it forces valid UTF-8, strips ASCII control
// characters (except newline and tab, which carry real structure in tool
// output), and caps the total size. It must run before output enters
// messages and before the same output is rendered into an ExecutionEvent
// preview.
func sanitizeToolOutput(output string) string {
	if !utf8.ValidString(output) {
		output = strings.ToValidUTF8(output, "�")
	}

	var b strings.Builder
	b.Grow(len(output))
	for _, r := range output {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == '\r':
			// collapse CR so CRLF output doesn't double newlines downstream
		case r < 0x20 || r == 0x7f:
			// drop other control characters
		default:
			b.WriteRune(r)
		}
	}
	sanitized := b.String()

	if len(sanitized) > maxToolOutputBytes {
		sanitized = truncateToValidUTF8(sanitized, maxToolOutputBytes) + "\n...[truncated]"
	}
	return sanitized
}

// truncateToValidUTF8 cuts s to at most n bytes without splitting a
// multi-byte rune in half.
func truncateToValidUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// previewBytes is the cap used for the message-embedded arg/result previews
// described in spec.md §6 ("tool_call_start: <name> | args_preview: ...").
const previewBytes = 200

// truncatePreview bounds a string to previewBytes for inline event
// messages, appending an ellipsis marker when it cut content.
func truncatePreview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= previewBytes {
		return s
	}
	return truncateToValidUTF8(s, previewBytes) + "..."
}
