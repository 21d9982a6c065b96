package toolpair

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tjfontaine/polyglot-chat-compiler/internal/domain"
)

// UnknownToolName stands in for invocations recorded without a tool name.
const UnknownToolName = "unknown_tool"

func toolName(block *domain.ToolBlock) string {
	if block.ToolName == "" {
		return UnknownToolName
	}
	return block.ToolName
}

// SerializeResult renders a result payload. A JSON string is passed through
// verbatim as text; any other JSON value is compacted, keeping key order,
// and tagged json. ok is false for an absent, null or blank payload.
func SerializeResult(raw json.RawMessage) (out domain.ToolOutput, ok bool) {
	value, isString, ok := renderPayload(raw)
	if !ok {
		return domain.ToolOutput{}, false
	}
	if isString {
		return domain.ToolOutput{Type: domain.ToolOutputText, Value: value}, true
	}
	return domain.ToolOutput{Type: domain.ToolOutputJSON, Value: value}, true
}

// resultOutput applies the invocation status on top of SerializeResult:
// failed and cancelled invocations become error text, falling back to the
// status name when nothing was recorded.
func resultOutput(block *domain.ToolBlock) (domain.ToolOutput, bool) {
	switch block.Status {
	case domain.ToolStatusError, domain.ToolStatusCancelled:
		value, _, ok := renderPayload(block.Content)
		if !ok || value == "" {
			value = string(block.Status)
		}
		return domain.ToolOutput{Type: domain.ToolOutputErrorText, Value: value}, true
	}
	return SerializeResult(block.Content)
}

func renderPayload(raw json.RawMessage) (value string, isString bool, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false, false
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				return "", false, false
			}
			return s, true, true
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		// Not JSON after all; keep the bytes as recorded.
		return string(trimmed), true, true
	}
	return buf.String(), false, true
}

func callInput(block *domain.ToolBlock) json.RawMessage {
	if !block.HasArguments() {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, block.Arguments); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(buf.Bytes())
}
