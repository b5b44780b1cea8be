package workflow

import (
	"encoding/json"
	"strings"
)

// ReplyKind tags a normalized workflow reply.
type ReplyKind int

const (
	// ReplyLoading means the engine acknowledged but produced no text
	// yet; the caller keeps its placeholder.
	ReplyLoading ReplyKind = iota
	// ReplyText carries assistant text.
	ReplyText
	// ReplyError carries an engine-reported failure.
	ReplyError
)

// Reply is the single normalized form every workflow payload is
// reduced to at this boundary. Nothing downstream branches on raw
// payload shapes.
type Reply struct {
	Kind ReplyKind
	Text string
	Err  string
}

// Envelope field names the engine has been observed to use for text.
var textFields = []string{"output", "text", "message", "response", "answer"}

// ParseReply normalizes a workflow response body. The engine emits ad
// hoc shapes (a bare JSON string, objects with varying field names,
// arrays of either, an error object), and every one of them maps onto
// exactly one Reply here.
func ParseReply(raw []byte) Reply {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Reply{Kind: ReplyLoading}
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		// Not JSON at all: treat the body as plain text.
		return Reply{Kind: ReplyText, Text: trimmed}
	}
	return normalize(value)
}

func normalize(value any) Reply {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return Reply{Kind: ReplyLoading}
		}
		return Reply{Kind: ReplyText, Text: v}

	case []any:
		for _, item := range v {
			if reply := normalize(item); reply.Kind != ReplyLoading {
				return reply
			}
		}
		return Reply{Kind: ReplyLoading}

	case map[string]any:
		if errVal, ok := v["error"]; ok {
			if s, ok := errVal.(string); ok && s != "" {
				return Reply{Kind: ReplyError, Err: s}
			}
			if m, ok := errVal.(map[string]any); ok {
				if s, ok := m["message"].(string); ok && s != "" {
					return Reply{Kind: ReplyError, Err: s}
				}
			}
			return Reply{Kind: ReplyError, Err: "workflow reported an error"}
		}
		for _, field := range textFields {
			if nested, ok := v[field]; ok {
				if reply := normalize(nested); reply.Kind != ReplyLoading {
					return reply
				}
			}
		}
		return Reply{Kind: ReplyLoading}

	default:
		return Reply{Kind: ReplyLoading}
	}
}
