package chatsync

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Patterns stripped from outgoing message content. This is a best-effort
// safety net for content rendered elsewhere, not a security boundary:
// the store enforces access control and the renderer must escape.
var (
	scriptTagPattern    = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	javascriptPattern   = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerPattern = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// SanitizeMessage validates and sanitizes user-authored message content.
// Empty or whitespace-only content and content longer than maxLen runes
// are refused with ErrValidation. Script-like substrings are stripped.
func SanitizeMessage(content string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty message", ErrValidation)
	}
	if maxLen > 0 && utf8.RuneCountInString(trimmed) > maxLen {
		return "", fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxLen)
	}

	clean := scriptTagPattern.ReplaceAllString(trimmed, "")
	clean = javascriptPattern.ReplaceAllString(clean, "")
	clean = eventHandlerPattern.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "", fmt.Errorf("%w: nothing left after sanitization", ErrValidation)
	}
	return clean, nil
}
