package chatsync

import "github.com/creastat/chatsync/store"

// WindowMessages bounds a message history by message count and then by
// estimated token size, removing oldest messages as needed. The most
// recent messages are preserved. Used when persisting the recovery
// snapshot and when selecting the replay window.
func WindowMessages(history []store.Message, messageLimit, tokenLimit int) []store.Message {
	if len(history) == 0 {
		return history
	}

	// First, apply message limit
	if messageLimit > 0 && len(history) > messageLimit {
		history = history[len(history)-messageLimit:]
	}

	if tokenLimit <= 0 {
		return history
	}

	// Then, apply token limit
	totalTokens := 0
	for _, msg := range history {
		totalTokens += EstimateTokens(msg.Content)
	}

	// Remove oldest messages until within token limit
	for totalTokens > tokenLimit && len(history) > 0 {
		totalTokens -= EstimateTokens(history[0].Content)
		history = history[1:]
	}

	return history
}

// ReplayWindow selects the messages recovery re-inserts into a freshly
// created session: the last limit messages, skipping system-authored
// and empty-content rows.
func ReplayWindow(history []store.Message, limit int) []store.Message {
	var eligible []store.Message
	for _, msg := range history {
		if msg.Role == store.RoleSystem || msg.Content == "" {
			continue
		}
		eligible = append(eligible, msg)
	}
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	return eligible
}
