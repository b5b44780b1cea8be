package chatsync

// EstimateTokens approximates the token count of text for the snapshot
// size bound. ASCII runes weigh roughly a quarter token each; every
// other rune (CJK, Cyrillic, emoji) counts as a whole token, which
// errs on the large side.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
