package core

import "unicode/utf8"

// TokenCounter reports the token cost of a piece of text. The engine
// treats it as a black box: callers that know their model plug in an
// exact tokenizer, everyone else gets the heuristic default.
type TokenCounter func(text string) int

// DefaultTokenCounter approximates token count as one token per four
// characters, the common rule of thumb for English text. Non-empty text
// always costs at least one token.
func DefaultTokenCounter(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	tokens := n / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}
