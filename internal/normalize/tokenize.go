package normalize

import (
	"unicode"
	"unicode/utf8"
)

// Token is a whitespace-delimited word with its byte offsets in the source.
type Token struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Tokenize splits text on Unicode whitespace. It is used by annotation tools
// to map a selection to entity offsets.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return tokens
}
