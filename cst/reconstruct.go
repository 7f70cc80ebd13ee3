// Package cst rebuilds source text from a token stream produced by the
// lexer in CST mode. It exists to satisfy the round-trip property: lex a
// file with lexer.New(src, lexer.CST), then ReconstructSource(tokens) must
// return src byte-for-byte.
package cst

import (
	"strings"

	"limit/token"
)

// ReconstructSource rebuilds the original source text from a token stream
// scanned in CST mode. Tokens carry their own leading/trailing trivia, so
// reconstruction is just a left-to-right walk: leading trivia, the token's
// own source text, trailing trivia. The EOF token contributes only its
// leading trivia (trailing whitespace at end of file); its Lexeme is a
// sentinel, not source text.
func ReconstructSource(tokens []token.Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		writeTrivia(&b, tok.Leading)
		if tok.TokenType != token.EOF {
			b.WriteString(tok.Source())
		}
		writeTrivia(&b, tok.Trailing)
	}
	return b.String()
}

func writeTrivia(b *strings.Builder, trivia []token.Trivia) {
	for _, t := range trivia {
		b.WriteString(t.Text)
	}
}
