package token

import "testing"

func TestCreateToken(t *testing.T) {
	tests := []struct {
		name      string
		tokenType TokenType
		lexeme    string
	}{
		{"Create ASSIGN token", ASSIGN, "="},
		{"Create MULT token", MULT, "*"},
		{"Create LPA token", LPA, "("},
		{"Create EOF token", EOF, "EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CreateToken(tt.tokenType, 0, 0)
			if got.TokenType != tt.tokenType || got.Lexeme != tt.lexeme {
				t.Errorf("CreateToken(%s) = %+v, want lexeme %q", tt.tokenType, got, tt.lexeme)
			}
		})
	}
}

func TestCreateLiteralToken(t *testing.T) {
	got := CreateLiteralToken(IDENTIFIER, nil, "myVar", 3, 10)
	if got.TokenType != IDENTIFIER || got.Lexeme != "myVar" || got.Line != 3 || got.Column != 10 {
		t.Errorf("CreateLiteralToken() = %+v", got)
	}
}

func TestKeyWordsAreReserved(t *testing.T) {
	for word, want := range KeyWords {
		tok := CreateLiteralToken(IDENTIFIER, nil, word, 0, 0)
		if kind, ok := KeyWords[tok.Lexeme]; !ok || kind != want {
			t.Errorf("keyword %q did not resolve to %s", word, want)
		}
	}
}
