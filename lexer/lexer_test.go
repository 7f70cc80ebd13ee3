package lexer

import (
	"limit/token"
	"testing"
)

func tokenTypes(tokens []token.Token) []token.TokenType {
	types := make([]token.TokenType, len(tokens))
	for i, tok := range tokens {
		types[i] = tok.TokenType
	}
	return types
}

func assertTypes(t *testing.T, got []token.Token, want []token.TokenType) {
	t.Helper()
	gotTypes := tokenTypes(got)
	if len(gotTypes) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(gotTypes), len(want), gotTypes)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Errorf("token[%d] = %s, want %s", i, gotTypes[i], want[i])
		}
	}
}

func TestOperatorsSuccess(t *testing.T) {
	want := []token.TokenType{
		token.EQUAL_EQUAL, token.SLASH_ASSIGN, token.MULT, token.ADD,
		token.LARGER, token.SUB, token.LESS, token.NOT_EQUAL, token.LESS_EQUAL,
		token.LARGER_EQUAL, token.BANG, token.BANG, token.EOF,
	}
	scanner := CreateLexer("==/=*+>-<!=<=>=!!")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, want)
}

func TestCompoundAssignAndPower(t *testing.T) {
	want := []token.TokenType{
		token.PLUS_ASSIGN, token.MINUS_ASSIGN, token.STAR_ASSIGN,
		token.SLASH_ASSIGN, token.MOD_ASSIGN, token.POWER, token.ARROW, token.EOF,
	}
	scanner := CreateLexer("+= -= *= /= %= ** ->")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, want)
}

func TestScanSuccess(t *testing.T) {
	want := []token.TokenType{
		token.LPA, token.RPA, token.LCUR, token.RCUR, token.POWER,
		token.SEMICOLON, token.ADD, token.NOT_EQUAL, token.LESS_EQUAL, token.EOF,
	}
	scanner := CreateLexer("(){}**;+!=<=")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, want)
}

func TestRangeOperatorVsFloat(t *testing.T) {
	want := []token.TokenType{token.INT, token.DOTDOT, token.INT, token.EOF}
	scanner := CreateLexer("1..3")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, want)

	scanner2 := CreateLexer("1.5")
	got2, err2 := scanner2.Scan()
	if err2 != nil {
		t.Fatalf("Scan() raised an error: %v", err2)
	}
	assertTypes(t, got2, []token.TokenType{token.FLOAT, token.EOF})
	if got2[0].Literal.(float64) != 1.5 {
		t.Errorf("literal = %v, want 1.5", got2[0].Literal)
	}
}

func TestStringLiteral(t *testing.T) {
	scanner := CreateLexer(`"hello world"`)
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, []token.TokenType{token.STRING, token.EOF})
	if got[0].Literal != "hello world" {
		t.Errorf("literal = %v, want %q", got[0].Literal, "hello world")
	}
}

func TestStringInterpolation(t *testing.T) {
	scanner := CreateLexer(`"total: {1 + 2} units"`)
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []token.TokenType{
		token.STRING, token.INTERPOLATION_START, token.INT, token.ADD, token.INT,
		token.INTERPOLATION_END, token.STRING, token.EOF,
	}
	assertTypes(t, got, want)
	if got[0].Literal != "total: " {
		t.Errorf("prefix literal = %q, want %q", got[0].Literal, "total: ")
	}
	if got[len(got)-2].Literal != " units" {
		t.Errorf("suffix literal = %q, want %q", got[len(got)-2].Literal, " units")
	}
}

func TestNestedInterpolationBraces(t *testing.T) {
	scanner := CreateLexer(`"{ {a: 1} }"`)
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []token.TokenType{
		token.STRING, token.INTERPOLATION_START,
		token.LCUR, token.IDENTIFIER, token.COLON, token.INT, token.RCUR,
		token.INTERPOLATION_END, token.STRING, token.EOF,
	}
	assertTypes(t, got, want)
}

func TestUnterminatedString(t *testing.T) {
	scanner := CreateLexer(`"unterminated`)
	_, err := scanner.Scan()
	if err == nil {
		t.Fatal("Scan() expected an error for an unterminated string")
	}
	if _, ok := err.(UnterminatedStringError); !ok {
		t.Errorf("error type = %T, want UnterminatedStringError", err)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	scanner := CreateLexer("$")
	_, err := scanner.Scan()
	if err == nil {
		t.Fatal("Scan() expected an error for an unexpected character")
	}
	if _, ok := err.(UnexpectedCharacterError); !ok {
		t.Errorf("error type = %T, want UnexpectedCharacterError", err)
	}
}

func TestLineComment(t *testing.T) {
	scanner := CreateLexer("1 // a comment\n2")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, []token.TokenType{token.INT, token.INT, token.EOF})
}

func TestNestedBlockComment(t *testing.T) {
	scanner := CreateLexer("1 /* outer /* inner */ still outer */ 2")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	assertTypes(t, got, []token.TokenType{token.INT, token.INT, token.EOF})
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	scanner := CreateLexer("fn while iter myVar self")
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []token.TokenType{
		token.FUNC, token.WHILE, token.ITER, token.IDENTIFIER, token.THIS, token.EOF,
	}
	assertTypes(t, got, want)
}

func TestCSTModeAttachesTrivia(t *testing.T) {
	scanner := New("  1 // trailing\n+2", CST)
	got, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	if len(got[0].Leading) == 0 {
		t.Errorf("first token should carry its leading whitespace as trivia")
	}
	if len(got[0].Trailing) == 0 {
		t.Errorf("`1` should carry its trailing line comment as trivia")
	}
}
