package cst

import (
	"limit/lexer"
	"testing"
)

func assertRoundTrip(t *testing.T, source string) {
	t.Helper()
	scanner := lexer.New(source, lexer.CST)
	tokens, err := scanner.Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	got := ReconstructSource(tokens)
	if got != source {
		t.Fatalf("ReconstructSource() = %q, want %q", got, source)
	}
}

func TestReconstructSourcePlain(t *testing.T) {
	assertRoundTrip(t, "var x = 1 + 2 * 3\n")
}

func TestReconstructSourceWithComments(t *testing.T) {
	assertRoundTrip(t, "// leading comment\nfn add(a, b) {\n  return a + b // trailing\n}\n")
}

func TestReconstructSourceWithBlockComment(t *testing.T) {
	assertRoundTrip(t, "var x /* inline */ = 1\n")
}

func TestReconstructSourceStringLiteral(t *testing.T) {
	assertRoundTrip(t, `var s = "hello\nworld"`)
}

func TestReconstructSourceStringWithEscapes(t *testing.T) {
	assertRoundTrip(t, `var s = "tab:\t quote:\" slash:\\"`)
}

func TestReconstructSourceInterpolatedString(t *testing.T) {
	assertRoundTrip(t, `var s = "hi {name}, you are {age} years old"`)
}

func TestReconstructSourceSingleQuoted(t *testing.T) {
	assertRoundTrip(t, `var s = 'single {x} quoted'`)
}

func TestReconstructSourceTrailingWhitespace(t *testing.T) {
	assertRoundTrip(t, "var x = 1   \n\n")
}
