package vm

import (
	"limit/ast"
	"limit/compiler"
	"testing"
)

func TestMatchPatternVariant(t *testing.T) {
	machine := New()
	machine.bytecode = compiler.Bytecode{
		Classes: []compiler.ClassRecord{
			{Name: "Some", FieldNames: []string{"value"}},
		},
	}

	instance := &Instance{ClassName: "Some", Fields: map[string]any{"value": int64(7)}}

	matches := ast.VariantPattern{Name: "Some", Arguments: []ast.Pattern{ast.LiteralPattern{Value: int64(7)}}}
	if !machine.matchPattern(matches, instance) {
		t.Fatalf("expected Some(7) to match Some(value: 7)")
	}

	mismatch := ast.VariantPattern{Name: "Some", Arguments: []ast.Pattern{ast.LiteralPattern{Value: int64(8)}}}
	if machine.matchPattern(mismatch, instance) {
		t.Fatalf("expected Some(8) not to match Some(value: 7)")
	}

	wrongClass := &Instance{ClassName: "None", Fields: map[string]any{}}
	if machine.matchPattern(ast.VariantPattern{Name: "Some", Arguments: []ast.Pattern{ast.WildcardPattern{}}}, wrongClass) {
		t.Fatalf("expected None instance not to match Some(_) pattern")
	}
}

func TestMatchPatternDict(t *testing.T) {
	machine := New()

	dict := NewDict()
	dict.Set("name", "ada")
	dict.Set("age", int64(36))

	pattern := ast.DictPattern{
		Entries: []ast.DictPatternEntry{
			{Key: "name", Pattern: ast.LiteralPattern{Value: "ada"}},
			{Key: "age", Pattern: ast.IdentifierPattern{Name: "age"}},
		},
	}
	if !machine.matchPattern(pattern, dict) {
		t.Fatalf("expected dict pattern to match")
	}

	missingKey := ast.DictPattern{
		Entries: []ast.DictPatternEntry{
			{Key: "missing", Pattern: ast.WildcardPattern{}},
		},
	}
	if machine.matchPattern(missingKey, dict) {
		t.Fatalf("expected pattern with missing key not to match")
	}
}

func TestMatchPatternGuardedDegradesToInner(t *testing.T) {
	machine := New()
	pattern := ast.GuardedPattern{Inner: ast.LiteralPattern{Value: int64(5)}}
	if !machine.matchPattern(pattern, int64(5)) {
		t.Fatalf("expected guarded pattern to fall back to its inner pattern")
	}
}

func TestMatchPatternRange(t *testing.T) {
	machine := New()
	pattern := ast.RangePattern{Start: int64(1), End: int64(10), Inclusive: true}
	if !machine.matchPattern(pattern, int64(10)) {
		t.Fatalf("expected 10 to match inclusive range 1..10")
	}
	exclusive := ast.RangePattern{Start: int64(1), End: int64(10), Inclusive: false}
	if machine.matchPattern(exclusive, int64(10)) {
		t.Fatalf("expected 10 not to match exclusive range 1...10")
	}
}
