// types.go contains the AST-level representation of parsed type syntax.
// These are syntactic shapes only; the checker package lowers them to the
// canonical type descriptors described by its own `types` model.

package ast

// NamedType is a bare type name, e.g. `Int`, `Str`, or a user-defined
// class/alias/interface name.
type NamedType struct {
	Name string
}

func (NamedType) typeAnnotationNode() {}

// ListType is `[ElementType]`.
type ListType struct {
	Element TypeAnnotation
}

func (ListType) typeAnnotationNode() {}

// DictType is `{KeyType: ValueType}`.
type DictType struct {
	Key   TypeAnnotation
	Value TypeAnnotation
}

func (DictType) typeAnnotationNode() {}

// FunctionTypeParam is one parameter slot in a function type signature.
type FunctionTypeParam struct {
	Name     string
	Type     TypeAnnotation
	Optional bool
}

// FunctionType is `(p1: T1, p2: T2) -> R` / `(p1: T1) -> R?E`.
type FunctionType struct {
	Params     []FunctionTypeParam
	ReturnType TypeAnnotation
}

func (FunctionType) typeAnnotationNode() {}

// OptionalType is the `T?` sugar for `Union{T, Nil}`.
type OptionalType struct {
	Inner TypeAnnotation
}

func (OptionalType) typeAnnotationNode() {}

// ErrorUnionType is `T?Err1,Err2` (explicit error kinds). The parser builds
// it only when kinds follow the `?`; a bare `T?` parses as OptionalType, so
// the parser never sets Generic.
type ErrorUnionType struct {
	Success    TypeAnnotation
	ErrorKinds []string // empty + Generic == true means the unnamed generic error union
	Generic    bool
}

func (ErrorUnionType) typeAnnotationNode() {}

// UnionType is an explicit `A | B | C` union.
type UnionType struct {
	Alternatives []TypeAnnotation
}

func (UnionType) typeAnnotationNode() {}

// StructuralField is one named field of a structural (record) type.
type StructuralField struct {
	Name string
	Type TypeAnnotation
}

// StructuralType is `{a: Int, b: Str}` used in type position (as opposed
// to a DictLiteral value), and may be open (admits extra fields) or
// closed.
type StructuralType struct {
	Fields []StructuralField
	Open   bool
}

func (StructuralType) typeAnnotationNode() {}

// RefinedType is `T where predicate`; the predicate is kept as an AST
// expression and compiled as a runtime `contract(...)` assertion rather
// than enforced structurally (per the open design question on refined
// types).
type RefinedType struct {
	Base      TypeAnnotation
	Predicate Expression
}

func (RefinedType) typeAnnotationNode() {}
