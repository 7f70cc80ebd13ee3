// Package checker sits between the parser and the compiler. It resolves
// names against their declaring scope, validates that `err(Kind, ...)`
// constructions name a kind the enclosing function actually declares in
// its `throws` clause, and requires every `match` to carry a catch-all
// arm. It does not attempt full type inference: the language's type
// annotations are checked for internal consistency (e.g. a declared
// `throws` list referenced by `err`) rather than unified against
// expression types, which would need a substantially larger constraint
// solver than this pipeline stage budgets for.
//
// Rather than implementing the dual ExpressionVisitor/StmtVisitor
// interfaces (ast/interfaces.go) in full, this package walks the tree with
// ordinary type switches. That interface exists to let backends (the
// compiler, the printer) dispatch without a switch; the checker has no
// backend obligations of its own, only a tree to read, so a switch-based
// walk is the more direct fit and a deliberately smaller surface to get
// right without a compiler to catch mistakes.
package checker

import (
	"limit/ast"
	"limit/token"
)

// scope is one lexical block's set of visible names. funcs/classes/etc.
// declared at module scope are hoisted into scope before bodies are
// walked, so forward references and mutual recursion resolve.
type scope struct {
	names  map[string]bool
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{names: make(map[string]bool), parent: parent}
}

func (s *scope) declare(name string) {
	s.names[name] = true
}

func (s *scope) resolves(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return true
		}
	}
	return false
}

// funcContext tracks the error kinds the innermost enclosing function (or
// method) is allowed to construct via err(...), and whether it declared a
// generic (unparameterized) error union, in which case any kind is legal.
type funcContext struct {
	throws  map[string]bool
	generic bool
}

type checker struct {
	diagnostics Diagnostics
	scope       *scope
	funcs       []funcContext
	// poisoned suppresses repeat "undeclared name" diagnostics for the
	// same name anywhere in the walk once reported, so a single typo
	// used many times doesn't flood the output with duplicates.
	poisoned map[string]bool
}

// Check runs name resolution, err()/throws validation, and match
// exhaustiveness over a parsed program and returns every diagnostic
// found. An empty Diagnostics means the program is safe to compile.
func Check(statements []ast.Stmt) *Diagnostics {
	c := &checker{
		scope:    newScope(nil),
		poisoned: make(map[string]bool),
	}
	c.hoist(statements)
	for _, stmt := range statements {
		c.checkStmt(stmt)
	}
	return &c.diagnostics
}

// hoist registers top-level declarations before any body is walked, so
// functions/classes/modules can reference each other regardless of
// declaration order.
func (c *checker) hoist(statements []ast.Stmt) {
	for _, stmt := range statements {
		switch s := stmt.(type) {
		case ast.FunctionStmt:
			c.scope.declare(s.Name.Lexeme)
		case ast.ClassStmt:
			c.scope.declare(s.Name.Lexeme)
		case ast.InterfaceStmt:
			c.scope.declare(s.Name.Lexeme)
		case ast.TraitStmt:
			c.scope.declare(s.Name.Lexeme)
		case ast.TypeAliasStmt:
			c.scope.declare(s.Name.Lexeme)
		case ast.ModuleStmt:
			c.scope.declare(s.Name.Lexeme)
		case ast.VarStmt:
			c.scope.declare(s.Name.Lexeme)
		}
	}
}

func (c *checker) pushScope() {
	c.scope = newScope(c.scope)
}

func (c *checker) popScope() {
	c.scope = c.scope.parent
}

func (c *checker) checkStmts(statements []ast.Stmt) {
	for _, stmt := range statements {
		c.checkStmt(stmt)
	}
}

func (c *checker) checkBlock(statements []ast.Stmt) {
	c.pushScope()
	c.checkStmts(statements)
	c.popScope()
}

func (c *checker) checkStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case ast.ExpressionStmt:
		c.checkExpr(s.Expression)
	case ast.PrintStmt:
		for _, arg := range s.Arguments {
			c.checkExpr(arg)
		}
	case ast.VarStmt:
		if s.Initializer != nil {
			c.checkExpr(s.Initializer)
		}
		c.scope.declare(s.Name.Lexeme)
	case ast.BlockStmt:
		c.checkBlock(s.Statements)
	case ast.IfStmt:
		c.checkExpr(s.Condition)
		c.checkStmt(s.Then)
		if s.Else != nil {
			c.checkStmt(s.Else)
		}
	case ast.WhileStmt:
		c.checkExpr(s.Condition)
		c.checkStmt(s.Body)
	case ast.ForStmt:
		c.pushScope()
		if s.Init != nil {
			c.checkStmt(s.Init)
		}
		if s.Condition != nil {
			c.checkExpr(s.Condition)
		}
		if s.Step != nil {
			c.checkExpr(s.Step)
		}
		c.checkStmt(s.Body)
		c.popScope()
	case ast.IterStmt:
		c.checkExpr(s.Iterable)
		c.pushScope()
		for _, binding := range s.Bindings {
			c.scope.declare(binding.Lexeme)
		}
		c.checkStmt(s.Body)
		c.popScope()
	case ast.ReturnStmt:
		if s.Value != nil {
			c.checkExpr(s.Value)
		}
	case ast.BreakStmt, ast.ContinueStmt:
		// nothing to resolve
	case ast.FunctionStmt:
		c.checkFunction(s.Params, s.ReturnType, s.Throws, s.Body)
	case ast.ClassStmt:
		c.checkClass(s)
	case ast.InterfaceStmt, ast.TypeAliasStmt:
		// signature-only declarations; nothing in their shape references
		// a runtime name the checker needs to resolve.
	case ast.TraitStmt:
		for _, method := range s.Methods {
			c.checkFunction(method.Params, method.ReturnType, method.Throws, method.Body)
		}
	case ast.ModuleStmt:
		c.pushScope()
		c.hoist(s.Body)
		c.checkStmts(s.Body)
		c.popScope()
	case ast.ImportStmt:
		for _, name := range s.Show {
			c.scope.declare(name)
		}
		if s.Alias != "" {
			c.scope.declare(s.Alias)
		} else if len(s.Path) > 0 {
			c.scope.declare(s.Path[len(s.Path)-1])
		}
	case ast.MatchStmt:
		c.checkMatch(s)
	case ast.AttemptStmt:
		c.checkBlock(s.Body)
		for _, handler := range s.Handlers {
			c.pushScope()
			if handler.Binding != "" {
				c.scope.declare(handler.Binding)
			}
			c.checkStmts(handler.Body)
			c.popScope()
		}
	case ast.ParallelStmt:
		if s.Cores != nil {
			c.checkExpr(s.Cores)
		}
		if s.Timeout != nil {
			c.checkExpr(s.Timeout)
		}
		c.checkBlock(s.Body)
	case ast.ConcurrentStmt:
		c.checkBlock(s.Body)
	case ast.TaskStmt:
		c.checkExpr(s.Expression)
	case ast.UnsafeStmt:
		c.diagnostics.add(s.Keyword.Line, s.Keyword.Column, "unsafe blocks are not yet supported")
	case ast.ContractStmt:
		c.checkExpr(s.Predicate)
	case ast.ComptimeStmt:
		c.diagnostics.add(s.Keyword.Line, s.Keyword.Column, "comptime blocks are not yet supported")
	}
}

func (c *checker) checkClass(s ast.ClassStmt) {
	c.pushScope()
	c.scope.declare("this")
	for _, field := range s.Fields {
		c.scope.declare(field.Name.Lexeme)
		if field.Default != nil {
			c.checkExpr(field.Default)
		}
	}
	for _, method := range s.Methods {
		c.checkFunction(method.Params, method.ReturnType, method.Throws, method.Body)
	}
	c.popScope()
}

func (c *checker) checkFunction(params []ast.Param, returnType ast.TypeAnnotation, throws []string, body []ast.Stmt) {
	kinds := make(map[string]bool, len(throws))
	generic := false
	for _, k := range throws {
		kinds[k] = true
	}
	if union, ok := returnType.(ast.ErrorUnionType); ok {
		generic = union.Generic
		for _, k := range union.ErrorKinds {
			kinds[k] = true
		}
	}
	c.funcs = append(c.funcs, funcContext{throws: kinds, generic: generic})
	c.pushScope()
	for _, param := range params {
		c.scope.declare(param.Name.Lexeme)
		if param.Default != nil {
			c.checkExpr(param.Default)
		}
	}
	c.checkStmts(body)
	c.popScope()
	c.funcs = c.funcs[:len(c.funcs)-1]
}

func (c *checker) checkMatch(stmt ast.MatchStmt) {
	c.checkExpr(stmt.Subject)
	exhaustive := false
	for _, matchCase := range stmt.Cases {
		if isCatchAll(matchCase.Pattern) {
			exhaustive = true
		}
		c.pushScope()
		c.bindPattern(matchCase.Pattern)
		c.checkStmts(matchCase.Body)
		c.popScope()
	}
	if !exhaustive {
		line, column := exprPos(stmt.Subject)
		c.diagnostics.add(line, column, "match is not exhaustive: add a wildcard (`_`) or binding arm to cover remaining cases")
	}
}

// isCatchAll reports whether a pattern matches unconditionally. This is a
// conservative exhaustiveness check: it does not attempt to prove that a
// set of variant/literal arms covers every constructor of a closed type,
// only that some arm exists with no way to fail to match.
func isCatchAll(pattern ast.Pattern) bool {
	switch pattern.(type) {
	case ast.WildcardPattern:
		return true
	case ast.IdentifierPattern:
		return true
	case ast.GuardedPattern:
		return false // a guard can always reject, so it never completes exhaustiveness alone
	default:
		return false
	}
}

func (c *checker) bindPattern(pattern ast.Pattern) {
	switch p := pattern.(type) {
	case ast.IdentifierPattern:
		c.scope.declare(p.Name)
	case ast.WildcardPattern, ast.LiteralPattern, ast.RangePattern:
		// bind nothing
	case ast.ListPattern:
		for _, element := range p.Elements {
			c.bindPattern(element)
		}
	case ast.DictPattern:
		for _, entry := range p.Entries {
			c.bindPattern(entry.Pattern)
		}
	case ast.VariantPattern:
		for _, arg := range p.Arguments {
			c.bindPattern(arg)
		}
	case ast.GuardedPattern:
		c.bindPattern(p.Inner)
		c.checkExpr(p.Guard)
	}
}

func (c *checker) checkExpr(expr ast.Expression) {
	switch e := expr.(type) {
	case ast.Binary:
		c.checkExpr(e.Left)
		c.checkExpr(e.Right)
	case ast.Unary:
		c.checkExpr(e.Right)
	case ast.Literal:
		// nothing to resolve
	case ast.Grouping:
		c.checkExpr(e.Expression)
	case ast.Variable:
		c.checkName(e.Name)
	case ast.Assign:
		c.checkExpr(e.Value)
		c.checkName(e.Name)
	case ast.Logical:
		c.checkExpr(e.Left)
		c.checkExpr(e.Right)
	case ast.Ternary:
		c.checkExpr(e.Condition)
		c.checkExpr(e.Then)
		c.checkExpr(e.Else)
	case ast.Call:
		c.checkCall(e)
	case ast.Index:
		c.checkExpr(e.Target)
		c.checkExpr(e.Index)
	case ast.Member:
		c.checkExpr(e.Target)
	case ast.CompoundAssign:
		c.checkExpr(e.Target)
		c.checkExpr(e.Value)
	case ast.ListLiteral:
		for _, element := range e.Elements {
			c.checkExpr(element)
		}
	case ast.DictLiteral:
		for _, entry := range e.Entries {
			c.checkExpr(entry.Key)
			c.checkExpr(entry.Value)
		}
	case ast.Range:
		c.checkExpr(e.Start)
		c.checkExpr(e.End)
	case ast.InterpolatedString:
		for _, part := range e.Parts {
			if part.Expr != nil {
				c.checkExpr(part.Expr)
			}
		}
	case ast.FunctionExpression:
		c.checkFunction(e.Params, e.ReturnType, e.Throws, e.Body)
	case ast.Propagate:
		c.checkExpr(e.Operand)
	case ast.ElseHandler:
		c.checkExpr(e.Operand)
		c.pushScope()
		c.scope.declare(e.ErrName)
		c.checkStmts(e.Block)
		c.popScope()
	case ast.This:
		c.checkName(e.Keyword)
	}
}

// checkName resolves an identifier reference, poisoning it so repeated
// uses of the same undeclared name in the same walk don't each produce a
// diagnostic.
func (c *checker) checkName(name token.Token) {
	if c.scope.resolves(name.Lexeme) || isBuiltin(name.Lexeme) {
		return
	}
	if c.poisoned[name.Lexeme] {
		return
	}
	c.poisoned[name.Lexeme] = true
	c.diagnostics.add(name.Line, name.Column, "undeclared name '%s'", name.Lexeme)
}

// isBuiltin recognizes names that are always in scope rather than
// requiring a prior declaration: `ok`/`err` error-union constructors and
// `channel`/`atomic`/`sleep` concurrency primitives (all lowered specially
// by the compiler, see compiler.VisitCall), and `this`/`self`.
func isBuiltin(name string) bool {
	switch name {
	case "ok", "err", "this", "self", "channel", "atomic", "sleep":
		return true
	default:
		return false
	}
}

func (c *checker) checkCall(call ast.Call) {
	if callee, ok := call.Callee.(ast.Variable); ok && callee.Name.Lexeme == "err" {
		c.checkErrConstruction(call)
		return
	}
	c.checkExpr(call.Callee)
	for _, arg := range call.Arguments {
		c.checkExpr(arg.Value)
	}
}

// checkErrConstruction validates that err(Kind, ...) names an error kind
// declared in the enclosing function's `throws` clause (or that the
// function declared a generic error union, which accepts any kind).
func (c *checker) checkErrConstruction(call ast.Call) {
	for _, arg := range call.Arguments {
		c.checkExpr(arg.Value)
	}
	if len(call.Arguments) == 0 {
		return
	}
	kindArg, ok := call.Arguments[0].Value.(ast.Variable)
	if !ok {
		return // kind given dynamically; nothing static to check
	}
	if len(c.funcs) == 0 {
		c.diagnostics.add(kindArg.Name.Line, kindArg.Name.Column, "err(%s, ...) used outside of a function that declares errors it throws", kindArg.Name.Lexeme)
		return
	}
	current := c.funcs[len(c.funcs)-1]
	if current.generic || current.throws[kindArg.Name.Lexeme] {
		return
	}
	c.diagnostics.add(kindArg.Name.Line, kindArg.Name.Column, "undeclared error kind '%s': add it to the enclosing function's throws clause", kindArg.Name.Lexeme)
}

// exprPos best-efforts a source position out of an expression for
// diagnostics that don't have a dedicated token of their own (MatchStmt
// carries no token; its Subject usually does).
func exprPos(expr ast.Expression) (int32, int) {
	switch e := expr.(type) {
	case ast.Variable:
		return e.Name.Line, e.Name.Column
	case ast.Call:
		return exprPos(e.Callee)
	case ast.Member:
		return exprPos(e.Target)
	case ast.Index:
		return exprPos(e.Target)
	case ast.Grouping:
		return exprPos(e.Expression)
	default:
		return 0, 0
	}
}
