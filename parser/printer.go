package parser

import (
	"encoding/json"
	"fmt"
	"limit/ast"
	"os"
)

const (
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// astPrinter implements the Visitor interfaces and builds a
// JSON-friendly representation of the AST using maps and slices.
// Each Visit method returns an object that can be marshaled to JSON.
type astPrinter struct{}

func (p astPrinter) VisitExpressionStmt(exprStmt ast.ExpressionStmt) any {
	return map[string]any{
		"type":       "ExpressionStmt",
		"expression": exprStmt.Expression.Accept(p),
	}
}

func (p astPrinter) VisitPrintStmt(printStmt ast.PrintStmt) any {
	arguments := make([]any, 0, len(printStmt.Arguments))
	for _, argument := range printStmt.Arguments {
		arguments = append(arguments, argument.Accept(p))
	}
	return map[string]any{
		"type":      "PrintStmt",
		"arguments": arguments,
	}
}

func (p astPrinter) VisitVarStmt(varStmt ast.VarStmt) any {
	return map[string]any{
		"type":        "VarStmt",
		"name":        varStmt.Name.Lexeme,
		"const":       varStmt.Const,
		"declaredType": nilOrType(varStmt.Type, p),
		"initializer": nilOrAccept(varStmt.Initializer, p),
	}
}

func (p astPrinter) VisitBlockStmt(blockStmt ast.BlockStmt) any {
	stmts := make([]any, 0, len(blockStmt.Statements))
	for _, stmt := range blockStmt.Statements {
		stmts = append(stmts, stmt.Accept(p))
	}
	return map[string]any{
		"type":       "BlockStmt",
		"statements": stmts,
	}
}

func (p astPrinter) VisitWhileStmt(stmt ast.WhileStmt) any {
	return map[string]any{
		"type":      "WhileStmt",
		"condition": stmt.Condition.Accept(p),
		"body":      stmt.Body.Accept(p),
	}
}

func (p astPrinter) VisitIfStmt(stmt ast.IfStmt) any {
	var elseVal any
	if stmt.Else != nil {
		elseVal = stmt.Else.Accept(p)
	} else {
		elseVal = nil
	}
	return map[string]any{
		"type":      "IfStmt",
		"condition": stmt.Condition.Accept(p),
		"then":      stmt.Then.Accept(p),
		"else":      elseVal,
	}
}

func (p astPrinter) VisitLogicalExpression(expr ast.Logical) any {
	return map[string]any{
		"type":     "Logical",
		"operator": expr.Operator.Lexeme,
		"left":     expr.Left.Accept(p),
		"right":    expr.Right.Accept(p),
	}
}

func (p astPrinter) VisitAssignExpression(assign ast.Assign) any {
	return map[string]any{
		"type":  "Assign",
		"name":  assign.Name.Lexeme,
		"value": assign.Value.Accept(p),
	}
}

func (p astPrinter) VisitVariableExpression(variable ast.Variable) any {
	return map[string]any{
		"type": "Variable",
		"name": variable.Name.Lexeme,
	}
}

func (p astPrinter) VisitBinary(b ast.Binary) any {
	return map[string]any{
		"type":     "Binary",
		"operator": b.Operator.Lexeme,
		"left":     b.Left.Accept(p),
		"right":    b.Right.Accept(p),
	}
}

func (p astPrinter) VisitUnary(u ast.Unary) any {
	return map[string]any{
		"type":     "Unary",
		"operator": u.Operator.Lexeme,
		"right":    u.Right.Accept(p),
	}
}

func (p astPrinter) VisitLiteral(l ast.Literal) any {
	// literals are terminal values and can be used directly in JSON
	return l.Value
}

func (p astPrinter) VisitGrouping(g ast.Grouping) any {
	return map[string]any{
		"type":       "Grouping",
		"expression": g.Expression.Accept(p),
	}
}

// nilOrAccept returns nil if expr is nil, otherwise it continues
// processintg the expression and returns the result.
func nilOrAccept(expr ast.Expression, p ast.ExpressionVisitor) any {
	if expr == nil {
		return nil
	}
	return expr.Accept(p)
}

func nilOrStmts(stmts []ast.Stmt, p astPrinter) []any {
	out := make([]any, 0, len(stmts))
	for _, stmt := range stmts {
		out = append(out, stmt.Accept(p))
	}
	return out
}

// nilOrType renders a TypeAnnotation as JSON. TypeAnnotation has no
// visitor of its own (it is syntax, not a value), so this is a plain
// type switch rather than an Accept dispatch.
func nilOrType(t ast.TypeAnnotation, p astPrinter) any {
	if t == nil {
		return nil
	}
	switch typed := t.(type) {
	case ast.NamedType:
		return map[string]any{"type": "NamedType", "name": typed.Name}
	case ast.ListType:
		return map[string]any{"type": "ListType", "element": nilOrType(typed.Element, p)}
	case ast.DictType:
		return map[string]any{"type": "DictType", "key": nilOrType(typed.Key, p), "value": nilOrType(typed.Value, p)}
	case ast.FunctionType:
		params := make([]any, 0, len(typed.Params))
		for _, param := range typed.Params {
			params = append(params, map[string]any{"name": param.Name, "type": nilOrType(param.Type, p), "optional": param.Optional})
		}
		return map[string]any{"type": "FunctionType", "params": params, "returnType": nilOrType(typed.ReturnType, p)}
	case ast.OptionalType:
		return map[string]any{"type": "OptionalType", "inner": nilOrType(typed.Inner, p)}
	case ast.ErrorUnionType:
		return map[string]any{"type": "ErrorUnionType", "success": nilOrType(typed.Success, p), "errorKinds": typed.ErrorKinds, "generic": typed.Generic}
	case ast.UnionType:
		alts := make([]any, 0, len(typed.Alternatives))
		for _, alt := range typed.Alternatives {
			alts = append(alts, nilOrType(alt, p))
		}
		return map[string]any{"type": "UnionType", "alternatives": alts}
	case ast.StructuralType:
		fields := make([]any, 0, len(typed.Fields))
		for _, field := range typed.Fields {
			fields = append(fields, map[string]any{"name": field.Name, "type": nilOrType(field.Type, p)})
		}
		return map[string]any{"type": "StructuralType", "fields": fields, "open": typed.Open}
	case ast.RefinedType:
		return map[string]any{"type": "RefinedType", "base": nilOrType(typed.Base, p), "predicate": typed.Predicate.Accept(p)}
	}
	return nil
}

// patternToJSON renders a match-arm Pattern as JSON via a type switch,
// mirroring nilOrType since Pattern is likewise syntax-only.
func patternToJSON(pattern ast.Pattern, p astPrinter) any {
	if pattern == nil {
		return nil
	}
	switch typed := pattern.(type) {
	case ast.LiteralPattern:
		return map[string]any{"type": "LiteralPattern", "value": typed.Value}
	case ast.IdentifierPattern:
		return map[string]any{"type": "IdentifierPattern", "name": typed.Name}
	case ast.WildcardPattern:
		return map[string]any{"type": "WildcardPattern"}
	case ast.ListPattern:
		elements := make([]any, 0, len(typed.Elements))
		for _, elem := range typed.Elements {
			elements = append(elements, patternToJSON(elem, p))
		}
		return map[string]any{"type": "ListPattern", "elements": elements}
	case ast.DictPattern:
		entries := make([]any, 0, len(typed.Entries))
		for _, entry := range typed.Entries {
			entries = append(entries, map[string]any{"key": entry.Key, "pattern": patternToJSON(entry.Pattern, p)})
		}
		return map[string]any{"type": "DictPattern", "entries": entries}
	case ast.VariantPattern:
		args := make([]any, 0, len(typed.Arguments))
		for _, arg := range typed.Arguments {
			args = append(args, patternToJSON(arg, p))
		}
		return map[string]any{"type": "VariantPattern", "name": typed.Name, "arguments": args}
	case ast.RangePattern:
		return map[string]any{"type": "RangePattern", "start": typed.Start, "end": typed.End, "inclusive": typed.Inclusive}
	case ast.GuardedPattern:
		return map[string]any{"type": "GuardedPattern", "inner": patternToJSON(typed.Inner, p), "guard": typed.Guard.Accept(p)}
	}
	return nil
}

func (p astPrinter) VisitForStmt(stmt ast.ForStmt) any {
	var initVal any
	if stmt.Init != nil {
		initVal = stmt.Init.Accept(p)
	}
	return map[string]any{
		"type":      "ForStmt",
		"init":      initVal,
		"condition": nilOrAccept(stmt.Condition, p),
		"step":      nilOrAccept(stmt.Step, p),
		"body":      stmt.Body.Accept(p),
	}
}

func (p astPrinter) VisitIterStmt(stmt ast.IterStmt) any {
	bindings := make([]string, 0, len(stmt.Bindings))
	for _, binding := range stmt.Bindings {
		bindings = append(bindings, binding.Lexeme)
	}
	return map[string]any{
		"type":     "IterStmt",
		"bindings": bindings,
		"iterable": stmt.Iterable.Accept(p),
		"body":     stmt.Body.Accept(p),
	}
}

func (p astPrinter) VisitReturnStmt(stmt ast.ReturnStmt) any {
	return map[string]any{
		"type":  "ReturnStmt",
		"value": nilOrAccept(stmt.Value, p),
	}
}

func (p astPrinter) VisitBreakStmt(stmt ast.BreakStmt) any {
	return map[string]any{"type": "BreakStmt"}
}

func (p astPrinter) VisitContinueStmt(stmt ast.ContinueStmt) any {
	return map[string]any{"type": "ContinueStmt"}
}

func paramsToJSON(params []ast.Param, p astPrinter) []any {
	out := make([]any, 0, len(params))
	for _, param := range params {
		out = append(out, map[string]any{
			"name":     param.Name.Lexeme,
			"type":     nilOrType(param.Type, p),
			"default":  nilOrAccept(param.Default, p),
			"optional": param.Optional,
		})
	}
	return out
}

func (p astPrinter) VisitFunctionStmt(stmt ast.FunctionStmt) any {
	return map[string]any{
		"type":        "FunctionStmt",
		"name":        stmt.Name.Lexeme,
		"params":      paramsToJSON(stmt.Params, p),
		"returnType":  nilOrType(stmt.ReturnType, p),
		"throws":      stmt.Throws,
		"annotations": stmt.Annotations,
		"body":        nilOrStmts(stmt.Body, p),
	}
}

func (p astPrinter) VisitClassStmt(stmt ast.ClassStmt) any {
	fields := make([]any, 0, len(stmt.Fields))
	for _, field := range stmt.Fields {
		fields = append(fields, map[string]any{
			"name":        field.Name.Lexeme,
			"type":        nilOrType(field.Type, p),
			"default":     nilOrAccept(field.Default, p),
			"annotations": field.Annotations,
		})
	}
	methods := make([]any, 0, len(stmt.Methods))
	for _, method := range stmt.Methods {
		methods = append(methods, p.VisitFunctionStmt(method))
	}
	return map[string]any{
		"type":       "ClassStmt",
		"name":       stmt.Name.Lexeme,
		"super":      stmt.Super,
		"interfaces": stmt.Interfaces,
		"fields":     fields,
		"methods":    methods,
	}
}

func (p astPrinter) VisitInterfaceStmt(stmt ast.InterfaceStmt) any {
	methods := make([]any, 0, len(stmt.Methods))
	for _, method := range stmt.Methods {
		methods = append(methods, nilOrType(method, p))
	}
	return map[string]any{
		"type":    "InterfaceStmt",
		"name":    stmt.Name.Lexeme,
		"methods": methods,
	}
}

func (p astPrinter) VisitTraitStmt(stmt ast.TraitStmt) any {
	methods := make([]any, 0, len(stmt.Methods))
	for _, method := range stmt.Methods {
		methods = append(methods, p.VisitFunctionStmt(method))
	}
	return map[string]any{
		"type":    "TraitStmt",
		"name":    stmt.Name.Lexeme,
		"methods": methods,
	}
}

func (p astPrinter) VisitTypeAliasStmt(stmt ast.TypeAliasStmt) any {
	return map[string]any{
		"type": "TypeAliasStmt",
		"name": stmt.Name.Lexeme,
		"aliasedType": nilOrType(stmt.Type, p),
	}
}

func (p astPrinter) VisitModuleStmt(stmt ast.ModuleStmt) any {
	return map[string]any{
		"type": "ModuleStmt",
		"name": stmt.Name.Lexeme,
		"body": nilOrStmts(stmt.Body, p),
	}
}

func (p astPrinter) VisitImportStmt(stmt ast.ImportStmt) any {
	return map[string]any{
		"type":  "ImportStmt",
		"path":  stmt.Path,
		"alias": stmt.Alias,
		"show":  stmt.Show,
		"hide":  stmt.Hide,
	}
}

func (p astPrinter) VisitMatchStmt(stmt ast.MatchStmt) any {
	cases := make([]any, 0, len(stmt.Cases))
	for _, matchCase := range stmt.Cases {
		cases = append(cases, map[string]any{
			"pattern": patternToJSON(matchCase.Pattern, p),
			"body":    nilOrStmts(matchCase.Body, p),
		})
	}
	return map[string]any{
		"type":    "MatchStmt",
		"subject": stmt.Subject.Accept(p),
		"cases":   cases,
	}
}

func (p astPrinter) VisitAttemptStmt(stmt ast.AttemptStmt) any {
	handlers := make([]any, 0, len(stmt.Handlers))
	for _, handler := range stmt.Handlers {
		handlers = append(handlers, map[string]any{
			"errorKind": handler.ErrorKind,
			"binding":   handler.Binding,
			"body":      nilOrStmts(handler.Body, p),
		})
	}
	return map[string]any{
		"type":     "AttemptStmt",
		"body":     nilOrStmts(stmt.Body, p),
		"handlers": handlers,
	}
}

func (p astPrinter) VisitParallelStmt(stmt ast.ParallelStmt) any {
	return map[string]any{
		"type":    "ParallelStmt",
		"cores":   nilOrAccept(stmt.Cores, p),
		"onError": int(stmt.OnError),
		"timeout": nilOrAccept(stmt.Timeout, p),
		"body":    nilOrStmts(stmt.Body, p),
	}
}

func (p astPrinter) VisitConcurrentStmt(stmt ast.ConcurrentStmt) any {
	return map[string]any{
		"type": "ConcurrentStmt",
		"body": nilOrStmts(stmt.Body, p),
	}
}

func (p astPrinter) VisitTaskStmt(stmt ast.TaskStmt) any {
	return map[string]any{
		"type":       "TaskStmt",
		"expression": stmt.Expression.Accept(p),
	}
}

func (p astPrinter) VisitUnsafeStmt(stmt ast.UnsafeStmt) any {
	return map[string]any{
		"type": "UnsafeStmt",
		"body": nilOrStmts(stmt.Body, p),
	}
}

func (p astPrinter) VisitContractStmt(stmt ast.ContractStmt) any {
	return map[string]any{
		"type":      "ContractStmt",
		"predicate": stmt.Predicate.Accept(p),
	}
}

func (p astPrinter) VisitComptimeStmt(stmt ast.ComptimeStmt) any {
	return map[string]any{
		"type": "ComptimeStmt",
		"body": nilOrStmts(stmt.Body, p),
	}
}

func (p astPrinter) VisitTernary(ternary ast.Ternary) any {
	return map[string]any{
		"type":      "Ternary",
		"condition": ternary.Condition.Accept(p),
		"then":      ternary.Then.Accept(p),
		"else":      ternary.Else.Accept(p),
	}
}

func (p astPrinter) VisitCall(call ast.Call) any {
	arguments := make([]any, 0, len(call.Arguments))
	for _, argument := range call.Arguments {
		arguments = append(arguments, map[string]any{"name": argument.Name, "value": argument.Value.Accept(p)})
	}
	return map[string]any{
		"type":      "Call",
		"callee":    call.Callee.Accept(p),
		"arguments": arguments,
	}
}

func (p astPrinter) VisitIndex(index ast.Index) any {
	return map[string]any{
		"type":   "Index",
		"target": index.Target.Accept(p),
		"index":  index.Index.Accept(p),
	}
}

func (p astPrinter) VisitMember(member ast.Member) any {
	return map[string]any{
		"type":   "Member",
		"target": member.Target.Accept(p),
		"name":   member.Name.Lexeme,
	}
}

func (p astPrinter) VisitCompoundAssign(assign ast.CompoundAssign) any {
	return map[string]any{
		"type":     "CompoundAssign",
		"target":   assign.Target.Accept(p),
		"operator": assign.Operator.Lexeme,
		"value":    assign.Value.Accept(p),
	}
}

func (p astPrinter) VisitListLiteral(list ast.ListLiteral) any {
	elements := make([]any, 0, len(list.Elements))
	for _, elem := range list.Elements {
		elements = append(elements, elem.Accept(p))
	}
	return map[string]any{
		"type":     "ListLiteral",
		"elements": elements,
	}
}

func (p astPrinter) VisitDictLiteral(dict ast.DictLiteral) any {
	entries := make([]any, 0, len(dict.Entries))
	for _, entry := range dict.Entries {
		entries = append(entries, map[string]any{"key": entry.Key.Accept(p), "value": entry.Value.Accept(p)})
	}
	return map[string]any{
		"type":    "DictLiteral",
		"entries": entries,
	}
}

func (p astPrinter) VisitRange(rangeExpr ast.Range) any {
	return map[string]any{
		"type":      "Range",
		"start":     rangeExpr.Start.Accept(p),
		"end":       rangeExpr.End.Accept(p),
		"inclusive": rangeExpr.Inclusive,
	}
}

func (p astPrinter) VisitInterpolatedString(str ast.InterpolatedString) any {
	parts := make([]any, 0, len(str.Parts))
	for _, part := range str.Parts {
		if part.Expr != nil {
			parts = append(parts, map[string]any{"expr": part.Expr.Accept(p)})
		} else {
			parts = append(parts, map[string]any{"text": part.Text})
		}
	}
	return map[string]any{
		"type":  "InterpolatedString",
		"parts": parts,
	}
}

func (p astPrinter) VisitFunctionExpression(fn ast.FunctionExpression) any {
	return map[string]any{
		"type":       "FunctionExpression",
		"params":     paramsToJSON(fn.Params, p),
		"returnType": nilOrType(fn.ReturnType, p),
		"throws":     fn.Throws,
		"body":       nilOrStmts(fn.Body, p),
	}
}

func (p astPrinter) VisitPropagate(propagate ast.Propagate) any {
	return map[string]any{
		"type":    "Propagate",
		"operand": propagate.Operand.Accept(p),
	}
}

func (p astPrinter) VisitElseHandler(handler ast.ElseHandler) any {
	return map[string]any{
		"type":    "ElseHandler",
		"operand": handler.Operand.Accept(p),
		"errName": handler.ErrName,
		"block":   nilOrStmts(handler.Block, p),
	}
}

func (p astPrinter) VisitThis(this ast.This) any {
	return map[string]any{"type": "This"}
}

// PrintASTJSON converts a slice of statements into a prettified JSON string.
func PrintASTJSON(statements []ast.Stmt) (string, error) {
	printer := astPrinter{}
	out := make([]any, 0, len(statements))
	for _, s := range statements {
		out = append(out, s.Accept(printer))
	}
	bytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}

	jsonStr := string(bytes)
	fmt.Println(colorYellow + "----- AST JSON -----")
	fmt.Println(colorYellow + jsonStr)
	fmt.Println(colorYellow + "-----" + colorReset)
	fmt.Println("")
	return jsonStr, nil
}

// WriteASTJSONToFile writes the prettified AST JSON to the given file path.
func WriteASTJSONToFile(statements []ast.Stmt, path string) error {
	s, err := PrintASTJSON(statements)
	if err != nil {
		return err
	}
	fDescriptor, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating AST file: %s", err.Error())
	}

	_, error := fDescriptor.Write([]byte(s))
	if error != nil {
		return fmt.Errorf("error writing AST to file: %s", error.Error())
	}
	defer fDescriptor.Close()
	return nil
}
