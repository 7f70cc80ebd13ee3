// Recursive descent parser
// https://en.wikipedia.org/wiki/Recursive_descent_parser

//	A Recursive descent parser is a top-down parser because it starts from the top
//
// grammar rule and works its way down in to the nested sub-experessions before reaching
// the leaves of the syntax tree (terminal rules)
package parser

import (
	"fmt"
	"limit/ast"
	"limit/token"
)

// maxParseErrors bounds how many errors a single Parse() call collects
// before giving up, so a badly malformed file can't make error recovery
// loop forever.
const maxParseErrors = 20

var assignTokenTypes = []token.TokenType{
	token.ASSIGN,
	token.PLUS_ASSIGN,
	token.MINUS_ASSIGN,
	token.STAR_ASSIGN,
	token.SLASH_ASSIGN,
	token.MOD_ASSIGN,
}

var comparisonTokenTypes = []token.TokenType{
	token.LARGER,
	token.LARGER_EQUAL,
	token.LESS,
	token.LESS_EQUAL,
}

var equalityTokenTypes = []token.TokenType{
	token.NOT_EQUAL,
	token.EQUAL_EQUAL,
}

var termTokenTypes = []token.TokenType{
	token.SUB,
	token.ADD,
}

var factorExpressionTypes = []token.TokenType{
	token.MULT,
	token.DIV,
	token.MOD,
}

var unaryExpressionTypes = []token.TokenType{
	token.BANG,
	token.SUB,
}

type Parser struct {
	tokens   []token.Token
	position int
}

// NOTE: The parsers position is always one unit ahead of the
// current token

// Make initializes and returns a new Parser instance over the given tokens.
func Make(tokens []token.Token) *Parser {
	return &Parser{
		tokens:   tokens,
		position: 0,
	}
}

// Print prints the AST as prettified JSON to standard output.
func (parser *Parser) Print(statements []ast.Stmt) {
	_, err := PrintASTJSON(statements)
	if err != nil {
		fmt.Println("error producing AST JSON:", err)
	}
}

// PrintToFile writes the AST for the provided statements to a .json file at the given path.
func (parser *Parser) PrintToFile(statements []ast.Stmt, path string) error {
	return WriteASTJSONToFile(statements, path)
}

func (parser *Parser) peek() token.Token {
	return parser.tokens[parser.position]
}

func (parser *Parser) peekNext() token.Token {
	if parser.position+1 >= len(parser.tokens) {
		return parser.tokens[len(parser.tokens)-1]
	}
	return parser.tokens[parser.position+1]
}

func (parser *Parser) previous() token.Token {
	return parser.tokens[parser.position-1]
}

func (parser *Parser) advance() token.Token {
	if !parser.isFinished() {
		parser.position++
	}
	return parser.previous()
}

func (parser *Parser) isFinished() bool {
	tok := parser.peek()
	return tok.TokenType == token.EOF
}

func (parser *Parser) checkType(tokeType token.TokenType) bool {
	if parser.isFinished() {
		return false
	}
	tok := parser.peek()
	return tok.TokenType == tokeType
}

func (parser *Parser) isMatch(tokenTypes []token.TokenType) bool {
	for i := range tokenTypes {
		tokenType := tokenTypes[i]

		if parser.checkType(tokenType) {
			parser.advance()
			return true
		}
	}
	return false
}

// Parse parses the entire token stream into a slice of Stmt (statement) nodes,
// continuing until the end of input or the error cap is reached. Errors
// during parsing are collected but parsing continues (resynchronizing at
// the next statement boundary) to surface additional errors where possible.
//
// Returns:
//   - []Stmt: the successfully parsed statements.
//   - []error: all errors that occurred during parsing.
func (parser *Parser) Parse() ([]ast.Stmt, []error) {
	statements := []ast.Stmt{}
	errors := []error{}

	for {
		if parser.isFinished() {
			break
		}
		if len(errors) >= maxParseErrors {
			errors = append(errors, CreateSyntaxError(parser.peek().Line, parser.peek().Column, "too many syntax errors, aborting parse"))
			break
		}
		statement, err := parser.declaration()
		if err != nil {
			errors = append(errors, err)
			parser.synchronize()
			continue
		}
		statements = append(statements, statement)
	}

	return statements, errors
}

// synchronize discards tokens until it reaches a plausible statement
// boundary (a statement-terminating ';', the end of a block '}', or a
// token that begins a new declaration/statement), so that one syntax
// error does not cascade into a wall of spurious follow-on errors.
func (parser *Parser) synchronize() {
	if !parser.isFinished() {
		parser.advance()
	}
	for !parser.isFinished() {
		if parser.previous().TokenType == token.SEMICOLON {
			return
		}
		if parser.previous().TokenType == token.RCUR {
			return
		}
		switch parser.peek().TokenType {
		case token.CLASS, token.FUNC, token.VAR, token.CONST, token.FOR,
			token.IF, token.WHILE, token.RETURN, token.PRINT, token.MODULE,
			token.IMPORT, token.MATCH, token.ITER, token.ATTEMPT:
			return
		}
		parser.advance()
	}
}

// declaration parses a top-level or block-level declaration: variable,
// function, class, interface, trait, type alias, module, or import
// declarations fall through to statement() otherwise.
func (parser *Parser) declaration() (ast.Stmt, error) {
	switch {
	case parser.isMatch([]token.TokenType{token.VAR}):
		return parser.variableDeclaration(false)
	case parser.isMatch([]token.TokenType{token.CONST}):
		return parser.variableDeclaration(true)
	case parser.isMatch([]token.TokenType{token.FUNC}):
		return parser.functionDeclaration()
	case parser.isMatch([]token.TokenType{token.CLASS}):
		return parser.classDeclaration()
	case parser.isMatch([]token.TokenType{token.INTERFACE}):
		return parser.interfaceDeclaration()
	case parser.isMatch([]token.TokenType{token.TRAIT}):
		return parser.traitDeclaration()
	case parser.isMatch([]token.TokenType{token.TYPE}):
		return parser.typeAliasDeclaration()
	case parser.isMatch([]token.TokenType{token.MODULE}):
		return parser.moduleDeclaration()
	case parser.isMatch([]token.TokenType{token.IMPORT}):
		return parser.importDeclaration()
	}
	return parser.statement()
}

// variableDeclaration parses `var name [: Type] [= expr];` or
// `const name [: Type] = expr;`.
func (parser *Parser) variableDeclaration(isConst bool) (ast.Stmt, error) {
	tok, consumeError := parser.consume(token.IDENTIFIER, "Expected variable name")
	if consumeError != nil {
		return nil, consumeError
	}

	var typeAnnotation ast.TypeAnnotation
	if parser.isMatch([]token.TokenType{token.COLON}) {
		t, err := parser.typeAnnotation()
		if err != nil {
			return nil, err
		}
		typeAnnotation = t
	}

	var initialiser ast.Expression
	if parser.isMatch([]token.TokenType{token.ASSIGN}) {
		var err error
		initialiser, err = parser.expression()
		if err != nil {
			return nil, err
		}
	}

	parser.consumeOptionalSemicolon()

	return ast.VarStmt{
		Name:        tok,
		Type:        typeAnnotation,
		Initializer: initialiser,
		Const:       isConst,
	}, nil
}

// consumeOptionalSemicolon swallows a trailing ';' if present. Statement
// terminators are optional at the end of a block/file.
func (parser *Parser) consumeOptionalSemicolon() {
	if parser.checkType(token.SEMICOLON) {
		parser.advance()
	}
}

// parameterList parses a parenthesized, comma-separated parameter list:
// `(name [: Type] [= default], ...)`. The opening '(' must already be consumed
// by the caller's choice of entry point where relevant; here it is consumed
// directly.
func (parser *Parser) parameterList() ([]ast.Param, error) {
	if _, err := parser.consume(token.LPA, "expected '(' to begin parameter list"); err != nil {
		return nil, err
	}

	params := []ast.Param{}
	for !parser.checkType(token.RPA) && !parser.isFinished() {
		name, err := parser.consume(token.IDENTIFIER, "expected parameter name")
		if err != nil {
			return nil, err
		}

		var typeAnnotation ast.TypeAnnotation
		if parser.isMatch([]token.TokenType{token.COLON}) {
			typeAnnotation, err = parser.typeAnnotation()
			if err != nil {
				return nil, err
			}
		}

		var defaultValue ast.Expression
		optional := false
		if parser.isMatch([]token.TokenType{token.ASSIGN}) {
			optional = true
			defaultValue, err = parser.expression()
			if err != nil {
				return nil, err
			}
		}

		params = append(params, ast.Param{
			Name:     name,
			Type:     typeAnnotation,
			Default:  defaultValue,
			Optional: optional,
		})

		if !parser.isMatch([]token.TokenType{token.COMMA}) {
			break
		}
	}

	if _, err := parser.consume(token.RPA, "expected ')' to close parameter list"); err != nil {
		return nil, err
	}
	return params, nil
}

// returnClause parses an optional `-> Type [throws Err1, Err2]` suffix on a
// function signature.
func (parser *Parser) returnClause() (ast.TypeAnnotation, []string, error) {
	var returnType ast.TypeAnnotation
	if parser.isMatch([]token.TokenType{token.ARROW}) {
		t, err := parser.typeAnnotation()
		if err != nil {
			return nil, nil, err
		}
		returnType = t
	}

	var throws []string
	if parser.isMatch([]token.TokenType{token.THROWS}) {
		for {
			name, err := parser.consume(token.IDENTIFIER, "expected error kind name after 'throws'")
			if err != nil {
				return nil, nil, err
			}
			throws = append(throws, name.Lexeme)
			if !parser.isMatch([]token.TokenType{token.COMMA}) {
				break
			}
		}
	}
	return returnType, throws, nil
}

// functionDeclaration parses `fn name(params) [-> Type] [throws ...] { body }`.
func (parser *Parser) functionDeclaration() (ast.Stmt, error) {
	name, err := parser.consume(token.IDENTIFIER, "expected function name")
	if err != nil {
		return nil, err
	}

	params, err := parser.parameterList()
	if err != nil {
		return nil, err
	}

	returnType, throws, err := parser.returnClause()
	if err != nil {
		return nil, err
	}

	if _, err := parser.consume(token.LCUR, "expected '{' to begin function body"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}

	return ast.FunctionStmt{
		Name:       name,
		Params:     params,
		ReturnType: returnType,
		Throws:     throws,
		Body:       body,
	}, nil
}

// annotationList parses a run of `@name` annotations preceding a class
// member.
func (parser *Parser) annotationList() []string {
	annotations := []string{}
	for parser.checkType(token.AT) {
		parser.advance()
		if parser.checkType(token.IDENTIFIER) {
			annotations = append(annotations, parser.advance().Lexeme)
		}
	}
	return annotations
}

// classDeclaration parses `class Name [: Super] [(Interface, ...)] { members }`.
func (parser *Parser) classDeclaration() (ast.Stmt, error) {
	name, err := parser.consume(token.IDENTIFIER, "expected class name")
	if err != nil {
		return nil, err
	}

	super := ""
	if parser.isMatch([]token.TokenType{token.COLON}) {
		superTok, err := parser.consume(token.IDENTIFIER, "expected superclass name after ':'")
		if err != nil {
			return nil, err
		}
		super = superTok.Lexeme
	}

	var interfaces []string
	if parser.isMatch([]token.TokenType{token.LPA}) {
		for !parser.checkType(token.RPA) && !parser.isFinished() {
			ifaceTok, err := parser.consume(token.IDENTIFIER, "expected interface/trait name")
			if err != nil {
				return nil, err
			}
			interfaces = append(interfaces, ifaceTok.Lexeme)
			if !parser.isMatch([]token.TokenType{token.COMMA}) {
				break
			}
		}
		if _, err := parser.consume(token.RPA, "expected ')' after interface list"); err != nil {
			return nil, err
		}
	}

	if _, err := parser.consume(token.LCUR, "expected '{' to begin class body"); err != nil {
		return nil, err
	}

	var fields []ast.Field
	var methods []ast.FunctionStmt
	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		annotations := parser.annotationList()

		if parser.isMatch([]token.TokenType{token.FUNC}) {
			methodStmt, err := parser.functionDeclaration()
			if err != nil {
				return nil, err
			}
			fn := methodStmt.(ast.FunctionStmt)
			fn.Annotations = annotations
			methods = append(methods, fn)
			continue
		}

		if parser.isMatch([]token.TokenType{token.VAR, token.CONST}) {
			fieldName, err := parser.consume(token.IDENTIFIER, "expected field name")
			if err != nil {
				return nil, err
			}
			var fieldType ast.TypeAnnotation
			if parser.isMatch([]token.TokenType{token.COLON}) {
				fieldType, err = parser.typeAnnotation()
				if err != nil {
					return nil, err
				}
			}
			var defaultExpr ast.Expression
			if parser.isMatch([]token.TokenType{token.ASSIGN}) {
				defaultExpr, err = parser.expression()
				if err != nil {
					return nil, err
				}
			}
			parser.consumeOptionalSemicolon()
			fields = append(fields, ast.Field{
				Name:        fieldName,
				Type:        fieldType,
				Default:     defaultExpr,
				Annotations: annotations,
			})
			continue
		}

		currentToken := parser.peek()
		return nil, CreateSyntaxError(currentToken.Line, currentToken.Column, "expected a field or method declaration inside class body")
	}

	if _, err := parser.consume(token.RCUR, "expected '}' to close class body"); err != nil {
		return nil, err
	}

	return ast.ClassStmt{
		Name:       name,
		Super:      super,
		Interfaces: interfaces,
		Fields:     fields,
		Methods:    methods,
	}, nil
}

// interfaceDeclaration parses `interface Name { fn sig; ... }`.
func (parser *Parser) interfaceDeclaration() (ast.Stmt, error) {
	name, err := parser.consume(token.IDENTIFIER, "expected interface name")
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.LCUR, "expected '{' to begin interface body"); err != nil {
		return nil, err
	}

	var methods []ast.FunctionType
	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		if _, err := parser.consume(token.FUNC, "expected method signature inside interface body"); err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.IDENTIFIER, "expected method name"); err != nil {
			return nil, err
		}
		params, err := parser.parameterList()
		if err != nil {
			return nil, err
		}
		returnType, _, err := parser.returnClause()
		if err != nil {
			return nil, err
		}
		parser.consumeOptionalSemicolon()

		ftParams := make([]ast.FunctionTypeParam, len(params))
		for i, p := range params {
			ftParams[i] = ast.FunctionTypeParam{Name: p.Name.Lexeme, Type: p.Type, Optional: p.Optional}
		}
		methods = append(methods, ast.FunctionType{Params: ftParams, ReturnType: returnType})
	}

	if _, err := parser.consume(token.RCUR, "expected '}' to close interface body"); err != nil {
		return nil, err
	}
	return ast.InterfaceStmt{Name: name, Methods: methods}, nil
}

// traitDeclaration parses `trait Name { fn ... { body } ... }`.
func (parser *Parser) traitDeclaration() (ast.Stmt, error) {
	name, err := parser.consume(token.IDENTIFIER, "expected trait name")
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.LCUR, "expected '{' to begin trait body"); err != nil {
		return nil, err
	}

	var methods []ast.FunctionStmt
	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		if _, err := parser.consume(token.FUNC, "expected method declaration inside trait body"); err != nil {
			return nil, err
		}
		methodStmt, err := parser.functionDeclaration()
		if err != nil {
			return nil, err
		}
		methods = append(methods, methodStmt.(ast.FunctionStmt))
	}

	if _, err := parser.consume(token.RCUR, "expected '}' to close trait body"); err != nil {
		return nil, err
	}
	return ast.TraitStmt{Name: name, Methods: methods}, nil
}

// typeAliasDeclaration parses `type Name = Type;`.
func (parser *Parser) typeAliasDeclaration() (ast.Stmt, error) {
	name, err := parser.consume(token.IDENTIFIER, "expected type alias name")
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.ASSIGN, "expected '=' in type alias declaration"); err != nil {
		return nil, err
	}
	t, err := parser.typeAnnotation()
	if err != nil {
		return nil, err
	}
	parser.consumeOptionalSemicolon()
	return ast.TypeAliasStmt{Name: name, Type: t}, nil
}

// moduleDeclaration parses `module Name { body }`.
func (parser *Parser) moduleDeclaration() (ast.Stmt, error) {
	name, err := parser.consume(token.IDENTIFIER, "expected module name")
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.LCUR, "expected '{' to begin module body"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}
	return ast.ModuleStmt{Name: name, Body: body}, nil
}

// importDeclaration parses `import a.b.c [as alias] [show x, y | hide x, y];`.
func (parser *Parser) importDeclaration() (ast.Stmt, error) {
	var path []string
	first, err := parser.consume(token.IDENTIFIER, "expected module path after 'import'")
	if err != nil {
		return nil, err
	}
	path = append(path, first.Lexeme)
	for parser.isMatch([]token.TokenType{token.DOT}) {
		segment, err := parser.consume(token.IDENTIFIER, "expected path segment after '.'")
		if err != nil {
			return nil, err
		}
		path = append(path, segment.Lexeme)
	}

	alias := ""
	if parser.isMatch([]token.TokenType{token.AS}) {
		aliasTok, err := parser.consume(token.IDENTIFIER, "expected alias name after 'as'")
		if err != nil {
			return nil, err
		}
		alias = aliasTok.Lexeme
	}

	var show, hide []string
	if parser.isMatch([]token.TokenType{token.SHOW}) {
		show, err = parser.identifierList()
		if err != nil {
			return nil, err
		}
	} else if parser.isMatch([]token.TokenType{token.HIDE}) {
		hide, err = parser.identifierList()
		if err != nil {
			return nil, err
		}
	}

	parser.consumeOptionalSemicolon()
	return ast.ImportStmt{Path: path, Alias: alias, Show: show, Hide: hide}, nil
}

func (parser *Parser) identifierList() ([]string, error) {
	var names []string
	for {
		tok, err := parser.consume(token.IDENTIFIER, "expected identifier")
		if err != nil {
			return nil, err
		}
		names = append(names, tok.Lexeme)
		if !parser.isMatch([]token.TokenType{token.COMMA}) {
			break
		}
	}
	return names, nil
}

// statement parses a single statement.
func (parser *Parser) statement() (ast.Stmt, error) {
	switch {
	case parser.isMatch([]token.TokenType{token.PRINT}):
		return parser.printStatement()
	case parser.isMatch([]token.TokenType{token.LCUR}):
		statements, err := parser.block()
		if err != nil {
			return nil, err
		}
		return ast.BlockStmt{Statements: statements}, nil
	case parser.isMatch([]token.TokenType{token.IF}):
		return parser.ifStatement()
	case parser.isMatch([]token.TokenType{token.WHILE}):
		return parser.whileStatement()
	case parser.isMatch([]token.TokenType{token.FOR}):
		return parser.forStatement()
	case parser.isMatch([]token.TokenType{token.ITER}):
		return parser.iterStatement()
	case parser.isMatch([]token.TokenType{token.RETURN}):
		return parser.returnStatement()
	case parser.isMatch([]token.TokenType{token.BREAK}):
		tok := parser.previous()
		parser.consumeOptionalSemicolon()
		return ast.BreakStmt{Keyword: tok}, nil
	case parser.isMatch([]token.TokenType{token.CONTINUE}):
		tok := parser.previous()
		parser.consumeOptionalSemicolon()
		return ast.ContinueStmt{Keyword: tok}, nil
	case parser.isMatch([]token.TokenType{token.MATCH}):
		return parser.matchStatement()
	case parser.isMatch([]token.TokenType{token.ATTEMPT}):
		return parser.attemptStatement()
	case parser.isMatch([]token.TokenType{token.PARALLEL}):
		return parser.parallelStatement()
	case parser.isMatch([]token.TokenType{token.CONCURRENT}):
		return parser.concurrentStatement()
	case parser.isMatch([]token.TokenType{token.TASK}):
		return parser.taskStatement()
	case parser.isMatch([]token.TokenType{token.UNSAFE}):
		return parser.unsafeStatement()
	case parser.isMatch([]token.TokenType{token.CONTRACT}):
		return parser.contractStatement()
	case parser.isMatch([]token.TokenType{token.COMPTIME}):
		return parser.comptimeStatement()
	}

	expression, err := parser.expression()
	if err != nil {
		return nil, err
	}
	parser.consumeOptionalSemicolon()
	return ast.ExpressionStmt{Expression: expression}, nil
}

// printStatement parses `print(expr, ...);`.
func (parser *Parser) printStatement() (ast.Stmt, error) {
	arguments := []ast.Expression{}
	if parser.isMatch([]token.TokenType{token.LPA}) {
		if !parser.checkType(token.RPA) {
			for {
				arg, err := parser.expression()
				if err != nil {
					return nil, err
				}
				arguments = append(arguments, arg)
				if !parser.isMatch([]token.TokenType{token.COMMA}) {
					break
				}
			}
		}
		if _, err := parser.consume(token.RPA, "expected ')' to close print arguments"); err != nil {
			return nil, err
		}
	} else {
		// bare `print expr;` form, kept for a single argument.
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		arguments = append(arguments, expr)
	}
	parser.consumeOptionalSemicolon()
	return ast.PrintStmt{Arguments: arguments}, nil
}

func (parser *Parser) whileStatement() (ast.Stmt, error) {
	expr, err := parser.expression()
	if err != nil {
		return nil, err
	}

	stmt, err := parser.statement()
	if err != nil {
		return nil, err
	}

	return ast.WhileStmt{
		Condition: expr,
		Body:      stmt,
	}, nil
}

// forStatement parses a C-style `for (init; cond; step) { body }`. Any of
// init/cond/step may be omitted.
func (parser *Parser) forStatement() (ast.Stmt, error) {
	if _, err := parser.consume(token.LPA, "expected '(' after 'for'"); err != nil {
		return nil, err
	}

	var initStmt ast.Stmt
	if parser.isMatch([]token.TokenType{token.SEMICOLON}) {
		initStmt = nil
	} else if parser.isMatch([]token.TokenType{token.VAR}) {
		stmt, err := parser.variableDeclaration(false)
		if err != nil {
			return nil, err
		}
		initStmt = stmt
	} else {
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.SEMICOLON, "expected ';' after for-loop initializer"); err != nil {
			return nil, err
		}
		initStmt = ast.ExpressionStmt{Expression: expr}
	}

	var condition ast.Expression
	if !parser.checkType(token.SEMICOLON) {
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		condition = expr
	}
	if _, err := parser.consume(token.SEMICOLON, "expected ';' after for-loop condition"); err != nil {
		return nil, err
	}

	var step ast.Expression
	if !parser.checkType(token.RPA) {
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		step = expr
	}
	if _, err := parser.consume(token.RPA, "expected ')' after for-loop clauses"); err != nil {
		return nil, err
	}

	body, err := parser.statement()
	if err != nil {
		return nil, err
	}

	return ast.ForStmt{Init: initStmt, Condition: condition, Step: step, Body: body}, nil
}

// iterStatement parses `iter (name[, name] in expr) { body }`.
func (parser *Parser) iterStatement() (ast.Stmt, error) {
	if _, err := parser.consume(token.LPA, "expected '(' after 'iter'"); err != nil {
		return nil, err
	}

	var bindings []token.Token
	first, err := parser.consume(token.IDENTIFIER, "expected binding name")
	if err != nil {
		return nil, err
	}
	bindings = append(bindings, first)
	if parser.isMatch([]token.TokenType{token.COMMA}) {
		second, err := parser.consume(token.IDENTIFIER, "expected second binding name")
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, second)
	}

	if _, err := parser.consume(token.IN, "expected 'in' in iter statement"); err != nil {
		return nil, err
	}

	iterable, err := parser.expression()
	if err != nil {
		return nil, err
	}

	if _, err := parser.consume(token.RPA, "expected ')' to close iter clause"); err != nil {
		return nil, err
	}

	body, err := parser.statement()
	if err != nil {
		return nil, err
	}

	return ast.IterStmt{Bindings: bindings, Iterable: iterable, Body: body}, nil
}

func (parser *Parser) returnStatement() (ast.Stmt, error) {
	keyword := parser.previous()
	var value ast.Expression
	if !parser.checkType(token.SEMICOLON) && !parser.checkType(token.RCUR) {
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		value = expr
	}
	parser.consumeOptionalSemicolon()
	return ast.ReturnStmt{Keyword: keyword, Value: value}, nil
}

// matchStatement parses `match expr { case pattern [if guard]: body ... }`.
func (parser *Parser) matchStatement() (ast.Stmt, error) {
	subject, err := parser.expression()
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.LCUR, "expected '{' to begin match body"); err != nil {
		return nil, err
	}

	var cases []ast.MatchCase
	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		if _, err := parser.consume(token.CASE, "expected 'case' inside match body"); err != nil {
			return nil, err
		}
		pattern, err := parser.pattern()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.COLON, "expected ':' after case pattern"); err != nil {
			return nil, err
		}

		var body []ast.Stmt
		if parser.isMatch([]token.TokenType{token.LCUR}) {
			body, err = parser.block()
			if err != nil {
				return nil, err
			}
		} else {
			stmt, err := parser.statement()
			if err != nil {
				return nil, err
			}
			body = []ast.Stmt{stmt}
		}

		cases = append(cases, ast.MatchCase{Pattern: pattern, Body: body})
	}

	if _, err := parser.consume(token.RCUR, "expected '}' to close match body"); err != nil {
		return nil, err
	}
	return ast.MatchStmt{Subject: subject, Cases: cases}, nil
}

// pattern parses one match-arm pattern, including an optional trailing
// `if guard` clause.
func (parser *Parser) pattern() (ast.Pattern, error) {
	inner, err := parser.patternPrimary()
	if err != nil {
		return nil, err
	}
	if parser.checkType(token.IDENTIFIER) && parser.peek().Lexeme == "if" {
		parser.advance()
		guard, err := parser.expression()
		if err != nil {
			return nil, err
		}
		return ast.GuardedPattern{Inner: inner, Guard: guard}, nil
	}
	return inner, nil
}

func (parser *Parser) patternPrimary() (ast.Pattern, error) {
	switch {
	case parser.isMatch([]token.TokenType{token.SUB, token.INT, token.FLOAT, token.STRING, token.TRUE, token.FALSE, token.NULL}):
		return parser.literalOrRangePattern()
	case parser.checkType(token.IDENTIFIER) && parser.peek().Lexeme == "_":
		parser.advance()
		return ast.WildcardPattern{}, nil
	case parser.isMatch([]token.TokenType{token.LBRACKET}):
		return parser.listPattern()
	case parser.isMatch([]token.TokenType{token.LCUR}):
		return parser.dictPattern()
	case parser.isMatch([]token.TokenType{token.IDENTIFIER}):
		name := parser.previous().Lexeme
		if parser.isMatch([]token.TokenType{token.LPA}) {
			var args []ast.Pattern
			for !parser.checkType(token.RPA) && !parser.isFinished() {
				arg, err := parser.pattern()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !parser.isMatch([]token.TokenType{token.COMMA}) {
					break
				}
			}
			if _, err := parser.consume(token.RPA, "expected ')' to close variant pattern arguments"); err != nil {
				return nil, err
			}
			return ast.VariantPattern{Name: name, Arguments: args}, nil
		}
		return ast.IdentifierPattern{Name: name}, nil
	}
	currentToken := parser.peek()
	return nil, CreateSyntaxError(currentToken.Line, currentToken.Column, "expected a pattern")
}

// literalOrRangePattern handles a leading literal token (possibly preceded
// by a unary '-'), producing either a LiteralPattern or, when followed by
// `..`, a RangePattern.
func (parser *Parser) literalOrRangePattern() (ast.Pattern, error) {
	startTok := parser.previous()
	start, err := parser.literalPatternValue(startTok)
	if err != nil {
		return nil, err
	}

	if parser.isMatch([]token.TokenType{token.DOTDOT}) {
		endTok := parser.advance()
		end, err := parser.literalPatternValue(endTok)
		if err != nil {
			return nil, err
		}
		return ast.RangePattern{Start: start, End: end, Inclusive: true}, nil
	}

	return ast.LiteralPattern{Value: start}, nil
}

func (parser *Parser) literalPatternValue(tok token.Token) (any, error) {
	switch tok.TokenType {
	case token.INT, token.FLOAT, token.STRING:
		return tok.Literal, nil
	case token.TRUE:
		return true, nil
	case token.FALSE:
		return false, nil
	case token.NULL:
		return nil, nil
	case token.SUB:
		next := parser.advance()
		v, err := parser.literalPatternValue(next)
		if err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return v, nil
	}
	return nil, CreateSyntaxError(tok.Line, tok.Column, "expected a literal pattern value")
}

func (parser *Parser) listPattern() (ast.Pattern, error) {
	var elements []ast.Pattern
	for !parser.checkType(token.RBRACKET) && !parser.isFinished() {
		elem, err := parser.pattern()
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)
		if !parser.isMatch([]token.TokenType{token.COMMA}) {
			break
		}
	}
	if _, err := parser.consume(token.RBRACKET, "expected ']' to close list pattern"); err != nil {
		return nil, err
	}
	return ast.ListPattern{Elements: elements}, nil
}

func (parser *Parser) dictPattern() (ast.Pattern, error) {
	var entries []ast.DictPatternEntry
	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		keyTok, err := parser.consume(token.IDENTIFIER, "expected dict pattern key")
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.COLON, "expected ':' after dict pattern key"); err != nil {
			return nil, err
		}
		valuePattern, err := parser.pattern()
		if err != nil {
			return nil, err
		}
		entries = append(entries, ast.DictPatternEntry{Key: keyTok.Lexeme, Pattern: valuePattern})
		if !parser.isMatch([]token.TokenType{token.COMMA}) {
			break
		}
	}
	if _, err := parser.consume(token.RCUR, "expected '}' to close dict pattern"); err != nil {
		return nil, err
	}
	return ast.DictPattern{Entries: entries}, nil
}

// attemptStatement parses `attempt { body } handle (kind name) { body } ...`.
func (parser *Parser) attemptStatement() (ast.Stmt, error) {
	if _, err := parser.consume(token.LCUR, "expected '{' after 'attempt'"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}

	var handlers []ast.HandleClause
	for parser.isMatch([]token.TokenType{token.HANDLE}) {
		if _, err := parser.consume(token.LPA, "expected '(' after 'handle'"); err != nil {
			return nil, err
		}

		errorKind := ""
		bindingTok, err := parser.consume(token.IDENTIFIER, "expected error binding name in handle clause")
		if err != nil {
			return nil, err
		}
		binding := bindingTok.Lexeme
		if parser.checkType(token.IDENTIFIER) {
			// `handle (Kind name)`: first identifier was actually the error kind.
			errorKind = binding
			nameTok := parser.advance()
			binding = nameTok.Lexeme
		}

		if _, err := parser.consume(token.RPA, "expected ')' to close handle clause"); err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.LCUR, "expected '{' to begin handle body"); err != nil {
			return nil, err
		}
		handlerBody, err := parser.block()
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, ast.HandleClause{ErrorKind: errorKind, Binding: binding, Body: handlerBody})
	}

	return ast.AttemptStmt{Body: body, Handlers: handlers}, nil
}

// parallelStatement parses `parallel[(cores=N, onError=Policy, timeout=d)] { body }`.
func (parser *Parser) parallelStatement() (ast.Stmt, error) {
	var cores, timeout ast.Expression
	policy := ast.PolicyAuto

	if parser.isMatch([]token.TokenType{token.LPA}) {
		for !parser.checkType(token.RPA) && !parser.isFinished() {
			optTok, err := parser.consume(token.IDENTIFIER, "expected parallel option name")
			if err != nil {
				return nil, err
			}
			if _, err := parser.consume(token.ASSIGN, "expected '=' after parallel option name"); err != nil {
				return nil, err
			}

			switch optTok.Lexeme {
			case "onError":
				policyTok, err := parser.consume(token.IDENTIFIER, "expected policy name")
				if err != nil {
					return nil, err
				}
				switch policyTok.Lexeme {
				case "Stop":
					policy = ast.PolicyStop
				case "Continue":
					policy = ast.PolicyContinue
				default:
					policy = ast.PolicyAuto
				}
			case "cores":
				expr, err := parser.expression()
				if err != nil {
					return nil, err
				}
				cores = expr
			case "timeout":
				expr, err := parser.expression()
				if err != nil {
					return nil, err
				}
				timeout = expr
			default:
				if _, err := parser.expression(); err != nil {
					return nil, err
				}
			}

			if !parser.isMatch([]token.TokenType{token.COMMA}) {
				break
			}
		}
		if _, err := parser.consume(token.RPA, "expected ')' to close parallel options"); err != nil {
			return nil, err
		}
	}

	if _, err := parser.consume(token.LCUR, "expected '{' to begin parallel body"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}

	return ast.ParallelStmt{Cores: cores, OnError: policy, Timeout: timeout, Body: body}, nil
}

// concurrentStatement parses `concurrent { body }`.
func (parser *Parser) concurrentStatement() (ast.Stmt, error) {
	if _, err := parser.consume(token.LCUR, "expected '{' after 'concurrent'"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}
	return ast.ConcurrentStmt{Body: body}, nil
}

// taskStatement parses `task expr;`, valid inside parallel/concurrent bodies.
func (parser *Parser) taskStatement() (ast.Stmt, error) {
	keyword := parser.previous()
	expr, err := parser.expression()
	if err != nil {
		return nil, err
	}
	parser.consumeOptionalSemicolon()
	return ast.TaskStmt{Keyword: keyword, Expression: expr}, nil
}

// unsafeStatement parses `unsafe { body }`. Parsed but rejected later by
// the checker/compiler with a "not yet supported" diagnostic.
func (parser *Parser) unsafeStatement() (ast.Stmt, error) {
	keyword := parser.previous()
	if _, err := parser.consume(token.LCUR, "expected '{' after 'unsafe'"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}
	return ast.UnsafeStmt{Keyword: keyword, Body: body}, nil
}

// contractStatement parses `contract(expr);`.
func (parser *Parser) contractStatement() (ast.Stmt, error) {
	keyword := parser.previous()
	if _, err := parser.consume(token.LPA, "expected '(' after 'contract'"); err != nil {
		return nil, err
	}
	predicate, err := parser.expression()
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.RPA, "expected ')' to close contract"); err != nil {
		return nil, err
	}
	parser.consumeOptionalSemicolon()
	return ast.ContractStmt{Keyword: keyword, Predicate: predicate}, nil
}

// comptimeStatement parses `comptime { body }`. Parsed but rejected later
// by the checker/compiler with a "not yet supported" diagnostic.
func (parser *Parser) comptimeStatement() (ast.Stmt, error) {
	keyword := parser.previous()
	if _, err := parser.consume(token.LCUR, "expected '{' after 'comptime'"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}
	return ast.ComptimeStmt{Keyword: keyword, Body: body}, nil
}

// ifStatement parses an if-statement, including `elif` chains and a
// trailing `else`.
func (parser *Parser) ifStatement() (ast.Stmt, error) {
	conditionExpr, err := parser.expression()
	if err != nil {
		return nil, err
	}

	thenStmt, err := parser.statement()
	if err != nil {
		return nil, err
	}
	var elseStmt ast.Stmt = nil
	if parser.isMatch([]token.TokenType{token.ELIF}) {
		stmt, err := parser.ifStatement()
		if err != nil {
			return nil, err
		}
		elseStmt = stmt
	} else if parser.isMatch([]token.TokenType{token.ELSE}) {
		stmt, err := parser.statement()
		if err != nil {
			return nil, err
		}
		elseStmt = stmt
	}

	return ast.IfStmt{
		Condition: conditionExpr,
		Then:      thenStmt,
		Else:      elseStmt,
	}, nil
}

// block parses the body of a block statement, up to (and consuming) the
// closing '}'. The opening '{' must already have been consumed by the
// caller.
func (parser *Parser) block() ([]ast.Stmt, error) {
	statements := []ast.Stmt{}

	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		stmt, err := parser.declaration()
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}

	if _, err := parser.consume(token.RCUR, "expected '}' after block"); err != nil {
		return nil, err
	}
	return statements, nil
}

// expression is the entry point for parsing expressions.
func (parser *Parser) expression() (ast.Expression, error) {
	return parser.assignment()
}

// assignment parses `=`, `+=`, `-=`, `*=`, `/=`, `%=` (right-associative,
// lowest precedence), falling through to ternary.
func (parser *Parser) assignment() (ast.Expression, error) {
	expression, err := parser.ternary()
	if err != nil {
		return nil, err
	}
	if parser.isMatch(assignTokenTypes) {
		operator := parser.previous()
		value, err := parser.assignment()
		if err != nil {
			return nil, err
		}

		if operator.TokenType != token.ASSIGN {
			switch expression.(type) {
			case ast.Variable, ast.Index, ast.Member:
				return ast.CompoundAssign{Target: expression, Operator: operator, Value: value}, nil
			default:
				return nil, CreateSyntaxError(operator.Line, operator.Column, "invalid compound assignment target")
			}
		}

		switch v := expression.(type) {
		case ast.Variable:
			return ast.Assign{Name: v.Name, Value: value}, nil
		case ast.Index, ast.Member:
			return ast.CompoundAssign{Target: expression, Operator: operator, Value: value}, nil
		default:
			return nil, CreateSyntaxError(operator.Line, operator.Column, "invalid assignment target")
		}
	}

	return expression, nil
}

// ternary parses `cond ? then : else` (right-associative).
func (parser *Parser) ternary() (ast.Expression, error) {
	condition, err := parser.or()
	if err != nil {
		return nil, err
	}
	if parser.isMatch([]token.TokenType{token.QUESTION}) {
		then, err := parser.ternary()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.COLON, "expected ':' in ternary expression"); err != nil {
			return nil, err
		}
		elseExpr, err := parser.ternary()
		if err != nil {
			return nil, err
		}
		return ast.Ternary{Condition: condition, Then: then, Else: elseExpr}, nil
	}
	return condition, nil
}

func (parser *Parser) or() (ast.Expression, error) {
	expr, err := parser.and()
	if err != nil {
		return nil, err
	}

	for parser.isMatch([]token.TokenType{token.OR}) {
		op := parser.previous()
		rightExpr, err := parser.and()
		if err != nil {
			return nil, err
		}
		expr = ast.Logical{
			Left:     expr,
			Operator: op,
			Right:    rightExpr,
		}
	}

	return expr, nil
}

func (parser *Parser) and() (ast.Expression, error) {
	expr, err := parser.equality()
	if err != nil {
		return nil, err
	}

	for parser.isMatch([]token.TokenType{token.AND}) {
		op := parser.previous()
		rightExpr, err := parser.equality()
		if err != nil {
			return nil, err
		}

		expr = ast.Logical{
			Left:     expr,
			Operator: op,
			Right:    rightExpr,
		}
	}
	return expr, nil
}

func (parser *Parser) equality() (ast.Expression, error) {
	exp, err := parser.comparison()
	if err != nil {
		return nil, err
	}
	for parser.isMatch(equalityTokenTypes) {
		operator := parser.previous()
		right, err := parser.comparison()
		if err != nil {
			return nil, err
		}
		exp = ast.Binary{
			Left:     exp,
			Operator: operator,
			Right:    right,
		}
	}
	return exp, nil
}

func (parser *Parser) comparison() (ast.Expression, error) {
	exp, err := parser.rangeExpr()
	if err != nil {
		return nil, err
	}
	for parser.isMatch(comparisonTokenTypes) {
		operator := parser.previous()
		right, err := parser.rangeExpr()
		if err != nil {
			return nil, err
		}
		exp = ast.Binary{
			Left:     exp,
			Operator: operator,
			Right:    right,
		}
	}
	return exp, nil
}

// rangeExpr parses the non-associative `..` range operator.
func (parser *Parser) rangeExpr() (ast.Expression, error) {
	exp, err := parser.term()
	if err != nil {
		return nil, err
	}
	if parser.isMatch([]token.TokenType{token.DOTDOT}) {
		right, err := parser.term()
		if err != nil {
			return nil, err
		}
		return ast.Range{Start: exp, End: right, Inclusive: true}, nil
	}
	return exp, nil
}

func (parser *Parser) term() (ast.Expression, error) {
	exp, err := parser.factor()
	if err != nil {
		return nil, err
	}
	for parser.isMatch(termTokenTypes) {
		operator := parser.previous()
		right, err := parser.factor()
		if err != nil {
			return nil, err
		}
		exp = ast.Binary{
			Left:     exp,
			Operator: operator,
			Right:    right,
		}
	}
	return exp, nil
}

func (parser *Parser) factor() (ast.Expression, error) {
	exp, err := parser.power()
	if err != nil {
		return nil, err
	}
	for parser.isMatch(factorExpressionTypes) {
		operator := parser.previous()
		right, err := parser.power()
		if err != nil {
			return nil, err
		}
		exp = ast.Binary{
			Left:     exp,
			Operator: operator,
			Right:    right,
		}
	}
	return exp, nil
}

// power parses the right-associative `**` operator.
func (parser *Parser) power() (ast.Expression, error) {
	exp, err := parser.unary()
	if err != nil {
		return nil, err
	}
	if parser.isMatch([]token.TokenType{token.POWER}) {
		operator := parser.previous()
		right, err := parser.power()
		if err != nil {
			return nil, err
		}
		exp = ast.Binary{Left: exp, Operator: operator, Right: right}
	}
	return exp, nil
}

func (parser *Parser) unary() (ast.Expression, error) {
	if parser.isMatch(unaryExpressionTypes) {
		operator := parser.previous()
		right, err := parser.unary()
		if err != nil {
			return nil, err
		}
		return ast.Unary{
			Operator: operator,
			Right:    right,
		}, nil
	}
	return parser.postfix()
}

// postfix parses the level-12 postfix chain: calls, indexing, member
// access, and the error-propagation operators `?` / `? else { }`.
func (parser *Parser) postfix() (ast.Expression, error) {
	expr, err := parser.primary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case parser.isMatch([]token.TokenType{token.LPA}):
			expr, err = parser.finishCall(expr)
			if err != nil {
				return nil, err
			}
		case parser.isMatch([]token.TokenType{token.LBRACKET}):
			indexExpr, err := parser.expression()
			if err != nil {
				return nil, err
			}
			bracket := parser.previous()
			if _, err := parser.consume(token.RBRACKET, "expected ']' after index expression"); err != nil {
				return nil, err
			}
			expr = ast.Index{Target: expr, Bracket: bracket, Index: indexExpr}
		case parser.isMatch([]token.TokenType{token.DOT}):
			name, err := parser.consume(token.IDENTIFIER, "expected member name after '.'")
			if err != nil {
				return nil, err
			}
			expr = ast.Member{Target: expr, Name: name}
		case parser.checkType(token.QUESTION):
			question := parser.advance()
			if parser.isMatch([]token.TokenType{token.ELSE}) {
				if _, err := parser.consume(token.LCUR, "expected '{' after '? else'"); err != nil {
					return nil, err
				}
				errName := ""
				if parser.checkType(token.IDENTIFIER) {
					errName = parser.advance().Lexeme
				}
				body, err := parser.block()
				if err != nil {
					return nil, err
				}
				expr = ast.ElseHandler{Operand: expr, ErrName: errName, Block: body}
			} else {
				expr = ast.Propagate{Operand: expr, Question: question}
			}
		default:
			return expr, nil
		}
	}
}

// finishCall parses a call's argument list; the opening '(' has already
// been consumed.
func (parser *Parser) finishCall(callee ast.Expression) (ast.Expression, error) {
	paren := parser.previous()
	var arguments []ast.Argument
	if !parser.checkType(token.RPA) {
		for {
			name := ""
			if parser.checkType(token.IDENTIFIER) && parser.peekNext().TokenType == token.COLON {
				name = parser.advance().Lexeme
				parser.advance() // consume ':'
			}
			value, err := parser.expression()
			if err != nil {
				return nil, err
			}
			arguments = append(arguments, ast.Argument{Name: name, Value: value})
			if !parser.isMatch([]token.TokenType{token.COMMA}) {
				break
			}
		}
	}
	if _, err := parser.consume(token.RPA, "expected ')' after call arguments"); err != nil {
		return nil, err
	}
	return ast.Call{Callee: callee, Paren: paren, Arguments: arguments}, nil
}

// primary parses the most basic forms of expressions: literals, grouping,
// list/dict literals, interpolated strings, function expressions, and
// `this`.
func (parser *Parser) primary() (ast.Expression, error) {
	switch {
	case parser.isMatch([]token.TokenType{token.FALSE}):
		return ast.Literal{Value: false}, nil
	case parser.isMatch([]token.TokenType{token.NULL}):
		return ast.Literal{Value: nil}, nil
	case parser.isMatch([]token.TokenType{token.TRUE}):
		return ast.Literal{Value: true}, nil
	case parser.isMatch([]token.TokenType{token.FLOAT, token.INT}):
		return ast.Literal{Value: parser.previous().Literal}, nil
	case parser.isMatch([]token.TokenType{token.STRING}):
		return parser.finishStringLiteral()
	case parser.isMatch([]token.TokenType{token.THIS}):
		return ast.This{Keyword: parser.previous()}, nil
	case parser.isMatch([]token.TokenType{token.FUNC}):
		return parser.functionExpression()
	case parser.isMatch([]token.TokenType{token.IDENTIFIER}):
		return ast.Variable{Name: parser.previous()}, nil
	case parser.isMatch([]token.TokenType{token.LBRACKET}):
		return parser.listLiteral()
	case parser.isMatch([]token.TokenType{token.LCUR}):
		return parser.dictLiteral()
	case parser.isMatch([]token.TokenType{token.LPA}):
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		_, consumeErr := parser.consume(token.RPA, fmt.Sprintf("expression is missing '%s'", token.RPA))
		if consumeErr != nil {
			return nil, consumeErr
		}
		return ast.Grouping{Expression: expr}, nil
	}

	currentToken := parser.peek()
	return nil, CreateSyntaxError(currentToken.Line, currentToken.Column, "Unrecognised expression.")
}

// finishStringLiteral builds either a plain Literal (no interpolation) or
// an InterpolatedString from the STRING/INTERPOLATION_START/.../
// INTERPOLATION_END/STRING token run the lexer produces for `"... {expr} ..."`.
func (parser *Parser) finishStringLiteral() (ast.Expression, error) {
	firstPart, _ := parser.previous().Literal.(string)
	if !parser.checkType(token.INTERPOLATION_START) {
		return ast.Literal{Value: parser.previous().Literal}, nil
	}

	parts := []ast.StringPart{{Text: firstPart}}
	for parser.isMatch([]token.TokenType{token.INTERPOLATION_START}) {
		expr, err := parser.expression()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.INTERPOLATION_END, "expected end of string interpolation"); err != nil {
			return nil, err
		}
		text := ""
		if parser.isMatch([]token.TokenType{token.STRING}) {
			text, _ = parser.previous().Literal.(string)
		}
		parts = append(parts, ast.StringPart{Expr: expr})
		parts = append(parts, ast.StringPart{Text: text})
	}

	return ast.InterpolatedString{Parts: parts}, nil
}

func (parser *Parser) listLiteral() (ast.Expression, error) {
	var elements []ast.Expression
	for !parser.checkType(token.RBRACKET) && !parser.isFinished() {
		elem, err := parser.expression()
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)
		if !parser.isMatch([]token.TokenType{token.COMMA}) {
			break
		}
	}
	if _, err := parser.consume(token.RBRACKET, "expected ']' to close list literal"); err != nil {
		return nil, err
	}
	return ast.ListLiteral{Elements: elements}, nil
}

func (parser *Parser) dictLiteral() (ast.Expression, error) {
	var entries []ast.DictEntry
	for !parser.checkType(token.RCUR) && !parser.isFinished() {
		key, err := parser.expression()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.COLON, "expected ':' after dict key"); err != nil {
			return nil, err
		}
		value, err := parser.expression()
		if err != nil {
			return nil, err
		}
		entries = append(entries, ast.DictEntry{Key: key, Value: value})
		if !parser.isMatch([]token.TokenType{token.COMMA}) {
			break
		}
	}
	if _, err := parser.consume(token.RCUR, "expected '}' to close dict literal"); err != nil {
		return nil, err
	}
	return ast.DictLiteral{Entries: entries}, nil
}

// functionExpression parses an anonymous `fn(params) [-> Type] { body }`.
func (parser *Parser) functionExpression() (ast.Expression, error) {
	params, err := parser.parameterList()
	if err != nil {
		return nil, err
	}
	returnType, throws, err := parser.returnClause()
	if err != nil {
		return nil, err
	}
	if _, err := parser.consume(token.LCUR, "expected '{' to begin function body"); err != nil {
		return nil, err
	}
	body, err := parser.block()
	if err != nil {
		return nil, err
	}
	return ast.FunctionExpression{Params: params, ReturnType: returnType, Throws: throws, Body: body}, nil
}

// typeAnnotation parses a type expression appearing after ':' or '->'.
func (parser *Parser) typeAnnotation() (ast.TypeAnnotation, error) {
	base, err := parser.typeAnnotationPrimary()
	if err != nil {
		return nil, err
	}

	for parser.checkType(token.QUESTION) {
		parser.advance()
		if parser.checkType(token.IDENTIFIER) {
			var kinds []string
			for {
				kindTok, err := parser.consume(token.IDENTIFIER, "expected error kind name")
				if err != nil {
					return nil, err
				}
				kinds = append(kinds, kindTok.Lexeme)
				if !parser.isMatch([]token.TokenType{token.COMMA}) {
					break
				}
			}
			base = ast.ErrorUnionType{Success: base, ErrorKinds: kinds}
		} else {
			base = ast.OptionalType{Inner: base}
		}
	}

	if parser.isMatch([]token.TokenType{token.WHERE}) {
		predicate, err := parser.expression()
		if err != nil {
			return nil, err
		}
		base = ast.RefinedType{Base: base, Predicate: predicate}
	}

	return base, nil
}

func (parser *Parser) typeAnnotationPrimary() (ast.TypeAnnotation, error) {
	switch {
	case parser.isMatch([]token.TokenType{token.LBRACKET}):
		element, err := parser.typeAnnotation()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.RBRACKET, "expected ']' to close list type"); err != nil {
			return nil, err
		}
		return ast.ListType{Element: element}, nil

	case parser.isMatch([]token.TokenType{token.LCUR}):
		// Could be {Key: Value} (dict type) or {a: T, b: T} (structural type).
		// Disambiguated by re-scanning after the first key: a dict type has
		// exactly one key, which is itself a type (starts with an uppercase
		// identifier or '['); a structural type has field-style lowercase
		// names. We use a simple heuristic: a single entry with no further
		// comma is a dict type, multiple/annotated entries form a structural
		// type.
		firstKey, err := parser.typeAnnotation()
		if err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.COLON, "expected ':' in type"); err != nil {
			return nil, err
		}
		firstValue, err := parser.typeAnnotation()
		if err != nil {
			return nil, err
		}
		if parser.checkType(token.RCUR) {
			parser.advance()
			return ast.DictType{Key: firstKey, Value: firstValue}, nil
		}
		fields := []ast.StructuralField{}
		if namedKey, ok := firstKey.(ast.NamedType); ok {
			fields = append(fields, ast.StructuralField{Name: namedKey.Name, Type: firstValue})
		}
		for parser.isMatch([]token.TokenType{token.COMMA}) {
			nameTok, err := parser.consume(token.IDENTIFIER, "expected structural field name")
			if err != nil {
				return nil, err
			}
			if _, err := parser.consume(token.COLON, "expected ':' after structural field name"); err != nil {
				return nil, err
			}
			fieldType, err := parser.typeAnnotation()
			if err != nil {
				return nil, err
			}
			fields = append(fields, ast.StructuralField{Name: nameTok.Lexeme, Type: fieldType})
		}
		if _, err := parser.consume(token.RCUR, "expected '}' to close structural type"); err != nil {
			return nil, err
		}
		return ast.StructuralType{Fields: fields, Open: false}, nil

	case parser.isMatch([]token.TokenType{token.LPA}):
		var params []ast.FunctionTypeParam
		for !parser.checkType(token.RPA) && !parser.isFinished() {
			paramType, err := parser.typeAnnotation()
			if err != nil {
				return nil, err
			}
			params = append(params, ast.FunctionTypeParam{Type: paramType})
			if !parser.isMatch([]token.TokenType{token.COMMA}) {
				break
			}
		}
		if _, err := parser.consume(token.RPA, "expected ')' to close function type parameters"); err != nil {
			return nil, err
		}
		if _, err := parser.consume(token.ARROW, "expected '->' in function type"); err != nil {
			return nil, err
		}
		returnType, err := parser.typeAnnotation()
		if err != nil {
			return nil, err
		}
		return ast.FunctionType{Params: params, ReturnType: returnType}, nil

	case parser.isMatch([]token.TokenType{token.IDENTIFIER}):
		return ast.NamedType{Name: parser.previous().Lexeme}, nil
	}

	currentToken := parser.peek()
	return nil, CreateSyntaxError(currentToken.Line, currentToken.Column, "expected a type")
}

// Consumes the current token by advancing the parsers current position by
// one unit if the `tokenType` matches the token type of the parsers current
// position.
//
//	Returns:
//	- A SyntaxError if the provided `tokenType` does not match the `TokenType`
//		at the parsers current position
func (parser *Parser) consume(tokenType token.TokenType, errorMessage string) (token.Token, error) {
	if parser.checkType(tokenType) {
		return parser.advance(), nil
	}
	currentToken := parser.peek()
	return token.CreateToken(token.EOF, 0, 0), CreateSyntaxError(currentToken.Line, currentToken.Column, errorMessage)
}
