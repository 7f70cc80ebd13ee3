package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"limit/checker"
	"limit/compiler"
	"limit/lexer"
	"limit/parser"
	"limit/token"
	"limit/vm"
)

// replCmd implements the `repl` subcommand: an interactive session driven
// by the same lex/parse/check/compile/run pipeline as `run`, buffering
// input until a statement is complete.
type replCmd struct {
	disassemble  bool
	dumpBytecode bool
	dumpAST      bool
}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "Start an interactive Limit session" }
func (*replCmd) Usage() string {
	return `repl:
  Start an interactive Limit session.
`
}

func (cmd *replCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.disassemble, "disassemble", false, "dump disassembled bytecode for each evaluated statement")
	f.BoolVar(&cmd.dumpBytecode, "dumpBytecode", false, "write encoded bytecode as hexadecimal to a .nic file")
	f.BoolVar(&cmd.dumpAST, "dumpAST", false, "write the AST as JSON to ast.json")
	f.BoolVar(&cmd.disassemble, "di", false, "shorthand for disassemble")
	f.BoolVar(&cmd.dumpBytecode, "du", false, "shorthand for dumpBytecode")
	f.BoolVar(&cmd.dumpAST, "da", false, "shorthand for dumpAST")
}

func (cmd *replCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Println("\nWelcome to Limit!")

	scanner := bufio.NewScanner(os.Stdin)
	astCompiler := compiler.NewASTCompiler()
	machine := vm.New()
	var buffer strings.Builder

	for {
		if buffer.Len() == 0 {
			fmt.Fprintf(os.Stdout, ">>> ")
		} else {
			fmt.Fprintf(os.Stdout, "... ")
		}
		scanned := scanner.Scan()
		if !scanned {
			if err := scanner.Err(); err != nil {
				fmt.Fprintf(os.Stderr, "💥 %s", err.Error())
				return subcommands.ExitFailure
			}
			return subcommands.ExitSuccess
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "exit" && buffer.Len() == 0 {
			os.Exit(0)
		}

		if buffer.Len() > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString(line)
		source := buffer.String()

		lex := lexer.CreateLexer(source)
		tokens, err := lex.Scan()
		if err != nil {
			fmt.Println(err)
			buffer.Reset()
			continue
		}

		if !isInputReady(tokens) {
			continue
		}

		p := parser.Make(tokens)
		statements, parseErrs := p.Parse()
		if len(parseErrs) > 0 {
			// If all parse errors are syntax errors at the EOF token, the
			// user hasn't finished typing yet; wait for more input.
			if allParseErrorsAtEOF(parseErrs, tokens[len(tokens)-1]) {
				continue
			}
			fmt.Fprintf(os.Stdout, "Parse error: ")
			for _, pErr := range parseErrs {
				fmt.Fprintf(os.Stdout, "%v\n", pErr)
			}
			buffer.Reset()
			continue
		}

		diagnostics := checker.Check(statements)
		if diagnostics.HasErrors() {
			for _, d := range diagnostics.Errors() {
				fmt.Fprintln(os.Stdout, d)
			}
			buffer.Reset()
			continue
		}

		// The compiler keeps earlier inputs' bytecode and appends this
		// input's code, and Run starts again from the first instruction, so
		// every earlier statement runs again on each evaluation; fine at
		// this scale.
		bytecode, err := astCompiler.CompileAST(statements)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			buffer.Reset()
			continue
		}

		if cmd.disassemble {
			if _, err := astCompiler.DiassembleBytecode(true, ""); err != nil {
				fmt.Fprintf(os.Stderr, "💥 Bytecode disassemble error:\n\t%s", err.Error())
			}
		}
		if cmd.dumpBytecode {
			if err := astCompiler.DumpBytecode(""); err != nil {
				fmt.Fprintf(os.Stderr, "💥 Dump bytecode error:\n\t%s", err.Error())
			}
		}
		if cmd.dumpAST {
			if err := p.PrintToFile(statements, "ast.json"); err != nil {
				fmt.Fprintf(os.Stderr, "💥 Dump AST error:\n\t%s", err.Error())
			}
		}

		if err := machine.Run(bytecode); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			buffer.Reset()
			continue
		}
		buffer.Reset()
	}
}

// isInputReady checks whether the buffered input is a complete statement:
// braces must balance, and the last non-EOF token must not be an operator
// or keyword that expects more input (e.g. `if (x > 5) {` waits for `}`).
func isInputReady(tokens []token.Token) bool {
	braceBalance := 0
	for _, tok := range tokens {
		switch tok.TokenType {
		case token.LCUR:
			braceBalance++
		case token.RCUR:
			braceBalance--
		}
	}
	if braceBalance > 0 {
		return false
	}

	last := lastNonEOF(tokens)
	if last == nil {
		return true
	}

	switch last.TokenType {
	case token.ASSIGN,
		token.ADD,
		token.SUB,
		token.MULT,
		token.DIV,
		token.BANG,
		token.EQUAL_EQUAL,
		token.NOT_EQUAL,
		token.LESS,
		token.LESS_EQUAL,
		token.LARGER,
		token.LARGER_EQUAL,
		token.COMMA,
		token.LPA,
		token.LCUR,
		token.IF,
		token.ELSE,
		token.ELIF,
		token.WHILE,
		token.FOR,
		token.FUNC,
		token.RETURN,
		token.VAR,
		token.CONST,
		token.AND,
		token.OR,
		token.PRINT:
		return false
	}

	return true
}

// lastNonEOF returns the last non-EOF token, or nil if every token is EOF.
func lastNonEOF(tokens []token.Token) *token.Token {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i].TokenType != token.EOF {
			return &tokens[i]
		}
	}
	return nil
}

// allParseErrorsAtEOF reports whether every parse error is a syntax error
// positioned at the EOF token, meaning the input is merely incomplete
// rather than actually malformed.
func allParseErrorsAtEOF(parseErrs []error, eof token.Token) bool {
	for _, parseErr := range parseErrs {
		syntaxErr, ok := parseErr.(parser.SyntaxError)
		if !ok {
			return false
		}
		if syntaxErr.Line != eof.Line || syntaxErr.Column != eof.Column {
			return false
		}
	}
	return len(parseErrs) > 0
}
