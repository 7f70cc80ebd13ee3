package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"limit/checker"
	"limit/compiler"
	"limit/lexer"
	"limit/parser"
	"limit/vm"
)

// runCmd implements the `run` subcommand: lex, parse, check and compile a
// source file, then execute the resulting bytecode on the VM.
type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "Execute a Limit source file" }
func (*runCmd) Usage() string {
	return `run <file>:
  Compile and execute a Limit source file.
`
}
func (r *runCmd) SetFlags(f *flag.FlagSet) {}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "💥 File not provided\n")
		return subcommands.ExitUsageError
	}
	filename := args[0]

	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 Failed to read file: %v\n", err)
		return subcommands.ExitFailure
	}

	lex := lexer.CreateLexer(string(data))
	tokens, err := lex.Scan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lexing error: %v\n", err)
		return subcommands.ExitFailure
	}

	p := parser.Make(tokens)
	ast, errs := p.Parse()
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		return subcommands.ExitFailure
	}

	diagnostics := checker.Check(ast)
	if diagnostics.HasErrors() {
		for _, d := range diagnostics.Errors() {
			fmt.Fprintln(os.Stderr, d)
		}
		return subcommands.ExitFailure
	}

	astCompiler := compiler.NewASTCompiler()
	bytecode, err := astCompiler.CompileAST(ast)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return subcommands.ExitFailure
	}

	machine := vm.New()
	if err := machine.Run(bytecode); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
