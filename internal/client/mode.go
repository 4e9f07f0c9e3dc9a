package client

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/mattjoyce/relay/internal/protocol"
)

// ModeAuto asks Submit to classify the command text itself.
const ModeAuto protocol.Mode = ""

// ParseMode accepts the spellings used on the command line and in the API.
func ParseMode(s string) (protocol.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "eval", "expr", "expression":
		return protocol.ModeExpression, nil
	case "exec", "stmt", "statement":
		return protocol.ModeStatement, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want auto, eval or exec)", s)
	}
}

// Classify reports whether src parses as a Go expression or, failing that,
// as a statement list. It checks syntax only; names are resolved on the
// worker.
func Classify(src string) (protocol.Mode, error) {
	if strings.TrimSpace(src) == "" {
		return "", &CompileError{Command: src, Err: errors.New("empty command")}
	}
	if _, err := parser.ParseExpr(src); err == nil {
		return protocol.ModeExpression, nil
	}
	const prefix = "package p\nfunc _() {\n"
	body := prefix + src + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "command.go", body, parser.AllErrors)
	if err == nil {
		if wrapsWholeBody(fset, file, len(prefix)-2, len(body)-2) {
			return protocol.ModeStatement, nil
		}
		err = errors.New("statement list closes its enclosing block")
	}
	// Imports and top-level declarations only parse at file scope.
	if _, ferr := parser.ParseFile(token.NewFileSet(), "command.go", "package p\n"+src, parser.AllErrors); ferr == nil {
		return protocol.ModeStatement, nil
	}
	return "", &CompileError{Command: src, Err: err}
}

// wrapsWholeBody reports whether file holds only the wrapper function and its
// body braces are the ones the wrapper added at lbrace and rbrace.
func wrapsWholeBody(fset *token.FileSet, file *ast.File, lbrace, rbrace int) bool {
	if len(file.Decls) != 1 {
		return false
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok || fn.Name.Name != "_" || fn.Body == nil {
		return false
	}
	return fset.Position(fn.Body.Lbrace).Offset == lbrace &&
		fset.Position(fn.Body.Rbrace).Offset == rbrace
}

func resolveMode(src string, mode protocol.Mode) (protocol.Mode, error) {
	switch mode {
	case ModeAuto:
		return Classify(src)
	case protocol.ModeExpression, protocol.ModeStatement:
		if strings.TrimSpace(src) == "" {
			return "", &CompileError{Command: src, Err: errors.New("empty command")}
		}
		return mode, nil
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}
