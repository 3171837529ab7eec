package errors

import (
	"fmt"

	"kanso/internal/ast"
	"kanso/internal/evmasm"
)

// FromOptimizerError converts an evmasm.OptError surfaced as a codegen
// Fallback into the same CompilerError shape every other compiler stage
// reports through, so the CLI and LSP layers need only one error format.
// Since the optimizer operates on an already-lowered item stream with no
// surviving source position, the position is left at the file's start; the
// message itself names the function and block.
func FromOptimizerError(functionName, blockLabel string, err error) CompilerError {
	code := ErrorOptimizerInvariant
	if optErr, ok := err.(*evmasm.OptError); ok && optErr.Kind == evmasm.StackUnderflow {
		code = ErrorOptimizerUnderflow
	}

	return CompilerError{
		Level:    Error,
		Code:     code,
		Message:  fmt.Sprintf("%s: block %s: %s", functionName, blockLabel, err.Error()),
		Position: ast.Position{Line: 1, Column: 1},
	}
}
