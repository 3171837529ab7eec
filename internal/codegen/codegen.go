// Package codegen lowers a function's SSA-form IR into per-block assembly
// item streams and runs the evmasm peephole optimizer over each block. It is
// the glue between internal/ir's front end and internal/evmasm's
// dependency-free optimizer core: internal/evmasm knows nothing about
// contracts, values, or blocks, and internal/ir knows nothing about stack
// machines, so this package owns the one conversion between them.
package codegen

import "kanso/internal/evmasm"

// Function is one function's lowered assembly, one Block per ir.BasicBlock.
type Function struct {
	Name   string
	Blocks []*Block
}

// Block is one basic block's assembly item stream, plus a record of why
// lowering gave up on it, if it did.
type Block struct {
	Label string
	Items []evmasm.AssemblyItem

	// Unsupported is true when the block contains an instruction kind
	// lower.go does not translate (variadic-arity calls, checked-arithmetic
	// intrinsics, event/log encoding). Such blocks carry whatever partial
	// items were produced before the unsupported instruction and are never
	// handed to the optimizer.
	Unsupported bool
	Reason      string
}
