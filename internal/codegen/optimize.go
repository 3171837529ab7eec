package codegen

import "kanso/internal/evmasm"

// Report summarizes one OptimizeFunction run: which blocks were optimized,
// and which were left untouched along with why.
type Report struct {
	Function  string
	Optimized []BlockStat
	Fallbacks []Fallback

	// BytesBefore/BytesAfter sum each optimized block's item count as a
	// stand-in for bytecode size (this repository has no opcode-size table),
	// mirroring original_source/libevmcore's per-pass size reporting.
	BytesBefore int
	BytesAfter  int
}

// BlockStat records a successfully optimized block's before/after item
// counts, for a size/gas-flavored summary (per original_source/libevmcore's
// own per-block reporting).
type BlockStat struct {
	Label  string
	Before int
	After  int
}

// Fallback records a block the optimizer could not safely improve, and why:
// either lowering never produced a full item stream for it (Reason from
// Block.Reason), or evmasm itself rejected the stream (Reason from the
// returned *evmasm.OptError).
type Fallback struct {
	Label  string
	Reason string

	// Err is the underlying *evmasm.OptError, when the fallback was caused
	// by evmasm rejecting the stream rather than by lowering giving up. Nil
	// for a lowering-level fallback (Block.Reason alone explains those).
	Err error
}

// OptimizeFunction runs the evmasm peephole optimizer over every supported
// block of fn, replacing each block's items with the optimized stream
// in place. A block evmasm cannot optimize (lowering gave up on it, or
// evmasm itself returns an error) is left exactly as lowered and recorded
// as a Fallback — this function never fails outright.
func OptimizeFunction(fn *Function) *Report {
	report := &Report{Function: fn.Name}

	for _, block := range fn.Blocks {
		if block.Unsupported {
			report.Fallbacks = append(report.Fallbacks, Fallback{Label: block.Label, Reason: block.Reason})
			continue
		}

		before := len(block.Items)
		optimized, err := evmasm.OptimizeStream(block.Items)
		if err != nil {
			report.Fallbacks = append(report.Fallbacks, Fallback{Label: block.Label, Reason: err.Error(), Err: err})
			continue
		}

		block.Items = optimized
		report.Optimized = append(report.Optimized, BlockStat{Label: block.Label, Before: before, After: len(optimized)})
		report.BytesBefore += before
		report.BytesAfter += len(optimized)
	}

	return report
}
