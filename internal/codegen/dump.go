package codegen

import (
	"fmt"
	"strings"
)

// DumpAssembly renders fn's current item streams as a flat listing, one
// block per label, grounded on internal/ir/printer.go's writeIndent/
// writeLine style and spec.md §6's stream(writer, ...) debug dump.
func DumpAssembly(fn *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FUNCTION %s (optimized assembly)\n", fn.Name)
	for _, block := range fn.Blocks {
		fmt.Fprintf(&b, "  block %s:\n", block.Label)
		if block.Unsupported {
			fmt.Fprintf(&b, "    ; fallback: %s\n", block.Reason)
			continue
		}
		for _, item := range block.Items {
			fmt.Fprintf(&b, "    %s\n", item.String())
		}
	}
	return b.String()
}

// DumpReport renders a Report as a short per-function summary line followed
// by one line per fallback, for CLI/log consumption.
func DumpReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d block(s) optimized, %d fallback(s), %d -> %d items\n",
		r.Function, len(r.Optimized), len(r.Fallbacks), r.BytesBefore, r.BytesAfter)
	for _, f := range r.Fallbacks {
		fmt.Fprintf(&b, "  fallback in %s: %s\n", f.Label, f.Reason)
	}
	return b.String()
}
