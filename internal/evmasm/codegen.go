package evmasm

import "sort"

// CSECodeGenerator is the schedule phase of spec.md §4.4. Given the initial
// stack layout, target stack layout, the class graph, and the sequence-
// ordered store log, it emits a fresh assembly sequence that, run against
// a stack matching initial_stack, yields target_stack_contents and performs
// every store in store_log in sequence-number order.
type CSECodeGenerator struct {
	classes  *ExpressionClasses
	target   map[int]Id
	storeLog []StoreLogEntry

	stack map[int]Id // current working virtual stack, height -> id
	top   int         // current top height

	out      []AssemblyItem
	lastItem AssemblyItem
	hasLast  bool
}

// NewCSECodeGenerator builds a schedule-phase generator. initialStack gives
// the classes already present at block entry (at their, generally
// non-positive, heights); targetStack gives the required final layout.
func NewCSECodeGenerator(classes *ExpressionClasses, initialStack, targetStack map[int]Id, storeLog []StoreLogEntry) *CSECodeGenerator {
	g := &CSECodeGenerator{
		classes:  classes,
		target:   targetStack,
		storeLog: append([]StoreLogEntry(nil), storeLog...),
		stack:    make(map[int]Id, len(initialStack)),
	}
	for h, id := range initialStack {
		g.stack[h] = id
		if h > g.top {
			g.top = h
		}
	}
	return g
}

// Generate runs phases A–D of spec.md §4.4 and returns the emitted items.
func (g *CSECodeGenerator) Generate() ([]AssemblyItem, error) {
	if err := g.emitSequencePoints(); err != nil {
		return nil, err
	}
	if err := g.emitTargetStack(); err != nil {
		return nil, err
	}
	g.emitCleanup()
	return g.out, nil
}

// sequencePoint is one ordering obligation: either a store_log entry or a
// non-pure class (sload/mload miss, opaque call) that the needed set
// transitively depends on. Per spec.md §4.4 Phase B priority rule 1,
// sequence-constrained operations are emitted first, in ascending seq order.
type sequencePoint struct {
	seq      int
	order    int // tiebreaker preserving discovery order
	storeIdx int // index into g.storeLog, or -1 if this is a class emission
	classID  Id
}

func (g *CSECodeGenerator) emitSequencePoints() error {
	needed := g.dependencyClosure()

	var points []sequencePoint
	order := 0
	for id := range needed {
		if g.classes.exprs[id].seq > 0 {
			points = append(points, sequencePoint{seq: g.classes.exprs[id].seq, order: order, storeIdx: -1, classID: id})
			order++
		}
	}
	for i, e := range g.storeLog {
		points = append(points, sequencePoint{seq: e.Seq, order: order, storeIdx: i})
		order++
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].seq != points[j].seq {
			return points[i].seq < points[j].seq
		}
		return points[i].order < points[j].order
	})

	for _, p := range points {
		if p.storeIdx >= 0 {
			entry := g.storeLog[p.storeIdx]
			if err := g.materializeToTop(entry.Value); err != nil {
				return err
			}
			if err := g.materializeToTop(entry.Slot); err != nil {
				return err
			}
			g.emitEffect(AssemblyItem{Op: entry.Kind}, 2)
			continue
		}
		if _, onStack := g.findPosition(p.classID); onStack {
			continue
		}
		if err := g.materializeToTop(p.classID); err != nil {
			return err
		}
	}
	return nil
}

// dependencyClosure computes the set of classes that must be realized:
// everything referenced by the target stack or the store log, transitively
// closed over operand edges (spec.md §4.4 Phase A).
func (g *CSECodeGenerator) dependencyClosure() map[Id]bool {
	needed := make(map[Id]bool)
	var visit func(Id)
	visit = func(id Id) {
		if needed[id] {
			return
		}
		needed[id] = true
		for _, op := range g.classes.Operands(id) {
			visit(op)
		}
	}
	for _, id := range g.target {
		visit(id)
	}
	for _, e := range g.storeLog {
		visit(e.Slot)
		visit(e.Value)
	}
	return needed
}

// emitTargetStack is spec.md §4.4 Phase D: realize each required height,
// height by height in ascending order, moving a fresh copy into place with
// a single SWAP when the height isn't already correct, and duplicating with
// DUP (via materializeToTop) when a class is needed at more than one final
// height.
func (g *CSECodeGenerator) emitTargetStack() error {
	heights := make([]int, 0, len(g.target))
	for h := range g.target {
		heights = append(heights, h)
	}
	sort.Ints(heights)

	for _, h := range heights {
		want := g.target[h]
		if cur, ok := g.stack[h]; ok && cur == want {
			continue
		}
		if err := g.materializeToTop(want); err != nil {
			return err
		}
		g.swapTopWith(h)
	}
	return nil
}

// emitCleanup is spec.md §4.4 Phase C applied to whatever is left above the
// highest required height once every target height and store has been
// satisfied — it is, by construction, never needed again.
func (g *CSECodeGenerator) emitCleanup() {
	maxTarget := 0
	first := true
	for h := range g.target {
		if first || h > maxTarget {
			maxTarget = h
			first = false
		}
	}
	if first {
		maxTarget = g.top
		// No target stack at all: drop everything this block computed
		// above its entry height.
		for g.top > 0 {
			g.emit(Op(OpPop))
			delete(g.stack, g.top)
			g.top--
		}
		return
	}
	for g.top > maxTarget {
		g.emit(Op(OpPop))
		delete(g.stack, g.top)
		g.top--
	}
}

// findPosition returns a height currently holding id, preferring the
// topmost (cheapest to DUP) occurrence, scanning the live stack map.
func (g *CSECodeGenerator) findPosition(id Id) (int, bool) {
	best, found := 0, false
	for h, cur := range g.stack {
		if cur == id && (!found || h > best) {
			best, found = h, true
		}
	}
	return best, found
}

// materializeToTop ensures id is materialized at a fresh top slot, per
// spec.md §4.4: if already present, DUP it up; else recursively materialize
// its operands left-to-right and emit its representative item.
func (g *CSECodeGenerator) materializeToTop(id Id) error {
	if h, ok := g.findPosition(id); ok {
		g.emitDup(g.top - h + 1)
		g.stack[g.top+1] = id
		g.top++
		return nil
	}

	operands := g.classes.Operands(id)
	rep := g.classes.Representative(id)

	if len(operands) == 0 {
		if g.classes.isPlaceholder(id) {
			// An initial-stack placeholder the caller never supplied
			// cannot be manufactured from nothing.
			return newInvariant(g.offsetHint(), rep, "initial-stack placeholder has no live stack position")
		}
		// A nullary leaf that isn't a placeholder (PUSH, or a zero-operand
		// opaque/unknown-opcode barrier) is emitted directly.
		g.emit(rep)
		g.stack[g.top+1] = id
		g.top++
		return nil
	}

	for _, op := range operands {
		if err := g.materializeToTop(op); err != nil {
			return err
		}
	}
	// Every class reaching this point (anything with operands, reached via
	// a target height, a store's slot/value, or another class's operand
	// list) denotes a produced value: zero-output opcodes (SSTORE/MSTORE)
	// never get a class id of their own, they are store_log entries
	// consumed directly in emitSequencePoints.
	g.emitConsume(rep, len(operands), id)
	return nil
}

// emitConsume appends rep, pops argsIn labels off the top of the working
// stack, and records resultID at the new top.
func (g *CSECodeGenerator) emitConsume(rep AssemblyItem, argsIn int, resultID Id) {
	g.emit(rep)
	for i := 0; i < argsIn; i++ {
		delete(g.stack, g.top-i)
	}
	g.top -= argsIn
	g.top++
	g.stack[g.top] = resultID
}

// emitEffect appends rep (SSTORE/MSTORE) and pops argsIn labels with no
// replacement push — the store's own class id (if any) was only ever used
// to identify slot/value, never to be re-read from the stack.
func (g *CSECodeGenerator) emitEffect(rep AssemblyItem, argsIn int) {
	g.emit(rep)
	for i := 0; i < argsIn; i++ {
		delete(g.stack, g.top-i)
	}
	g.top -= argsIn
}

// emitDup appends DUP_i and is the only place DUP is emitted, so the
// swap-cancel peephole (which only ever looks at the immediately preceding
// item) can't confuse it with a SWAP.
func (g *CSECodeGenerator) emitDup(i int) { g.emit(Dup(i)) }

// swapTopWith exchanges the current top with height h via a single SWAP_i
// (i = top-h), per spec.md §4.4's single-swap materialization rule — not a
// sequence of adjacent swaps. Mutates the working stack unconditionally (two
// calls with the same h are their own inverse) and elides the instruction
// pair when the immediately preceding emitted item is the identical SWAP_i
// (spec.md §4.4 "Peephole fusion").
func (g *CSECodeGenerator) swapTopWith(h int) {
	if h == g.top {
		return
	}
	i := g.top - h
	item := Swap(i)
	g.stack[g.top], g.stack[h] = g.stack[h], g.stack[g.top]
	if g.hasLast && g.lastItem.Op == OpSwap && g.lastItem.Equal(item) {
		g.out = g.out[:len(g.out)-1]
		if len(g.out) > 0 {
			g.lastItem = g.out[len(g.out)-1]
		} else {
			g.hasLast = false
		}
		return
	}
	g.emit(item)
}

func (g *CSECodeGenerator) emit(item AssemblyItem) {
	g.out = append(g.out, item)
	g.lastItem = item
	g.hasLast = true
}

func (g *CSECodeGenerator) offsetHint() int { return len(g.out) }
