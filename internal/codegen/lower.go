package codegen

import (
	"fmt"
	"math/big"
	"strings"

	"kanso/internal/evmasm"
	"kanso/internal/ir"
)

// Lower converts an ir.Function's basic blocks into per-block assembly item
// streams, in program order, with no optimization applied. internal/evmasm's
// peephole optimizer is block-scoped, so this lowering is too: a value a
// block needs but never produced itself (a parameter, or something live out
// of a predecessor) is assumed to already occupy a fixed stack height below
// everything the block computes, in the order it is first referenced. This
// backend does not implement cross-block register allocation or a real
// calling convention; see DESIGN.md for the tradeoff.
func Lower(fn *ir.Function) *Function {
	out := &Function{Name: fn.Name}
	for _, b := range fn.Blocks {
		out.Blocks = append(out.Blocks, lowerBlock(b))
	}
	return out
}

// blockLowering is the per-block lowering state: which SSA value currently
// has a live copy at which stack height, and the running top height itself.
// Height 0 always denotes "the block's own entry top" (whatever that turns
// out to be), matching evmasm.Eliminator's own convention, so the item
// stream produced here needs no translation before being fed to it.
type blockLowering struct {
	items  []evmasm.AssemblyItem
	height int
	pos    map[*ir.Value]int

	unsupported bool
	reason      string
}

func lowerBlock(b *ir.BasicBlock) *Block {
	bl := &blockLowering{pos: scanExternals(b)}

	for _, inst := range b.Instructions {
		if bl.unsupported {
			break
		}
		bl.lowerInstruction(inst)
	}
	if !bl.unsupported && b.Terminator != nil {
		bl.lowerTerminator(b.Terminator)
	}

	return &Block{Label: b.Label, Items: bl.items, Unsupported: bl.unsupported, Reason: bl.reason}
}

// scanExternals finds every value this block reads but never itself defines
// (function parameters, values computed by a predecessor block) and assigns
// each a distinct non-positive height, in first-reference order, with the
// very first one assumed to be the block's entry-top (height 0).
func scanExternals(b *ir.BasicBlock) map[*ir.Value]int {
	defined := make(map[*ir.Value]bool)
	externals := make(map[*ir.Value]int)
	next := 0

	consider := func(v *ir.Value) {
		if v == nil || defined[v] {
			return
		}
		if _, ok := externals[v]; ok {
			return
		}
		externals[v] = next
		next--
	}

	for _, inst := range b.Instructions {
		for _, op := range inst.GetOperands() {
			consider(op)
		}
		if r := inst.GetResult(); r != nil {
			defined[r] = true
		}
	}
	if b.Terminator != nil {
		for _, op := range b.Terminator.GetOperands() {
			consider(op)
		}
	}
	return externals
}

func (bl *blockLowering) emit(item evmasm.AssemblyItem) {
	bl.items = append(bl.items, item)
}

// giveUp marks the block as unsupported from this point on; whatever was
// already lowered is kept (for inspection/printing) but never optimized.
func (bl *blockLowering) giveUp(reason string) {
	bl.unsupported = true
	bl.reason = reason
}

// load brings a fresh copy of v to the top of the stack via DUP. Every value
// load() is ever asked for is either one of scanExternals's pre-assigned
// positions or the result of an instruction already lowered earlier in this
// block, so pos[v] is always already known.
func (bl *blockLowering) load(v *ir.Value) {
	if v == nil {
		bl.emit(evmasm.PushInt(0))
		bl.height++
		return
	}
	h, ok := bl.pos[v]
	if !ok {
		bl.giveUp("codegen: internal error: value used before it was defined or recognized as external")
		return
	}
	bl.emit(evmasm.Dup(bl.height - h + 1))
	bl.height++
	bl.pos[v] = bl.height
}

// pushConst emits the literal value of a constant-valued instruction.
func (bl *blockLowering) pushConst(value interface{}, typ ir.Type) error {
	n, err := constToBigInt(value, typ)
	if err != nil {
		return err
	}
	bl.emit(evmasm.Push(n))
	bl.height++
	return nil
}

func constToBigInt(value interface{}, typ ir.Type) (*big.Int, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return big.NewInt(1), nil
		}
		return big.NewInt(0), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return big.NewInt(0), nil
		}
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s = s[2:]
			base = 16
		}
		n, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("codegen: cannot parse constant %q of type %v", v, typ)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("codegen: unsupported constant value kind %T", value)
	}
}

func (bl *blockLowering) lowerInstruction(inst ir.Instruction) {
	switch i := inst.(type) {
	case *ir.ConstantInstruction:
		if err := bl.pushConst(i.Value, i.Type); err != nil {
			bl.giveUp(err.Error())
			return
		}
		bl.pos[i.Result] = bl.height

	case *ir.SenderInstruction:
		bl.emit(evmasm.Op(evmasm.OpCaller))
		bl.height++
		bl.pos[i.Result] = bl.height

	case *ir.BinaryInstruction:
		op, ok := binaryOpcode(i.Op)
		if !ok {
			bl.giveUp(fmt.Sprintf("codegen: unrecognized binary operator %q", i.Op))
			return
		}
		bl.load(i.Left)
		bl.load(i.Right)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(op))
		bl.height -= 2
		bl.height++
		bl.pos[i.Result] = bl.height

	case *ir.StorageLoadInstruction:
		bl.loadSlot(i.Slot, i.SlotNum)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpSload))
		bl.pos[i.Result] = bl.height

	case *ir.StorageStoreInstruction:
		// SSTORE reads slot off the top of the stack and value one below it
		// (internal/evmasm/eliminator.go's OpSstore case), so value must be
		// pushed first.
		bl.load(i.Value)
		bl.loadSlot(i.Slot, i.SlotNum)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpSstore))
		bl.height -= 2

	case *ir.KeyedStorageLoadInstruction:
		bl.lowerKeyedSlot(i.Key, i.BaseSlot)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpSload))
		bl.pos[i.Result] = bl.height

	case *ir.KeyedStorageStoreInstruction:
		// Same slot-on-top/value-below convention as the plain storage store
		// above: materialize the value before deriving the keyed slot, so
		// the derived slot ends up on top at SSTORE time.
		bl.load(i.Value)
		bl.lowerKeyedSlot(i.Key, i.BaseSlot)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpSstore))
		bl.height -= 2

	case *ir.LoadInstruction:
		bl.load(i.Address)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpMload))
		bl.pos[i.Result] = bl.height

	case *ir.StoreInstruction:
		// MSTORE reads address off the top of the stack and value one below
		// it (internal/evmasm/eliminator.go's OpMstore case), the same
		// convention as OpSstore, so value must be pushed first.
		bl.load(i.Value)
		bl.load(i.Address)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpMstore))
		bl.height -= 2

	case *ir.RequireInstruction:
		bl.load(i.Condition)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.Op(evmasm.OpRequire))
		bl.height--

	case *ir.AssumeInstruction:
		// A compiler hint with no runtime effect once checked arithmetic
		// has already been resolved; lowering drops it.

	default:
		bl.giveUp(fmt.Sprintf("codegen: no lowering for instruction kind %T", inst))
	}
}

// loadSlot pushes a storage slot address, preferring the already-known
// SlotNum (the common case, resolved at compile time by the front end) over
// re-deriving it from a runtime Slot value.
func (bl *blockLowering) loadSlot(slot *ir.Value, slotNum int) {
	if slot == nil {
		bl.emit(evmasm.PushInt(int64(slotNum)))
		bl.height++
		return
	}
	bl.load(slot)
}

// lowerKeyedSlot computes keccak256(key, baseSlot), matching the standard
// mapping-slot derivation: the key word and the base slot word are written
// to scratch memory and hashed together. This lowering assumes offsets 0
// and 32 are free, which only holds for a single derivation in flight at a
// time — true for this backend's straight-line, call-free basic blocks.
// Each MSTORE reads its address off the top of the stack and its value one
// below (internal/evmasm/eliminator.go's OpMstore case), so the data word
// is always materialized before the offset it's written to.
func (bl *blockLowering) lowerKeyedSlot(key *ir.Value, baseSlot int) {
	bl.load(key)
	if bl.unsupported {
		return
	}
	bl.emit(evmasm.PushInt(0))
	bl.height++
	bl.emit(evmasm.Op(evmasm.OpMstore))
	bl.height -= 2

	bl.emit(evmasm.PushInt(int64(baseSlot)))
	bl.height++
	bl.emit(evmasm.PushInt(32))
	bl.height++
	bl.emit(evmasm.Op(evmasm.OpMstore))
	bl.height -= 2

	bl.emit(evmasm.PushInt(0))
	bl.height++
	bl.emit(evmasm.PushInt(64))
	bl.height++
	bl.emit(evmasm.Op(evmasm.OpSha3))
	bl.height--
}

func (bl *blockLowering) lowerTerminator(term ir.Terminator) {
	switch t := term.(type) {
	case *ir.ReturnTerminator:
		if t.Value != nil {
			bl.load(t.Value)
			if bl.unsupported {
				return
			}
		}
		bl.emit(evmasm.Op(evmasm.OpReturn))

	case *ir.JumpTerminator:
		bl.emit(evmasm.PushTag(t.Target.Label))
		bl.emit(evmasm.Op(evmasm.OpJump))

	case *ir.RevertInstruction:
		bl.emit(evmasm.Op(evmasm.OpRevert))

	case *ir.BranchTerminator:
		bl.load(t.Condition)
		if bl.unsupported {
			return
		}
		bl.emit(evmasm.PushTag(t.TrueBlock.Label))
		bl.emit(evmasm.Op(evmasm.OpJumpI))
		bl.emit(evmasm.PushTag(t.FalseBlock.Label))
		bl.emit(evmasm.Op(evmasm.OpJump))

	default:
		bl.giveUp(fmt.Sprintf("codegen: no lowering for terminator kind %T", term))
	}
}

func binaryOpcode(op string) (evmasm.Opcode, bool) {
	switch op {
	case "ADD":
		return evmasm.OpAdd, true
	case "SUB":
		return evmasm.OpSub, true
	case "MUL":
		return evmasm.OpMul, true
	case "DIV":
		return evmasm.OpDiv, true
	case "MOD":
		return evmasm.OpMod, true
	case "EXP":
		return evmasm.OpExp, true
	case "LT", "<":
		return evmasm.OpLt, true
	case "GT", ">":
		return evmasm.OpGt, true
	case "EQ", "==":
		return evmasm.OpEq, true
	case "AND", "&&", "&":
		return evmasm.OpAnd, true
	case "OR", "||", "|":
		return evmasm.OpOr, true
	case "XOR", "^":
		return evmasm.OpXor, true
	default:
		return "", false
	}
}
