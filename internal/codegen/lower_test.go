package codegen

import (
	"testing"

	"kanso/internal/evmasm"
	"kanso/internal/ir"

	"github.com/stretchr/testify/assert"
)

func u256() ir.Type { return &ir.IntType{Bits: 256} }

func val(id int, name string) *ir.Value {
	return &ir.Value{ID: id, Name: name, Type: u256()}
}

func TestLowerConstantAndBinary(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	a := val(1, "a")
	b := val(2, "b")
	sum := val(3, "sum")

	block.Instructions = []ir.Instruction{
		&ir.ConstantInstruction{ID: 1, Result: a, Block: block, Value: "2", Type: u256()},
		&ir.ConstantInstruction{ID: 2, Result: b, Block: block, Value: "3", Type: u256()},
		&ir.BinaryInstruction{ID: 3, Result: sum, Block: block, Op: "ADD", Left: a, Right: b},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 4, Block: block, Value: sum}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	assert.Len(t, out.Blocks, 1)
	lb := out.Blocks[0]
	assert.False(t, lb.Unsupported, "a function of only constants/binary ops/return must fully lower")
	assert.Equal(t, 2, countItemOp(lb.Items, evmasm.OpPush))
	assert.Equal(t, 1, countItemOp(lb.Items, evmasm.OpAdd))
	assert.Equal(t, 1, countItemOp(lb.Items, evmasm.OpReturn))
}

func TestLowerSenderUsesCallerOpcode(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	s := val(1, "sender")
	block.Instructions = []ir.Instruction{
		&ir.SenderInstruction{ID: 1, Result: s, Block: block},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 2, Block: block, Value: s}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	assert.Equal(t, 1, countItemOp(out.Blocks[0].Items, evmasm.OpCaller))
}

func TestLowerStorageLoadAndStore(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	v := val(1, "v")
	block.Instructions = []ir.Instruction{
		&ir.ConstantInstruction{ID: 1, Result: v, Block: block, Value: "42", Type: u256()},
		&ir.StorageStoreInstruction{ID: 2, Block: block, Value: v, SlotNum: 5, Type: u256()},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 3, Block: block}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	lb := out.Blocks[0]
	assert.False(t, lb.Unsupported)
	assert.Equal(t, 1, countItemOp(lb.Items, evmasm.OpSstore))

	// SSTORE reads slot off the top of the stack and value one below it, so
	// the item immediately before OpSstore must push the slot (5), and the
	// value (42) must already be on the stack by then. Getting this backwards
	// compiles `storage[5] = 42` into `storage[42] = 5`.
	sstoreAt := indexOfOp(lb.Items, evmasm.OpSstore)
	assert.GreaterOrEqual(t, sstoreAt, 1)
	slotPush := lb.Items[sstoreAt-1]
	assert.Equal(t, evmasm.OpPush, slotPush.Op)
	assert.Equal(t, int64(5), slotPush.Imm.Int64(), "the slot must be pushed immediately before SSTORE")

	valuePush := lb.Items[0]
	assert.Equal(t, evmasm.OpPush, valuePush.Op)
	assert.Equal(t, int64(42), valuePush.Imm.Int64(), "the value must be pushed before the slot")
}

func TestLowerKeyedStorageStorePushesValueBeforeDerivedSlot(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	key := val(1, "key")
	v := val(2, "v")
	block.Instructions = []ir.Instruction{
		&ir.ConstantInstruction{ID: 1, Result: key, Block: block, Value: "7", Type: u256()},
		&ir.ConstantInstruction{ID: 2, Result: v, Block: block, Value: "99", Type: u256()},
		&ir.KeyedStorageStoreInstruction{ID: 3, Block: block, Key: key, Value: v, BaseSlot: 2, KeyType: u256()},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 4, Block: block}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	lb := out.Blocks[0]
	assert.False(t, lb.Unsupported)
	assert.Equal(t, 1, countItemOp(lb.Items, evmasm.OpSstore))

	// The value must be materialized before the slot derivation begins (the
	// derived slot's SHA3 is the last item before SSTORE), so the hash ends
	// up on top of the stack and the value stays one below it.
	sstoreAt := indexOfOp(lb.Items, evmasm.OpSstore)
	assert.GreaterOrEqual(t, sstoreAt, 1)
	assert.Equal(t, evmasm.OpSha3, lb.Items[sstoreAt-1].Op, "the derived slot hash must immediately precede SSTORE")

	// Thread the lowered items through the optimizer's feed phase and inspect
	// the resulting store log: its Value class must resolve back to the
	// literal 99, and its Slot class must be the SHA3 derivation, never the
	// reverse. This catches the operand-order regression that opcode
	// position alone cannot, since both key and value lower to plain PUSHes.
	// lowerKeyedSlot's own two internal MSTOREs (writing the key and base slot
	// words to scratch memory) are logged too, so the SSTORE we care about is
	// the last entry, not the only one.
	el := feedNonTerminal(t, lb.Items)
	entries := el.StoreLog()
	assert.NotEmpty(t, entries)
	entry := entries[len(entries)-1]
	assert.Equal(t, evmasm.OpSstore, entry.Kind)
	assert.Equal(t, evmasm.OpSha3, el.Classes().Opcode(entry.Slot), "the slot must be the SHA3-derived class")
	valueRep := el.Classes().Representative(entry.Value)
	assert.Equal(t, evmasm.OpPush, valueRep.Op)
	assert.Equal(t, int64(99), valueRep.Imm.Int64(), "the stored value must resolve to the literal 99, not the key or the derived slot")
}

func TestLowerMemoryStorePushesValueBeforeAddress(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	addr := val(1, "addr")
	v := val(2, "v")
	block.Instructions = []ir.Instruction{
		&ir.ConstantInstruction{ID: 1, Result: addr, Block: block, Value: "64", Type: u256()},
		&ir.ConstantInstruction{ID: 2, Result: v, Block: block, Value: "7", Type: u256()},
		&ir.StoreInstruction{ID: 3, Block: block, Address: addr, Value: v},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 4, Block: block}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	lb := out.Blocks[0]
	assert.False(t, lb.Unsupported)
	assert.Equal(t, 1, countItemOp(lb.Items, evmasm.OpMstore))

	// Both the address and the value are plain SSA values defined earlier in
	// the block, so both lower to indistinguishable DUPs at the point of use
	// and opcode/position checks alone cannot tell them apart. Thread the
	// items through the optimizer's feed phase instead and inspect the
	// resulting store log, which records which class ended up as the address
	// (Slot) and which as the stored Value.
	el := feedNonTerminal(t, lb.Items)
	entries := el.StoreLog()
	assert.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, evmasm.OpMstore, entry.Kind)

	addrRep := el.Classes().Representative(entry.Slot)
	assert.Equal(t, evmasm.OpPush, addrRep.Op)
	assert.Equal(t, int64(64), addrRep.Imm.Int64(), "the memory address must resolve to the literal 64")

	valueRep := el.Classes().Representative(entry.Value)
	assert.Equal(t, evmasm.OpPush, valueRep.Op)
	assert.Equal(t, int64(7), valueRep.Imm.Int64(), "the stored value must resolve to the literal 7, not the address")
}

// feedNonTerminal drives a fresh Eliminator over items, stopping before the
// first boundary item (Feed's own contract: the caller must not feed past a
// block terminator). Every lowered test block here ends in exactly one such
// item (OpReturn), so this always replays the store-affecting prefix.
func feedNonTerminal(t *testing.T, items []evmasm.AssemblyItem) *evmasm.Eliminator {
	t.Helper()
	el := evmasm.NewEliminator()
	for offset, it := range items {
		if evmasm.BreaksBasicBlock(it) {
			break
		}
		if err := el.Feed(offset, it); err != nil {
			t.Fatalf("feeding item %d (%v) into eliminator: %v", offset, it, err)
		}
	}
	return el
}

func TestLowerExternalValueBecomesDup(t *testing.T) {
	// sum = ADD(param, param): param is never defined in this block, so it
	// must be loaded via DUP against its externally-assigned height, twice.
	block := &ir.BasicBlock{Label: "entry"}
	param := val(1, "param")
	sum := val(2, "sum")
	block.Instructions = []ir.Instruction{
		&ir.BinaryInstruction{ID: 1, Result: sum, Block: block, Op: "ADD", Left: param, Right: param},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 2, Block: block, Value: sum}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	lb := out.Blocks[0]
	assert.False(t, lb.Unsupported)
	assert.GreaterOrEqual(t, countItemOp(lb.Items, evmasm.OpDup), 2, "both reads of the external param must be DUPs")
	assert.Equal(t, 0, countItemOp(lb.Items, evmasm.OpPush), "no literal is ever pushed for an external value")
}

func TestLowerUnsupportedInstructionMarksBlock(t *testing.T) {
	block := &ir.BasicBlock{Label: "entry"}
	result := val(1, "r")
	block.Instructions = []ir.Instruction{
		&ir.CallInstruction{ID: 1, Result: result, Block: block, Function: "external_thing"},
	}
	block.Terminator = &ir.ReturnTerminator{ID: 2, Block: block, Value: result}

	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{block}}
	out := Lower(fn)

	lb := out.Blocks[0]
	assert.True(t, lb.Unsupported)
	assert.NotEmpty(t, lb.Reason)
}

func countItemOp(items []evmasm.AssemblyItem, op evmasm.Opcode) int {
	n := 0
	for _, it := range items {
		if it.Op == op {
			n++
		}
	}
	return n
}

// indexOfOp returns the index of the first item with the given opcode, or -1
// if none is present.
func indexOfOp(items []evmasm.AssemblyItem, op evmasm.Opcode) int {
	for idx, it := range items {
		if it.Op == op {
			return idx
		}
	}
	return -1
}
