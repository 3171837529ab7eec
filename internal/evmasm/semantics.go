package evmasm

// SemanticInformation is a set of pure, table-driven predicates over an
// AssemblyItem. It is the only part of the optimizer that knows concrete
// opcode identities; everything else (ExpressionClasses, Eliminator,
// CSECodeGenerator) refers to opcodes only through these predicates plus
// arity.

// opInfo is the static per-opcode table entry.
type opInfo struct {
	argsIn, argsOut int
	pure            bool // no storage/memory/call side effect
	commutative     bool
	storage         bool
	memory          bool
	isLoad          bool
	isStore         bool
	breaksBlock     bool
}

var opTable = map[Opcode]opInfo{
	OpAdd: {argsIn: 2, argsOut: 1, pure: true, commutative: true},
	OpMul: {argsIn: 2, argsOut: 1, pure: true, commutative: true},
	OpSub: {argsIn: 2, argsOut: 1, pure: true},
	OpDiv: {argsIn: 2, argsOut: 1, pure: true},
	OpMod: {argsIn: 2, argsOut: 1, pure: true},
	OpExp: {argsIn: 2, argsOut: 1, pure: true},

	OpLt:     {argsIn: 2, argsOut: 1, pure: true},
	OpGt:     {argsIn: 2, argsOut: 1, pure: true},
	OpEq:     {argsIn: 2, argsOut: 1, pure: true, commutative: true},
	OpIsZero: {argsIn: 1, argsOut: 1, pure: true},

	OpAnd: {argsIn: 2, argsOut: 1, pure: true, commutative: true},
	OpOr:  {argsIn: 2, argsOut: 1, pure: true, commutative: true},
	OpXor: {argsIn: 2, argsOut: 1, pure: true, commutative: true},
	OpNot: {argsIn: 1, argsOut: 1, pure: true},

	OpSha3: {argsIn: 2, argsOut: 1, pure: true}, // operands are (offset,size); treated as pure over its class ids

	OpSload:  {argsIn: 1, argsOut: 1, storage: true, isLoad: true},
	OpSstore: {argsIn: 2, argsOut: 0, storage: true, isStore: true},
	OpMload:  {argsIn: 1, argsOut: 1, memory: true, isLoad: true},
	OpMstore: {argsIn: 2, argsOut: 0, memory: true, isStore: true},

	OpPop: {argsIn: 1, argsOut: 0, pure: true},

	OpPush:   {argsIn: 0, argsOut: 1, pure: true},
	OpCaller: {argsIn: 0, argsOut: 1, pure: true},
	OpRequire: {argsIn: 1, argsOut: 0},

	OpJump:     {argsIn: 1, argsOut: 0, breaksBlock: true},
	OpJumpI:    {argsIn: 2, argsOut: 0, breaksBlock: true},
	OpJumpDest: {argsIn: 0, argsOut: 0, breaksBlock: true},
	OpStop:     {argsIn: 0, argsOut: 0, breaksBlock: true},
	OpReturn:   {argsIn: 2, argsOut: 0, breaksBlock: true},
	OpRevert:   {argsIn: 2, argsOut: 0, breaksBlock: true},
	OpSuicide:  {argsIn: 1, argsOut: 0, breaksBlock: true},
	OpInvalid:  {argsIn: 0, argsOut: 0, breaksBlock: true},

	OpCall:         {argsIn: 7, argsOut: 1},
	OpStaticCall:   {argsIn: 6, argsOut: 1},
	OpDelegateCall: {argsIn: 6, argsOut: 1},
	OpCreate:       {argsIn: 3, argsOut: 1},
	OpBalance:      {argsIn: 1, argsOut: 1},
	OpLog0:         {argsIn: 2, argsOut: 0},
	OpLog1:         {argsIn: 3, argsOut: 0},
	OpLog2:         {argsIn: 4, argsOut: 0},
	OpLog3:         {argsIn: 5, argsOut: 0},
	OpLog4:         {argsIn: 6, argsOut: 0},
}

// lookup returns the table entry for op, and whether one exists. Per spec,
// an assembly item with no SemanticInformation classification (UnknownOpcode)
// is treated as an opaque impure barrier by the caller rather than erroring.
func lookup(op Opcode) (opInfo, bool) {
	info, ok := opTable[op]
	return info, ok
}

// BreaksBasicBlock reports whether item must end a basic block. The
// boundary item itself is not consumed by the feed phase; it is returned to
// the caller to be re-emitted verbatim after the optimized block.
func BreaksBasicBlock(item AssemblyItem) bool {
	if item.Op == OpTag {
		return true
	}
	info, ok := lookup(item.Op)
	return ok && info.breaksBlock
}

// IsCommutative reports whether item's operand order is insignificant for
// canonicalization purposes (ADD, MUL, EQ, AND, OR, XOR per spec.md §4.1).
func IsCommutative(item AssemblyItem) bool {
	info, ok := lookup(item.Op)
	return ok && info.commutative
}

// IsDup reports whether item is a DUP_i instruction.
func IsDup(item AssemblyItem) bool { return item.Op == OpDup }

// IsSwap reports whether item is a SWAP_i instruction.
func IsSwap(item AssemblyItem) bool { return item.Op == OpSwap }

// AccessesStorage reports whether item reads or writes persistent storage.
func AccessesStorage(item AssemblyItem) bool {
	info, ok := lookup(item.Op)
	return ok && info.storage
}

// AccessesMemory reports whether item reads or writes the block's scratch
// memory.
func AccessesMemory(item AssemblyItem) bool {
	info, ok := lookup(item.Op)
	return ok && info.memory
}

// IsStore reports whether item is SSTORE or MSTORE.
func IsStore(item AssemblyItem) bool {
	info, ok := lookup(item.Op)
	return ok && info.isStore
}

// IsLoad reports whether item is SLOAD or MLOAD.
func IsLoad(item AssemblyItem) bool {
	info, ok := lookup(item.Op)
	return ok && info.isLoad
}

// IsPure reports whether item has no storage/memory/call side effect. An
// unclassified opcode is conservatively impure.
func IsPure(item AssemblyItem) bool {
	info, ok := lookup(item.Op)
	return ok && info.pure
}

// Arity returns (argsIn, argsOut) for item. For DUP_i/SWAP_i the arity
// depends on the immediate i and is computed by the caller (Eliminator),
// since it reaches below the top of stack; Arity returns (0,0) for those,
// which the Eliminator special-cases.
func Arity(item AssemblyItem) (int, int) {
	if item.Op == OpDup || item.Op == OpSwap || item.Op == OpPush || item.Op == OpTag || item.Op == OpPushTag {
		return 0, 0
	}
	info, ok := lookup(item.Op)
	if !ok {
		// UnknownOpcode: conservatively treated as arity-0 opaque barrier;
		// the Eliminator does not pop operands for it.
		return 0, 1
	}
	return info.argsIn, info.argsOut
}

// Known reports whether item has a SemanticInformation table entry.
func Known(item AssemblyItem) bool {
	_, ok := lookup(item.Op)
	return ok
}
