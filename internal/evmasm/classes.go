package evmasm

import (
	"math/big"
	"sort"
	"strings"
)

// Id is an opaque, totally-ordered handle into an ExpressionClasses arena.
// Two ids are equal iff the values they denote are provably equal under the
// algebraic rules below (hash-consing invariant, spec.md §3).
type Id int

// invalidHeight marks a class with no live copy on the current virtual
// stack (spec.md §9, "Every class whose id is c_invalid_position has no live
// copy on the stack" — named after original_source/libevmcore's
// c_invalid_position sentinel).
const invalidHeight = int(^uint(0) >> 1) // max int, used as a sentinel height

// wordMod is the VM's 256-bit modulus, used for constant folding (spec.md
// §4.2 "evaluate using the VM's 256-bit modular arithmetic semantics").
var wordMod = new(big.Int).Lsh(big.NewInt(1), 256)

// expr is the hash-consed tuple (opcode, operand ids) plus its canonical
// representative item. Operand order is significant for non-commutative
// ops; commutative ops store operands in ascending id order.
type expr struct {
	op        Opcode
	operands  []Id
	immediate *big.Int // non-nil only for Push-kind classes
	label     string    // non-empty only for PushTag-kind classes
	pure      bool      // true unless this class was stamped at an effectful sequence point
	seq       int       // sequence number this class was stamped at, for opaque/sload classes
}

func (e expr) key() string {
	var b strings.Builder
	b.WriteString(string(e.op))
	if e.immediate != nil {
		b.WriteByte('#')
		b.WriteString(e.immediate.String())
	}
	if e.label != "" {
		b.WriteByte('#')
		b.WriteString(e.label)
	}
	for _, o := range e.operands {
		b.WriteByte(',')
		b.WriteString(itoa(int(o)))
	}
	// seq deliberately excluded: two opaque reads at different sequence
	// numbers must NOT hash-cons together, so seq is folded into the key
	// via the op only when it is semantically part of identity (see
	// NewSequenced, which mixes seq and a fresh counter into op).
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ExpressionClasses is the union-find/hash-cons structure mapping
// (opcode, ordered operand class ids) to a canonical class id. Created empty
// at block start, grown monotonically during the feed phase, consumed
// read-only (plus on-demand placeholder creation) during code generation,
// and discarded at block end (spec.md §3 Lifecycle).
type ExpressionClasses struct {
	exprs []expr
	byKey map[string]Id
	items []AssemblyItem // representative item per class, parallel to exprs
}

// NewExpressionClasses returns an empty arena.
func NewExpressionClasses() *ExpressionClasses {
	return &ExpressionClasses{byKey: make(map[string]Id)}
}

// Len reports how many classes have been created.
func (c *ExpressionClasses) Len() int { return len(c.exprs) }

// Representative returns the canonical AssemblyItem for id.
func (c *ExpressionClasses) Representative(id Id) AssemblyItem { return c.items[id] }

// Operands returns the operand ids of id's expression, empty for leaves
// (Push, initial-stack placeholders, opaque barriers).
func (c *ExpressionClasses) Operands(id Id) []Id { return c.exprs[id].operands }

// Opcode returns the opcode id's expression was built from.
func (c *ExpressionClasses) Opcode(id Id) Opcode { return c.exprs[id].op }

// isPlaceholder reports whether id was allocated by NewPlaceholder.
func (c *ExpressionClasses) isPlaceholder(id Id) bool {
	return strings.HasPrefix(string(c.exprs[id].op), "placeholder:")
}

// IsPure reports whether id denotes a class free of any effectful-sequence
// stamp. Used to gate the EQ(x,x)→1 rule to provably-pure operands only,
// per spec.md §9's resolved Open Question.
func (c *ExpressionClasses) IsPure(id Id) bool { return c.exprs[id].pure }

func (c *ExpressionClasses) alloc(e expr, item AssemblyItem) Id {
	key := e.key()
	if id, ok := c.byKey[key]; ok {
		return id
	}
	id := Id(len(c.exprs))
	c.exprs = append(c.exprs, e)
	c.items = append(c.items, item)
	c.byKey[key] = id
	return id
}

// NewPush returns (creating if absent) the class for a literal value.
func (c *ExpressionClasses) NewPush(v *big.Int) Id {
	v = mod256(v)
	e := expr{op: OpPush, immediate: v, pure: true}
	return c.alloc(e, Push(v))
}

// NewPlaceholder returns a fresh class representing "whatever the caller
// has there" for a negative stack height, or an unclassified opaque value.
// Each call allocates a new class: placeholders are never equal to one
// another or to anything else (spec.md glossary, "Initial-stack
// placeholder").
func (c *ExpressionClasses) NewPlaceholder(tag string) Id {
	e := expr{op: Opcode("placeholder:" + tag + ":" + itoa(len(c.exprs))), pure: true}
	return c.alloc(e, AssemblyItem{Op: e.op})
}

// NewSequenced returns a fresh, never-hash-consed class stamped with seq,
// used for opaque impure results (CALL-family) and for SLOAD results not
// already known from storage_content. Sequence-stamped classes are only
// equal to themselves (each call allocates fresh), which is what prevents
// CSE across an effectful boundary (spec.md §4.3, scenario 5 in §8).
func (c *ExpressionClasses) NewSequenced(op Opcode, operands []Id, seq int, rep AssemblyItem) Id {
	e := expr{op: Opcode(string(op) + "@" + itoa(seq) + "#" + itoa(len(c.exprs))), operands: operands, seq: seq, pure: false}
	return c.alloc(e, rep)
}

// FindOrCreate implements spec.md §4.2's find_or_create: sorts commutative
// operands, applies algebraic simplification to a fixed point, folds
// constants, and hash-conses the (possibly rewritten) result.
func (c *ExpressionClasses) FindOrCreate(op Opcode, operands []Id, rep AssemblyItem) Id {
	ops := append([]Id(nil), operands...)
	if isCommutativeOp(op) {
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	}

	if simplified, ok := c.simplify(op, ops); ok {
		return simplified
	}

	e := expr{op: op, operands: ops, pure: true}
	return c.alloc(e, rep)
}

func isCommutativeOp(op Opcode) bool {
	info, ok := opTable[op]
	return ok && info.commutative
}

// isZeroClass reports whether id denotes the literal 0.
func (c *ExpressionClasses) isZeroClass(id Id) bool {
	e := c.exprs[id]
	return e.op == OpPush && e.immediate.Sign() == 0
}

// isOneClass reports whether id denotes the literal 1.
func (c *ExpressionClasses) isOneClass(id Id) bool {
	e := c.exprs[id]
	return e.op == OpPush && e.immediate.Cmp(big.NewInt(1)) == 0
}

// isAllOnesClass reports whether id denotes the all-ones bit pattern.
func (c *ExpressionClasses) isAllOnesClass(id Id) bool {
	e := c.exprs[id]
	allOnes := new(big.Int).Sub(wordMod, big.NewInt(1))
	return e.op == OpPush && e.immediate.Cmp(allOnes) == 0
}

// simplify applies the algebraic rules of spec.md §4.2. It returns
// (id, true) if a rewrite or constant fold fully resolved the expression to
// an existing or newly-created simpler class, or (0, false) if the caller
// should hash-cons (op, operands) as-is.
func (c *ExpressionClasses) simplify(op Opcode, ops []Id) (Id, bool) {
	// Constant folding: if every operand is a Push class, evaluate with
	// 256-bit modular arithmetic and return the class of the result.
	if allConst, vals := c.allPush(ops); allConst {
		if v, ok := evalConst(op, vals); ok {
			return c.NewPush(v), true
		}
	}

	switch op {
	case OpAdd:
		if c.isZeroClass(ops[0]) {
			return ops[1], true
		}
		if c.isZeroClass(ops[1]) {
			return ops[0], true
		}
	case OpMul:
		if c.isOneClass(ops[0]) {
			return ops[1], true
		}
		if c.isOneClass(ops[1]) {
			return ops[0], true
		}
		if c.isZeroClass(ops[0]) || c.isZeroClass(ops[1]) {
			return c.NewPush(big.NewInt(0)), true
		}
	case OpAnd:
		if c.isAllOnesClass(ops[0]) {
			return ops[1], true
		}
		if c.isAllOnesClass(ops[1]) {
			return ops[0], true
		}
		if c.isZeroClass(ops[0]) || c.isZeroClass(ops[1]) {
			return c.NewPush(big.NewInt(0)), true
		}
		if ops[0] == ops[1] {
			return ops[0], true
		}
	case OpOr:
		if c.isZeroClass(ops[0]) {
			return ops[1], true
		}
		if c.isZeroClass(ops[1]) {
			return ops[0], true
		}
		if ops[0] == ops[1] {
			return ops[0], true
		}
	case OpXor:
		if c.isZeroClass(ops[0]) {
			return ops[1], true
		}
		if c.isZeroClass(ops[1]) {
			return ops[0], true
		}
		if ops[0] == ops[1] {
			return c.NewPush(big.NewInt(0)), true
		}
	case OpSub:
		if c.isZeroClass(ops[1]) {
			return ops[0], true
		}
		if ops[0] == ops[1] {
			return c.NewPush(big.NewInt(0)), true
		}
	case OpEq:
		// Safe only when the shared operand is provably pure (spec.md §9
		// Open Question, resolved: a sequence-stamped class might
		// legitimately differ from itself across an intervening store).
		if ops[0] == ops[1] && c.exprs[ops[0]].pure {
			return c.NewPush(big.NewInt(1)), true
		}
	}
	return 0, false
}

func (c *ExpressionClasses) allPush(ops []Id) (bool, []*big.Int) {
	vals := make([]*big.Int, len(ops))
	for i, id := range ops {
		e := c.exprs[id]
		if e.op != OpPush {
			return false, nil
		}
		vals[i] = e.immediate
	}
	return true, vals
}

// evalConst evaluates op over fully-constant operands using 256-bit modular
// arithmetic, per spec.md §4.2.
func evalConst(op Opcode, vals []*big.Int) (*big.Int, bool) {
	switch op {
	case OpAdd:
		return mod256(new(big.Int).Add(vals[0], vals[1])), true
	case OpMul:
		return mod256(new(big.Int).Mul(vals[0], vals[1])), true
	case OpSub:
		return mod256(new(big.Int).Sub(vals[0], vals[1])), true
	case OpDiv:
		if vals[1].Sign() == 0 {
			return big.NewInt(0), true
		}
		return mod256(new(big.Int).Div(vals[0], vals[1])), true
	case OpMod:
		if vals[1].Sign() == 0 {
			return big.NewInt(0), true
		}
		return mod256(new(big.Int).Mod(vals[0], vals[1])), true
	case OpExp:
		return mod256(new(big.Int).Exp(vals[0], vals[1], wordMod)), true
	case OpLt:
		return boolVal(vals[0].Cmp(vals[1]) < 0), true
	case OpGt:
		return boolVal(vals[0].Cmp(vals[1]) > 0), true
	case OpEq:
		return boolVal(vals[0].Cmp(vals[1]) == 0), true
	case OpIsZero:
		return boolVal(vals[0].Sign() == 0), true
	case OpAnd:
		return mod256(new(big.Int).And(vals[0], vals[1])), true
	case OpOr:
		return mod256(new(big.Int).Or(vals[0], vals[1])), true
	case OpXor:
		return mod256(new(big.Int).Xor(vals[0], vals[1])), true
	case OpNot:
		return mod256(new(big.Int).Not(vals[0])), true
	default:
		return nil, false
	}
}

func boolVal(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

func mod256(v *big.Int) *big.Int {
	r := new(big.Int).Mod(v, wordMod)
	if r.Sign() < 0 {
		r.Add(r, wordMod)
	}
	return r
}
