package evmasm

// StoreLogEntry records one SSTORE/MSTORE in sequence order (spec.md §3,
// glossary "Store operation").
type StoreLogEntry struct {
	Kind  Opcode // OpSstore or OpMstore
	Slot  Id
	Seq   int
	Value Id
}

// Eliminator is the streaming front end of spec.md §4.3. It walks a basic
// block, maintaining a virtual stack of class ids, a storage map, a memory
// map, and a sequence number, and populates an ExpressionClasses arena as it
// goes.
type Eliminator struct {
	classes *ExpressionClasses

	stackHeight int // signed, 0 = top at block entry
	stack       map[int]Id

	seq int // sequence_number, starts at 1

	storageContent map[Id]Id
	memoryContent  map[Id]Id
	storeLog       []StoreLogEntry

	initialStack map[int]Id // negative-height placeholders created on demand, for InitialStack()

	offset int // index of the item currently being processed, for error context
}

// NewEliminator returns a feed-phase front end over a fresh class arena.
func NewEliminator() *Eliminator {
	return &Eliminator{
		classes:        NewExpressionClasses(),
		stack:          make(map[int]Id),
		seq:            1,
		storageContent: make(map[Id]Id),
		memoryContent:  make(map[Id]Id),
		initialStack:   make(map[int]Id),
	}
}

// Classes returns the arena populated so far.
func (el *Eliminator) Classes() *ExpressionClasses { return el.classes }

// StoreLog returns the ordered log of effectful store operations.
func (el *Eliminator) StoreLog() []StoreLogEntry { return el.storeLog }

// StackHeight returns the current virtual stack height.
func (el *Eliminator) StackHeight() int { return el.stackHeight }

// InitialStack returns the initial-stack placeholder classes created on
// demand for heights referenced below the block's entry top, keyed by their
// (non-positive) height.
func (el *Eliminator) InitialStack() map[int]Id {
	out := make(map[int]Id, len(el.initialStack))
	for h, id := range el.initialStack {
		out[h] = id
	}
	return out
}

// FinalStack returns the final stack layout as class ids per height, from
// the lowest referenced height through the current top.
func (el *Eliminator) FinalStack() map[int]Id {
	out := make(map[int]Id, len(el.stack))
	for h, id := range el.stack {
		out[h] = id
	}
	return out
}

// classAt returns the class at height h, creating an initial-stack
// placeholder on demand if h has not been referenced yet (spec.md §3
// "Virtual stack").
func (el *Eliminator) classAt(h int) Id {
	if id, ok := el.stack[h]; ok {
		return id
	}
	if id, ok := el.initialStack[h]; ok {
		el.stack[h] = id
		return id
	}
	id := el.classes.NewPlaceholder("init")
	el.initialStack[h] = id
	el.stack[h] = id
	return id
}

func (el *Eliminator) pop() Id {
	id := el.classAt(el.stackHeight)
	delete(el.stack, el.stackHeight)
	el.stackHeight--
	return id
}

func (el *Eliminator) push(id Id) {
	el.stackHeight++
	el.stack[el.stackHeight] = id
}

// Feed processes one non-boundary item. The caller (FeedItems) is
// responsible for stopping before any item for which BreaksBasicBlock holds.
func (el *Eliminator) Feed(offset int, item AssemblyItem) error {
	el.offset = offset

	switch {
	case item.Op == OpDup:
		i := int(item.Imm.Int64())
		if i < 1 {
			return newUnderflow(offset, item, i)
		}
		id := el.classAt(el.stackHeight - i + 1)
		el.push(id)
		return nil

	case item.Op == OpSwap:
		i := int(item.Imm.Int64())
		if i < 1 {
			return newUnderflow(offset, item, i)
		}
		top := el.classAt(el.stackHeight)
		below := el.classAt(el.stackHeight - i)
		el.stack[el.stackHeight] = below
		el.stack[el.stackHeight-i] = top
		return nil

	case item.Op == OpPop:
		el.pop()
		return nil

	case item.Op == OpPush:
		id := el.classes.NewPush(item.Imm)
		el.push(id)
		return nil

	case item.Op == OpSload:
		slot := el.pop()
		if val, ok := el.storageContent[slot]; ok {
			el.push(val)
			return nil
		}
		val := el.classes.NewSequenced(OpSload, []Id{slot}, el.seq, item)
		el.storageContent[slot] = val
		el.push(val)
		return nil

	case item.Op == OpSstore:
		slot := el.classAt(el.stackHeight)
		value := el.classAt(el.stackHeight - 1)
		el.pop()
		el.pop()
		el.seq++
		// Exact-address aliasing model: invalidate every known binding that
		// isn't provably the same slot (only syntactic class-id equality
		// counts), then record the new one.
		for s := range el.storageContent {
			if s != slot {
				delete(el.storageContent, s)
			}
		}
		el.storageContent[slot] = value
		el.storeLog = append(el.storeLog, StoreLogEntry{Kind: OpSstore, Slot: slot, Seq: el.seq, Value: value})
		return nil

	case item.Op == OpMload:
		addr := el.pop()
		if val, ok := el.memoryContent[addr]; ok {
			el.push(val)
			return nil
		}
		val := el.classes.NewSequenced(OpMload, []Id{addr}, el.seq, item)
		el.memoryContent[addr] = val
		el.push(val)
		return nil

	case item.Op == OpMstore:
		addr := el.classAt(el.stackHeight)
		value := el.classAt(el.stackHeight - 1)
		el.pop()
		el.pop()
		el.seq++
		for a := range el.memoryContent {
			if a != addr {
				delete(el.memoryContent, a)
			}
		}
		el.memoryContent[addr] = value
		el.storeLog = append(el.storeLog, StoreLogEntry{Kind: OpMstore, Slot: addr, Seq: el.seq, Value: value})
		return nil
	}

	argsIn, argsOut := Arity(item)

	if !Known(item) {
		// UnknownOpcode: no error, treated as an opaque impure barrier that
		// invalidates storage/memory and bumps the sequence (spec.md §7).
		el.seq++
		el.storageContent = make(map[Id]Id)
		el.memoryContent = make(map[Id]Id)
		id := el.classes.NewSequenced(item.Op, nil, el.seq, item)
		el.push(id)
		return nil
	}

	if IsPure(item) {
		operands := make([]Id, argsIn)
		for i := 0; i < argsIn; i++ {
			operands[argsIn-1-i] = el.pop()
		}
		if argsOut == 1 {
			id := el.classes.FindOrCreate(item.Op, operands, item)
			el.push(id)
		}
		return nil
	}

	// Impure opcode (CALL-family, LOG-family, BALANCE, ...): bump sequence,
	// invalidate storage and memory wholesale, produce an opaque class
	// stamped with the current sequence number so it cannot be CSE'd across
	// this effectful boundary.
	operands := make([]Id, argsIn)
	for i := 0; i < argsIn; i++ {
		operands[argsIn-1-i] = el.pop()
	}
	el.seq++
	el.storageContent = make(map[Id]Id)
	el.memoryContent = make(map[Id]Id)
	if argsOut == 1 {
		id := el.classes.NewSequenced(item.Op, operands, el.seq, item)
		el.push(id)
	}
	return nil
}

