package evmasm

// Block is one basic block's worth of optimizer work: the feed phase runs
// against it, producing a populated ExpressionClasses plus final stack
// layout and store log (spec.md §4.5's "feed and schedule phases").
type Block struct {
	Items []AssemblyItem // the block's items, not including the boundary item

	eliminator *Eliminator
	fed        bool
}

// NewBlock wraps a slice of non-boundary items for one basic block.
func NewBlock(items []AssemblyItem) *Block {
	return &Block{Items: items}
}

// Feed runs the eliminator over the block's items exactly once; a call after
// a successful Feed returns nil without feeding the items again.
func (b *Block) Feed() error {
	if b.fed {
		return nil
	}
	b.eliminator = NewEliminator()
	for i, item := range b.Items {
		if err := b.eliminator.Feed(i, item); err != nil {
			return err
		}
	}
	b.fed = true
	return nil
}

// Eliminator returns the feed-phase state; valid only after Feed succeeds.
func (b *Block) Eliminator() *Eliminator { return b.eliminator }

// FeedItems is the top-level loop of spec.md §4.5 / §6: it consumes items
// until BreaksBasicBlock holds, splitting the full instruction stream at
// basic-block boundaries. For each block it returns the slice of
// non-boundary items and the boundary item that follows (a trailing run with
// no boundary gets HasBoundary=false and a zero Boundary).
func FeedItems(items []AssemblyItem) []Segment {
	var segments []Segment
	start := 0
	for i, item := range items {
		if BreaksBasicBlock(item) {
			segments = append(segments, Segment{Items: items[start:i], Boundary: item, HasBoundary: true})
			start = i + 1
		}
	}
	if start < len(items) {
		segments = append(segments, Segment{Items: items[start:], HasBoundary: false})
	}
	return segments
}

// Segment is one basic block's input items plus the boundary item that
// follows it (if any — the last segment of a stream may run off the end
// with no boundary).
type Segment struct {
	Items       []AssemblyItem
	Boundary    AssemblyItem
	HasBoundary bool
}

// OptimizeStream runs the full pipeline (spec.md §4.5) over a complete
// instruction stream: split into basic blocks, optimize each with a target
// stack equal to its own final layout (i.e. "keep whatever the block
// produced, just with no redundant computation or dead code below the
// final top"), and concatenate schedule_output + [boundary_item].
//
// Callers that need a specific target stack per block (e.g. because a
// downstream block only consumes some of the values this one leaves
// behind) should use Block/CSECodeGenerator directly instead; OptimizeStream
// is the default, whole-stream convenience path used by internal/codegen
// when no better target-stack information is available.
func OptimizeStream(items []AssemblyItem) ([]AssemblyItem, error) {
	var out []AssemblyItem
	for _, seg := range FeedItems(items) {
		b := NewBlock(seg.Items)
		if err := b.Feed(); err != nil {
			return nil, err
		}
		el := b.Eliminator()
		gen := NewCSECodeGenerator(el.Classes(), el.InitialStack(), el.FinalStack(), el.StoreLog())
		optimized, err := gen.Generate()
		if err != nil {
			return nil, err
		}
		out = append(out, optimized...)
		if seg.HasBoundary {
			out = append(out, seg.Boundary)
		}
	}
	return out, nil
}
