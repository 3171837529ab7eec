package evmasm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func optimize(t *testing.T, items []AssemblyItem) []AssemblyItem {
	t.Helper()
	out, err := OptimizeStream(items)
	assert.NoError(t, err)
	return out
}

func countOp(items []AssemblyItem, op Opcode) int {
	n := 0
	for _, it := range items {
		if it.Op == op {
			n++
		}
	}
	return n
}

func TestOptimizeStreamEliminatesRedundantArithmetic(t *testing.T) {
	// PUSH 1 PUSH 2 ADD PUSH 1 PUSH 2 ADD: both ADDs are the same class, which
	// constant-folds to 3, so the block becomes PUSH 3 DUP1 with no ADD left.
	out := optimize(t, []AssemblyItem{
		PushInt(1), PushInt(2), Op(OpAdd),
		PushInt(1), PushInt(2), Op(OpAdd),
	})
	assert.Equal(t, 0, countOp(out, OpAdd), "no ADD should survive constant folding")
	assert.Len(t, out, 2, "the folded sum is pushed once and then duplicated")
	assert.Equal(t, 0, out[0].Imm.Cmp(big.NewInt(3)), "the folded constant must be 3")
	assert.Equal(t, OpDup, out[1].Op, "the second copy is a DUP of the first")
}

func TestOptimizeStreamConstantFoldsArithmeticChain(t *testing.T) {
	out := optimize(t, []AssemblyItem{
		PushInt(2), PushInt(3), Op(OpAdd), // 5
		PushInt(4), Op(OpMul), // 20
	})
	assert.Equal(t, 0, countOp(out, OpAdd), "ADD folds away entirely")
	assert.Equal(t, 0, countOp(out, OpMul), "MUL folds away entirely")
	assert.Len(t, out, 1, "a fully-constant computation reduces to one PUSH")
	assert.Equal(t, 0, out[0].Imm.Cmp(big.NewInt(20)), "the folded constant must be 20")
}

func TestOptimizeStreamSelfXorCancels(t *testing.T) {
	out := optimize(t, []AssemblyItem{
		PushInt(9), Dup(1), Op(OpXor),
	})
	assert.Len(t, out, 1)
	assert.Equal(t, OpPush, out[0].Op)
	assert.Equal(t, 0, out[0].Imm.Cmp(big.NewInt(0)), "x^x must fold to 0")
}

func TestOptimizeStreamSelfSubtractionCancels(t *testing.T) {
	out := optimize(t, []AssemblyItem{
		PushInt(9), Dup(1), Op(OpSub),
	})
	assert.Len(t, out, 1)
	assert.Equal(t, OpPush, out[0].Op)
	assert.Equal(t, 0, out[0].Imm.Cmp(big.NewInt(0)), "x-x must fold to 0")
}

func TestOptimizeStreamStorageAliasingPreservesBothStores(t *testing.T) {
	out := optimize(t, []AssemblyItem{
		PushInt(1), PushInt(100), Op(OpSstore),
		PushInt(2), PushInt(200), Op(OpSstore),
	})
	assert.Equal(t, 2, countOp(out, OpSstore), "both stores to distinct slots must survive, in order")
}

func TestOptimizeStreamPreservesBoundaryItems(t *testing.T) {
	out := optimize(t, []AssemblyItem{
		PushInt(1), PushInt(2), Op(OpAdd),
		Op(OpJump),
		PushInt(3),
	})
	assert.Equal(t, 1, countOp(out, OpJump), "the block-breaking JUMP must survive unchanged")

	jumpIdx := -1
	for i, it := range out {
		if it.Op == OpJump {
			jumpIdx = i
			break
		}
	}
	assert.NotEqual(t, -1, jumpIdx, "JUMP must appear in the output")
	assert.Less(t, jumpIdx, len(out)-1, "items after the boundary (PUSH 3) must follow it")
	assert.Equal(t, OpPush, out[len(out)-1].Op)
}

func TestFeedItemsSplitsOnBoundaries(t *testing.T) {
	segments := FeedItems([]AssemblyItem{
		PushInt(1),
		Op(OpJump),
		PushInt(2),
		Op(OpStop),
	})
	assert.Len(t, segments, 2)
	assert.True(t, segments[0].HasBoundary)
	assert.Equal(t, OpJump, segments[0].Boundary.Op)
	assert.Len(t, segments[0].Items, 1)
	assert.True(t, segments[1].HasBoundary)
	assert.Equal(t, OpStop, segments[1].Boundary.Op)
	assert.Len(t, segments[1].Items, 1)
}

func TestFeedItemsTrailingSegmentHasNoBoundary(t *testing.T) {
	segments := FeedItems([]AssemblyItem{
		Op(OpJumpDest),
		PushInt(1),
	})
	assert.Len(t, segments, 2)
	assert.False(t, segments[1].HasBoundary)
	assert.Len(t, segments[1].Items, 1)
}
