package evmasm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindOrCreateHashConsing(t *testing.T) {
	c := NewExpressionClasses()
	a := c.NewPlaceholder("a")
	b := c.NewPlaceholder("b")

	id1 := c.FindOrCreate(OpAdd, []Id{a, b}, Op(OpAdd))
	id2 := c.FindOrCreate(OpAdd, []Id{a, b}, Op(OpAdd))
	assert.Equal(t, id1, id2, "identical ADD(a,b) must hash-cons to the same class")
}

func TestFindOrCreateCommutativeNormalization(t *testing.T) {
	c := NewExpressionClasses()
	a := c.NewPlaceholder("a")
	b := c.NewPlaceholder("b")

	forward := c.FindOrCreate(OpAdd, []Id{a, b}, Op(OpAdd))
	backward := c.FindOrCreate(OpAdd, []Id{b, a}, Op(OpAdd))
	assert.Equal(t, forward, backward, "ADD(a,b) and ADD(b,a) must be the same class")

	subForward := c.FindOrCreate(OpSub, []Id{a, b}, Op(OpSub))
	subBackward := c.FindOrCreate(OpSub, []Id{b, a}, Op(OpSub))
	assert.NotEqual(t, subForward, subBackward, "SUB is not commutative")
}

func TestFindOrCreateConstantFolding(t *testing.T) {
	c := NewExpressionClasses()
	two := c.NewPush(big.NewInt(2))
	three := c.NewPush(big.NewInt(3))

	sum := c.FindOrCreate(OpAdd, []Id{two, three}, Op(OpAdd))
	five := c.NewPush(big.NewInt(5))
	assert.Equal(t, five, sum, "ADD(2,3) must constant-fold to the class for 5")
}

func TestFindOrCreateConstantFoldingWraps(t *testing.T) {
	c := NewExpressionClasses()
	maxWord := new(big.Int).Sub(wordMod, big.NewInt(1))
	a := c.NewPush(maxWord)
	one := c.NewPush(big.NewInt(1))

	sum := c.FindOrCreate(OpAdd, []Id{a, one}, Op(OpAdd))
	zero := c.NewPush(big.NewInt(0))
	assert.Equal(t, zero, sum, "ADD must wrap modulo 2^256")
}

func TestSimplifyIdentities(t *testing.T) {
	c := NewExpressionClasses()
	x := c.NewPlaceholder("x")
	zero := c.NewPush(big.NewInt(0))
	one := c.NewPush(big.NewInt(1))

	assert.Equal(t, x, c.FindOrCreate(OpAdd, []Id{x, zero}, Op(OpAdd)), "x+0 == x")
	assert.Equal(t, x, c.FindOrCreate(OpAdd, []Id{zero, x}, Op(OpAdd)), "0+x == x")
	assert.Equal(t, x, c.FindOrCreate(OpMul, []Id{x, one}, Op(OpMul)), "x*1 == x")
	assert.Equal(t, zero, c.FindOrCreate(OpMul, []Id{x, zero}, Op(OpMul)), "x*0 == 0")

	allOnes := new(big.Int).Sub(wordMod, big.NewInt(1))
	mask := c.NewPush(allOnes)
	assert.Equal(t, x, c.FindOrCreate(OpAnd, []Id{x, mask}, Op(OpAnd)), "x&0xFF..FF == x")

	assert.Equal(t, x, c.FindOrCreate(OpOr, []Id{x, x}, Op(OpOr)), "x|x == x")
	assert.Equal(t, x, c.FindOrCreate(OpAnd, []Id{x, x}, Op(OpAnd)), "x&x == x")
	assert.Equal(t, zero, c.FindOrCreate(OpXor, []Id{x, x}, Op(OpXor)), "x^x == 0")
	assert.Equal(t, zero, c.FindOrCreate(OpSub, []Id{x, x}, Op(OpSub)), "x-x == 0")
}

func TestSimplifyEqSelfRequiresPurity(t *testing.T) {
	c := NewExpressionClasses()
	x := c.NewPlaceholder("x")
	one := c.NewPush(big.NewInt(1))

	eqPure := c.FindOrCreate(OpEq, []Id{x, x}, Op(OpEq))
	assert.Equal(t, one, eqPure, "EQ(x,x) folds to 1 when x is pure")

	impure := c.NewSequenced(OpSload, []Id{x}, 1, Op(OpSload))
	eqImpure := c.FindOrCreate(OpEq, []Id{impure, impure}, Op(OpEq))
	assert.NotEqual(t, one, eqImpure, "EQ(x,x) must not fold when x is a sequence-stamped class")
	assert.Equal(t, OpEq, c.Opcode(eqImpure), "the unfolded EQ is hash-consed as a real class")
}

func TestNewPlaceholderNeverEqual(t *testing.T) {
	c := NewExpressionClasses()
	a := c.NewPlaceholder("x")
	b := c.NewPlaceholder("x")
	assert.NotEqual(t, a, b, "two placeholders are never equal even with the same tag")
}

func TestNewSequencedNeverHashCons(t *testing.T) {
	c := NewExpressionClasses()
	slot := c.NewPush(big.NewInt(7))
	a := c.NewSequenced(OpSload, []Id{slot}, 1, Op(OpSload))
	b := c.NewSequenced(OpSload, []Id{slot}, 1, Op(OpSload))
	assert.NotEqual(t, a, b, "two NewSequenced calls never hash-cons, even with identical arguments")
}
