package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"kanso/internal/evmasm"
)

func TestFromOptimizerErrorUnderflow(t *testing.T) {
	optErr := &evmasm.OptError{Kind: evmasm.StackUnderflow}

	err := FromOptimizerError("transfer", "entry", optErr)

	assert.Equal(t, ErrorOptimizerUnderflow, err.Code)
	assert.Contains(t, err.Message, "transfer")
	assert.Contains(t, err.Message, "entry")
}

func TestFromOptimizerErrorInvariant(t *testing.T) {
	optErr := &evmasm.OptError{Kind: evmasm.InternalInvariantViolation}

	err := FromOptimizerError("transfer", "entry", optErr)

	assert.Equal(t, ErrorOptimizerInvariant, err.Code)
}

func TestFromOptimizerErrorNonOptErrorDefaultsToInvariant(t *testing.T) {
	err := FromOptimizerError("transfer", "entry", stderrors.New("some other failure"))

	assert.Equal(t, ErrorOptimizerInvariant, err.Code)
	assert.Contains(t, err.Message, "some other failure")
}
