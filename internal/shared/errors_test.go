package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorAggregates(t *testing.T) {
	verr := NewValidationError()
	require.True(t, verr.Empty())
	verr.Add("first")
	verr.Add("second")
	assert.Equal(t, "first; second", verr.Error())

	wrapped := fmt.Errorf("sales: %w", verr)
	require.ErrorIs(t, wrapped, ErrValidation)
	var target *ValidationError
	require.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Problems, 2)
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("accept: %w", &ConflictError{Resource: "sale 7"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "sale 7")
	require.ErrorIs(t, ErrIdempotencyConflict, ErrConflict)
}
