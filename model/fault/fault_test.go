package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := New(NotFound, "task %s not found", "t-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, "failed to save task")

	assert.True(t, errors.Is(err, ErrInternal))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk full")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, AmountMismatch, KindOf(New(AmountMismatch, "mismatch")))
	assert.Equal(t, Internal, KindOf(fmt.Errorf("plain error")))

	wrapped := fmt.Errorf("context: %w", New(ResourceBusy, "busy"))
	assert.Equal(t, ResourceBusy, KindOf(wrapped))
}
