package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrCodeNodeExecution, "boom").WithNode("draft")
	assert.Equal(t, "[NODE_EXECUTION_ERROR] node draft: boom", err.Error())

	err = NewErrorf(ErrCodeNotFound, "run %s not found", "r1")
	assert.Equal(t, "[NOT_FOUND] run r1 not found", err.Error())
}

func TestError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save: %w", NewError(ErrCodeStore, "write failed").WithCause(cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStore, CodeOf(err))
	assert.True(t, HasCode(err, ErrCodeStore))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.False(t, HasCode(nil, ErrCodeStore))
}

func TestApprovalRequired(t *testing.T) {
	err := ApprovalRequired(map[string]any{"draft": "hello"})
	payload, ok := AsApprovalRequired(err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"draft": "hello"}, payload)

	wrapped := fmt.Errorf("node: %w", err)
	_, ok = AsApprovalRequired(wrapped)
	assert.True(t, ok)

	_, ok = AsApprovalRequired(errors.New("ordinary"))
	assert.False(t, ok)
}

func TestApprovalRequired_NilPayload(t *testing.T) {
	payload, ok := AsApprovalRequired(ApprovalRequired(nil))
	require.True(t, ok)
	assert.Equal(t, map[string]any{}, payload)
}
