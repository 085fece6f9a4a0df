package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithDetailKeepsIdentity(t *testing.T) {
	err := ErrBusy.WithDetail("callee busy")
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Contains(t, err.Error(), "callee busy")
	// 原值不被污染
	assert.Empty(t, ErrBusy.Detail)

	err2 := err.WithDetail("second")
	assert.Contains(t, err2.Error(), "callee busy, second")
}

func TestCodeExtraction(t *testing.T) {
	assert.Equal(t, 1001, Code(ErrNotAMember))
	assert.Equal(t, 2003, Code(ErrStaleSignaling.WithDetail("late answer")))
	assert.Equal(t, 0, Code(fmt.Errorf("plain")))
	assert.Equal(t, 0, Code(nil))
}

func TestWrapPreservesCode(t *testing.T) {
	wrapped := ErrPersistenceFailure.Wrap()
	assert.True(t, errors.Is(wrapped, ErrPersistenceFailure))
	assert.Equal(t, 3001, Code(wrapped))

	msgWrapped := WrapMsg(ErrCalleeUnreachable, "initiate call")
	assert.True(t, errors.Is(msgWrapped, ErrCalleeUnreachable))
	assert.Contains(t, msgWrapped.Error(), "initiate call")

	assert.NoError(t, Wrap(nil))
	assert.NoError(t, WrapMsg(nil, "x"))
}
