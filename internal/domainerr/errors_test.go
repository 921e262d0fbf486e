package domainerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = New(KindConflictState, "SAMPLE", "sample failure")

func TestDerivedErrorsMatchSentinel(t *testing.T) {
	derived := errSample.With(map[string]string{"id": "x"})
	wrapped := fmt.Errorf("outer: %w", errSample.Wrap(errors.New("cause")))

	assert.ErrorIs(t, derived, errSample)
	assert.ErrorIs(t, wrapped, errSample)
	assert.Equal(t, KindConflictState, KindOf(wrapped))
	assert.Nil(t, errSample.Details)
}

func TestKindOfUntypedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Retryable(errSample))
	assert.True(t, Retryable(New(KindBusy, "BUSY", "busy")))
}
