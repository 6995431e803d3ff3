package zferr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAndCodeOf(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(IoError, "kvstore.Get", cause)
	require.Error(t, err)
	assert.Equal(t, IoError, CodeOf(err))
	assert.True(t, Is(err, IoError))
	assert.False(t, Is(err, NotFound))
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(IoError, "op", nil))
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, Unknown, CodeOf(errors.New("plain")))
	assert.Equal(t, Unknown, CodeOf(nil))
}

func TestErrorWrapsThroughFmtErrorf(t *testing.T) {
	base := New(NotFound, "fs.LookUpInode")
	wrapped := fmt.Errorf("readdir: %w", base)
	assert.Equal(t, NotFound, CodeOf(wrapped))
}

func TestInvariantPanics(t *testing.T) {
	assert.PanicsWithValue(t,
		"zerofs: invariant violated: bad entry 7",
		func() { Invariant("bad entry %d", 7) },
	)
}
