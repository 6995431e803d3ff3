package failpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReachedNoopByDefault(t *testing.T) {
	assert.NoError(t, Reached(WriteAfterChunk))
}

func TestSetAndReached(t *testing.T) {
	Enable()
	defer Disable()

	boom := errors.New("simulated crash")
	Set(CreateAfterInode, func(name string) error {
		assert.Equal(t, CreateAfterInode, name)
		return boom
	})
	defer Set(CreateAfterInode, nil)

	assert.ErrorIs(t, Reached(CreateAfterInode), boom)
	assert.NoError(t, Reached(CreateAfterDirEntry))
}

func TestDisableClearsHooks(t *testing.T) {
	Enable()
	Set(MkdirAfterInode, func(string) error { return errors.New("x") })
	Disable()
	assert.NoError(t, Reached(MkdirAfterInode))
}
