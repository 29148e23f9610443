package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelWrapping(t *testing.T) {
	err := Wrapf(ErrJobNotFound, "load job %d", 42)
	assert.True(t, Is(err, ErrJobNotFound))
	assert.Contains(t, err.Error(), "load job 42")
	assert.Contains(t, err.Error(), "job not found")
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(New("something else")))
	assert.True(t, IsNotFound(Wrap(ErrJobNotFound, "context")))
}

func TestSentinelsDistinct(t *testing.T) {
	assert.False(t, Is(ErrExecutionTimeout, ErrNonZeroExit))
	assert.False(t, Is(ErrScriptNotFound, ErrSpawnFailure))
}
