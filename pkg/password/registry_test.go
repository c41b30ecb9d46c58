package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("block-1", "s3cr3t")

	got, ok := r.Lookup("block-1")
	assert.True(t, ok)
	assert.Equal(t, "s3cr3t", got)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	r := New()
	r.Register("block-1", "s3cr3t")
	r.Forget("block-1")
	_, ok := r.Lookup("block-1")
	assert.False(t, ok)
}

func TestShutdownWipesAll(t *testing.T) {
	r := New()
	r.Register("block-1", "a")
	r.Register("block-2", "b")
	r.Shutdown()
	assert.Equal(t, 0, r.Len())
}
