package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	var s Set[string]
	assert.False(t, s.Contains("a"))
	assert.Equal(t, 0, s.Len())

	assert.True(t, s.Insert("a"))
	assert.False(t, s.Insert("a"), "second insert reports a duplicate")
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 1, s.Len())

	s2 := New(1, 2, 2, 3)
	assert.Equal(t, 3, s2.Len())
	assert.True(t, s2.Contains(2))
}
