package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_AddContainsRemove(t *testing.T) {
	s := New("a", "b")
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("c"))
	assert.Equal(t, 2, s.Size())

	s.Add("c")
	assert.True(t, s.Contains("c"))

	s.Remove("a")
	assert.False(t, s.Contains("a"))
	assert.Equal(t, 2, s.Size())
}

func TestSet_Union(t *testing.T) {
	a := New(1, 2)
	b := New(2, 3)
	u := a.Union(b)
	assert.Equal(t, 3, u.Size())
	for _, v := range []int{1, 2, 3} {
		assert.True(t, u.Contains(v))
	}
}

func TestSet_ItemsRoundTrip(t *testing.T) {
	s := New("x", "y", "z")
	items := s.Items()
	assert.ElementsMatch(t, []string{"x", "y", "z"}, items)
}
