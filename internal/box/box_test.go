package box

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntersect covers the axis-wise overlap rule, including empty and
// rank-mismatched inputs.
func TestIntersect(t *testing.T) {
	t.Run("one dimension", func(t *testing.T) {
		got, ok := Intersect(New(Dims{0}, Dims{5}), New(Dims{3}, Dims{4}))
		require.True(t, ok)
		assert.Equal(t, New(Dims{3}, Dims{2}), got)
	})

	t.Run("two dimensions", func(t *testing.T) {
		a := New(Dims{0, 4}, Dims{10, 4})
		b := New(Dims{6, 2}, Dims{8, 3})
		got, ok := Intersect(a, b)
		require.True(t, ok)
		assert.Equal(t, New(Dims{6, 4}, Dims{4, 1}), got)
	})

	t.Run("touching boxes do not overlap", func(t *testing.T) {
		_, ok := Intersect(New(Dims{0}, Dims{5}), New(Dims{5}, Dims{5}))
		assert.False(t, ok)
	})

	t.Run("zero count is empty", func(t *testing.T) {
		_, ok := Intersect(New(Dims{0, 0}, Dims{4, 0}), Of(4, 4))
		assert.False(t, ok)
	})

	t.Run("rank mismatch is empty", func(t *testing.T) {
		_, ok := Intersect(Of(4), Of(4, 4))
		assert.False(t, ok)
	})

	t.Run("scalar boxes intersect", func(t *testing.T) {
		got, ok := Intersect(Box{}, Box{})
		require.True(t, ok)
		assert.Equal(t, uint64(1), got.Volume())
	})
}

// TestIntersectProperties checks commutativity and idempotence over a
// small exhaustive family of 2-D boxes.
func TestIntersectProperties(t *testing.T) {
	var boxes []Box
	for s0 := uint64(0); s0 < 4; s0++ {
		for c0 := uint64(1); c0 < 4; c0++ {
			for s1 := uint64(0); s1 < 3; s1++ {
				boxes = append(boxes, New(Dims{s0, s1}, Dims{c0, 2}))
			}
		}
	}
	for _, a := range boxes {
		self, ok := Intersect(a, a)
		require.True(t, ok)
		assert.True(t, self.Equal(a), "Intersect(%v, %v) = %v", a, a, self)

		for _, b := range boxes {
			ab, okAB := Intersect(a, b)
			ba, okBA := Intersect(b, a)
			assert.Equal(t, okAB, okBA)
			if okAB {
				assert.True(t, ab.Equal(ba), "%v vs %v", ab, ba)
				assert.True(t, a.Contains(ab))
				assert.True(t, b.Contains(ab))
			}
		}
	}
}

func TestBoxHelpers(t *testing.T) {
	b := New(Dims{1, 2, 3}, Dims{4, 5, 6})
	assert.Equal(t, 3, b.Rank())
	assert.Equal(t, uint64(120), b.Volume())
	assert.Equal(t, Dims{5, 7, 9}, b.End())
	assert.Equal(t, New(Dims{3, 2, 1}, Dims{6, 5, 4}), b.Reverse())
	assert.Equal(t, "[1+4, 2+5, 3+6]", b.String())
	assert.False(t, b.Empty())
	assert.True(t, Of(3, 0).Empty())

	// Reverse never aliases the receiver.
	r := b.Reverse()
	r.Start[0] = 99
	assert.Equal(t, uint64(1), b.Start[0])
}

func TestMajorOrderString(t *testing.T) {
	assert.Equal(t, "row-major", RowMajor.String())
	assert.Equal(t, "column-major", ColumnMajor.String())
}
