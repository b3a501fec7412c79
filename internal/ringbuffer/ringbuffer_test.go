package ringbuffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdameros/taskmaster-go/internal/ringbuffer"
)

func TestPushWithinCapacity(t *testing.T) {
	r := ringbuffer.New[string](3)
	r.Push("a")
	r.Push("b")

	require.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Items())
}

func TestPushDropsOldestOnOverflow(t *testing.T) {
	r := ringbuffer.New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	require.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
}

func TestClearEmptiesBuffer(t *testing.T) {
	r := ringbuffer.New[int](2)
	r.Push(1)
	r.Push(2)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())
}

func TestLenAfterNPushesIsMinNCapacity(t *testing.T) {
	const capacity = 25
	r := ringbuffer.New[int](capacity)

	for n := 0; n <= capacity*2; n++ {
		if n > 0 {
			r.Push(n)
		}
		want := n
		if want > capacity {
			want = capacity
		}
		require.Equal(t, want, r.Len())
	}
}

func TestZeroCapacityDiscardsEverything(t *testing.T) {
	r := ringbuffer.New[int](0)
	r.Push(1)
	r.Push(2)

	assert.Equal(t, 0, r.Len())
}
