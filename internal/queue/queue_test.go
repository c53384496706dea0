package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_New(t *testing.T) {
	q := New[int]()
	require.NotNil(t, q)
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PushPopOrder(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b", "c")

	require.Equal(t, 3, q.Len())
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.True(t, q.Empty())
}

func TestQueue_PopEmpty(t *testing.T) {
	q := New[int]()
	got, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, got)
}

func TestQueue_Drain(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)

	items := q.Drain()

	assert.Equal(t, []int{1, 2, 3}, items)
	assert.True(t, q.Empty())

	q.Push(4)
	assert.Equal(t, []int{1, 2, 3}, items, "drained slice is detached from the queue")
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Clear(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	q.Clear()
	assert.True(t, q.Empty())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}
