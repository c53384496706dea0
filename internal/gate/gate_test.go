package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_QueuesUntilOpen(t *testing.T) {
	g := New()
	var ran []int

	for i := 0; i < 5; i++ {
		g.Run(func() { ran = append(ran, i) })
	}

	assert.Empty(t, ran, "nothing runs before the gate opens")
	assert.Equal(t, 5, g.Pending())
	assert.Equal(t, NotReady, g.State())

	g.Open()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, ran)
	assert.Equal(t, 0, g.Pending())
	assert.Equal(t, Ready, g.State())
}

func TestGate_RunsImmediatelyAfterOpen(t *testing.T) {
	g := New()
	g.Open()

	ran := false
	g.Run(func() { ran = true })

	assert.True(t, ran)
	assert.Equal(t, 0, g.Pending())
}

func TestGate_OpenIsOnce(t *testing.T) {
	g := New()
	count := 0
	g.Run(func() { count++ })

	g.Open()
	g.Open()

	assert.Equal(t, 1, count)
}

func TestGate_OpsQueuedDuringDrainRunInline(t *testing.T) {
	g := New()
	var order []string

	g.Run(func() {
		order = append(order, "first")
		g.Run(func() { order = append(order, "nested") })
	})
	g.Run(func() { order = append(order, "second") })

	g.Open()

	require.Len(t, order, 3)
	assert.Equal(t, []string{"first", "nested", "second"}, order)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_ready", NotReady.String())
	assert.Equal(t, "ready", Ready.String())
}
