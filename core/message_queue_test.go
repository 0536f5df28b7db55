package core

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMessageQueue_SendTryRecv verifies FIFO delivery of control messages
// Given: An inbox with Wake, Shutdown and Shutdown sent
// When: TryRecv is polled
// Then: Messages arrive in order and the empty inbox reports false
func TestMessageQueue_SendTryRecv(t *testing.T) {
	mq := NewMessageQueue()
	mq.Send(Wake)
	mq.Send(Shutdown)
	mq.Send(Shutdown)
	require.Equal(t, 3, mq.Len())

	for _, want := range []Message{Wake, Shutdown, Shutdown} {
		got, ok := mq.TryRecv()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := mq.TryRecv()
	assert.False(t, ok)
	assert.Equal(t, "Shutdown", Shutdown.String())
}

// TestSleeperList_HandleSendWakes verifies handles publish before waking
// Given: A handle whose wake function inspects the inbox
// When: The handle is pushed, popped and sent Wake
// Then: The wake function observes the message already queued
func TestSleeperList_HandleSendWakes(t *testing.T) {
	inbox := NewMessageQueue()
	var seen atomic.Int32
	h := &SchedHandle{id: 3, name: "sched-3", inbox: inbox, wake: func() {
		seen.Store(int32(inbox.Len()))
	}}
	sl := NewSleeperList()

	sl.Push(h)
	got, ok := sl.Pop()
	require.True(t, ok)
	got.Send(Wake)

	assert.Same(t, h, got)
	assert.EqualValues(t, 1, seen.Load())
	_, ok = sl.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, sl.Len())
}

// TestSleeperList_SkipsSchedulersThatWokeThemselves verifies only idle schedulers are handed out
// Given: Two listed handles where the first scheduler has already left the idle set
// When: Pop is called
// Then: The second handle is returned and claimed, and the first is dropped from the list
func TestSleeperList_SkipsSchedulersThatWokeThemselves(t *testing.T) {
	var busyFlag, idleFlag atomic.Bool
	noop := func() {}
	busy := &SchedHandle{id: 0, name: "sched-0", inbox: NewMessageQueue(), wake: noop, sleeping: &busyFlag}
	idle := &SchedHandle{id: 1, name: "sched-1", inbox: NewMessageQueue(), wake: noop, sleeping: &idleFlag}
	sl := NewSleeperList()

	busyFlag.Store(true)
	sl.Push(busy)
	idleFlag.Store(true)
	sl.Push(idle)
	sl.Push(idle)
	require.Equal(t, 2, sl.Len())
	busyFlag.Store(false)

	got, ok := sl.Pop()
	require.True(t, ok)
	assert.Same(t, idle, got)
	assert.False(t, idleFlag.Load(), "pop should take the scheduler out of the idle set")
	assert.Equal(t, 0, sl.Len())

	_, ok = sl.Pop()
	assert.False(t, ok)

	busyFlag.Store(true)
	sl.Push(busy)
	assert.Equal(t, 1, sl.Len(), "a dropped handle can be listed again")
}
