package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoverFault(fn func()) (f *Fault) {
	defer func() {
		if r := recover(); r != nil {
			f, _ = r.(*Fault)
		}
	}()
	fn()
	return nil
}

// TestExecContext_ClaimRunningContextFaults verifies double resume detection
// Given: A context that is already running
// When: Another party claims it
// Then: A *Fault panic is raised
func TestExecContext_ClaimRunningContextFaults(t *testing.T) {
	SetLogger(NewNoOpLogger())
	c := newExecContext("busy", true)

	f := recoverFault(c.claim)

	require.NotNil(t, f)
	assert.Equal(t, "context switch", f.Op)
	assert.Contains(t, f.Error(), "busy")
	assert.True(t, c.Running())
}

// TestExecContext_SaveSavedContextFaults verifies a saved context cannot be saved again
// Given: A saved context
// When: save is called
// Then: A *Fault panic is raised
func TestExecContext_SaveSavedContextFaults(t *testing.T) {
	SetLogger(NewNoOpLogger())
	c := newExecContext("idle", false)

	assert.NotNil(t, recoverFault(c.save))
	assert.False(t, c.Running())
}

// TestSwapContext_PingPong verifies the baton moves between two goroutines
// Given: A running context owned by the test and a saved one owned by a helper goroutine
// When: The two swap back and forth
// Then: Exactly one side is running at any observation point
func TestSwapContext_PingPong(t *testing.T) {
	main := newExecContext("main", true)
	peer := newExecContext("peer", false)

	const rounds = 100
	var trace []int
	go func() {
		<-peer.resume
		for i := range rounds {
			trace = append(trace, -i)
			assert.True(t, peer.Running())
			assert.False(t, main.Running())
			if i == rounds-1 {
				jumpContext(peer, main)
				return
			}
			swapContext(peer, main)
		}
	}()

	for i := range rounds {
		swapContext(main, peer)
		trace = append(trace, i)
		assert.True(t, main.Running())
		assert.False(t, peer.Running())
	}

	require.Len(t, trace, 2*rounds)
	for i := range rounds {
		assert.Equal(t, -i, trace[2*i])
		assert.Equal(t, i, trace[2*i+1])
	}
}

// TestFault_IsFault verifies fault classification of panic values
// Given: A *Fault, an error and a string
// When: IsFault is called
// Then: Only the *Fault is classified as a fault
func TestFault_IsFault(t *testing.T) {
	assert.True(t, IsFault(&Fault{Op: "x", Msg: "y"}))
	assert.False(t, IsFault(assert.AnError))
	assert.False(t, IsFault("boom"))
}
