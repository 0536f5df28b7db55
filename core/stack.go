package core

import (
	"math/bits"
	"strconv"
	"sync"
	"sync/atomic"
)

const (
	// MinStackSize is the smallest stack segment size class.
	MinStackSize = 16 << 10
	// DefaultStackSize is the segment size requested for spawned tasks.
	DefaultStackSize = 64 << 10
	// DefaultStackCacheLimit bounds the number of cached stacks per pool.
	DefaultStackCacheLimit = 64
	// maxStackSize caps a single segment request.
	maxStackSize = 1 << 30
)

// segment is a block of stack memory owned by one Stack.
type segment interface {
	Bytes() []byte
	Free() error
}

var stackIDs atomic.Uint64

// Stack is a task's execution vehicle: a carrier goroutine that runs task
// bodies, the saved context used to switch onto it, and a memory segment the
// running task owns exclusively.
type Stack struct {
	id       uint64
	class    int
	pool     *StackPool
	seg      segment
	ctx      *execContext
	entry    func()
	poisoned atomic.Bool
	done     chan struct{}
}

func newStack(class int, seg segment) *Stack {
	id := stackIDs.Add(1)
	st := &Stack{
		id:    id,
		class: class,
		seg:   seg,
		ctx:   newExecContext("stack-"+strconv.FormatUint(id, 10), false),
		done:  make(chan struct{}),
	}
	go st.carrier()
	return st
}

// ID returns the stack's identity.
func (st *Stack) ID() uint64 { return st.id }

// Size returns the usable size of the stack's segment.
func (st *Stack) Size() int { return len(st.seg.Bytes()) }

// Pool returns the pool the stack was acquired from.
func (st *Stack) Pool() *StackPool { return st.pool }

// Segment returns the stack's memory. It must not hold Go pointers.
func (st *Stack) Segment() []byte { return st.seg.Bytes() }

// init installs a fresh entry point. The stack's context must be saved.
func (st *Stack) init(entry func()) {
	if st.ctx.Running() {
		fault("stack init", "entry installed on a running stack", nil)
	}
	st.entry = entry
}

// carrier runs entry points handed to the stack until the stack is destroyed.
func (st *Stack) carrier() {
	unbind := bindGoroutine(TaskContext)
	defer func() {
		unbind()
		close(st.done)
	}()

	for range st.ctx.resume {
		entry := st.entry
		st.entry = nil
		if entry == nil {
			fault("stack carrier", "switched onto a stack without an entry point", nil)
		}
		entry()
	}
}

// destroy stops the carrier and frees the segment.
func (st *Stack) destroy() error {
	close(st.ctx.resume)
	return st.seg.Free()
}

// StackPoolStats is a snapshot of a pool's counters.
type StackPoolStats struct {
	Cached      int
	CachedBytes int
	InUse       int64
	Allocations int64
	Reuses      int64
	Destroyed   int64
}

// StackPool caches released stacks by size class.
// It is safe for concurrent use. A stack always returns to the pool it was
// acquired from, which is the only pool counting it as in use.
type StackPool struct {
	mu     sync.Mutex
	free   map[int][]*Stack
	cached int
	limit  int

	allocs    atomic.Int64
	reuses    atomic.Int64
	destroyed atomic.Int64
	inUse     atomic.Int64

	alloc   func(size int) (segment, error)
	onAlloc func(size int)
	logger  Logger
}

// NewStackPool creates a pool that caches at most limit released stacks.
func NewStackPool(limit int) *StackPool {
	if limit < 0 {
		limit = 0
	}
	return &StackPool{
		free:   make(map[int][]*Stack),
		limit:  limit,
		alloc:  allocSegment,
		logger: packageLogger(),
	}
}

// sizeClass rounds a request up to a power of two no smaller than MinStackSize.
func sizeClass(minSize int) int {
	if minSize <= MinStackSize {
		return MinStackSize
	}
	if minSize > maxStackSize {
		fault("stack pool", "stack request exceeds maximum segment size", nil)
	}
	return 1 << bits.Len(uint(minSize-1))
}

// Acquire returns a stack whose segment holds at least minSize bytes,
// reusing a cached one of the same size class when available. Allocation
// failure is fatal.
func (p *StackPool) Acquire(minSize int) *Stack {
	class := sizeClass(minSize)

	p.mu.Lock()
	if list := p.free[class]; len(list) > 0 {
		st := list[len(list)-1]
		list[len(list)-1] = nil
		p.free[class] = list[:len(list)-1]
		p.cached--
		p.mu.Unlock()

		p.reuses.Add(1)
		p.inUse.Add(1)
		st.pool = p
		return st
	}
	p.mu.Unlock()

	seg, err := p.alloc(class)
	if err != nil {
		fault("stack pool", "stack segment allocation failed", err)
	}
	p.allocs.Add(1)
	p.inUse.Add(1)
	if p.onAlloc != nil {
		p.onAlloc(class)
	}
	st := newStack(class, seg)
	st.pool = p
	return st
}

// Release returns a stack to the pool it was acquired from, whichever pool
// Release is called on. Stacks beyond the cache limit and stacks whose
// carrier has exited are destroyed instead.
func (p *StackPool) Release(st *Stack) {
	if st == nil {
		return
	}
	if st.pool != nil && st.pool != p {
		st.pool.Release(st)
		return
	}
	p.inUse.Add(-1)

	if !st.poisoned.Load() {
		p.mu.Lock()
		if p.cached < p.limit {
			p.free[st.class] = append(p.free[st.class], st)
			p.cached++
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}

	p.destroy(st)
}

func (p *StackPool) destroy(st *Stack) {
	p.destroyed.Add(1)
	if err := st.destroy(); err != nil {
		p.logger.Warn("free stack segment", F("stack", st.id), F("err", err))
	}
}

// Allocations returns how many segments the pool has allocated.
func (p *StackPool) Allocations() int64 { return p.allocs.Load() }

// Stats returns a snapshot of the pool's counters.
func (p *StackPool) Stats() StackPoolStats {
	p.mu.Lock()
	cached := p.cached
	bytes := 0
	for class, list := range p.free {
		bytes += class * len(list)
	}
	p.mu.Unlock()

	return StackPoolStats{
		Cached:      cached,
		CachedBytes: bytes,
		InUse:       p.inUse.Load(),
		Allocations: p.allocs.Load(),
		Reuses:      p.reuses.Load(),
		Destroyed:   p.destroyed.Load(),
	}
}

// Close destroys every cached stack. Stacks still in use are unaffected.
func (p *StackPool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = make(map[int][]*Stack)
	p.cached = 0
	p.mu.Unlock()

	for _, list := range free {
		for _, st := range list {
			p.destroy(st)
		}
	}
}
