package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a plexus node: Bootstrapping, Discovering, or
// Shutdown.
type State uint32

const (
	//Bootstrapping is the initial state, while the routing table is seeded
	//from the bootstrap set.
	Bootstrapping State = iota
	//Discovering is the normal operating state.
	Discovering
	//Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "Bootstrapping"
	case Discovering:
		return "Discovering"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to waitgroup. Reports whether the routine was
// launched; above WGLIMIT concurrent routines the call is refused.
func (b *state) goFunc(f func()) bool {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount < WGLIMIT {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)
		go func() {
			defer b.wg.Done()
			atomic.AddInt32(&b.wgCount, -1)
			f()
		}()
		return true
	}
	return false
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
