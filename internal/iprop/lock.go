package iprop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Lock is the re-entrant operation lock shared by a driver and all of its
// subsystems and channels.
//
// Every property get/set/delete holds the lock for its full duration, so a
// driver may be used from multiple goroutines with operations fully
// serialized across the whole driver tree. Re-entrancy allows a custom hook
// to trigger a nested property access on the same driver without
// deadlocking; other goroutines block until the outermost Release.
//
// Most instrument transports are not re-entrant, so there is deliberately no
// finer-grained locking.
type Lock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64 // goroutine id of the current holder, 0 when free
	depth int
}

// NewLock creates an operation lock.
func NewLock() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire takes the lock, blocking until it is available. A goroutine that
// already holds the lock proceeds immediately.
func (l *Lock) Acquire() {
	id := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == id {
		l.depth++
		return
	}
	for l.owner != 0 {
		l.cond.Wait()
	}
	l.owner = id
	l.depth = 1
}

// Release drops one level of the lock. The lock becomes available to other
// goroutines when the outermost Acquire is released.
//
// Releasing a lock not held by the calling goroutine panics; it is always a
// programming error.
func (l *Lock) Release() {
	id := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != id {
		panic("iprop: Release of lock not held by this goroutine")
	}
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Signal()
	}
}

// Held reports whether the calling goroutine currently holds the lock.
func (l *Lock) Held() bool {
	id := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == id
}

// goroutineID extracts the current goroutine's id from the runtime stack
// header ("goroutine 123 [running]:"). The runtime offers no public API for
// this; it is required to make the lock re-entrant.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
