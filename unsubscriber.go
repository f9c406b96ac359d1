package fiberworks

import "sync"

// Unsubscriber is a composable, idempotent disposal handle. It holds any
// number of child [Disposable] values and disposes them, most recently
// added first, the first time Dispose is called. Later calls are no-ops.
//
// Adding a child to an Unsubscriber that is already disposed disposes the
// child immediately instead of storing it, so nothing registered late can
// leak. Unsubscriber is itself a Disposable, which is how trees are built:
// disposing a parent cascades to every subscription, timer and nested
// handle below it.
//
// All methods are safe for concurrent use. Children are disposed outside
// the internal lock, so a child may call back into its parent.
type Unsubscriber struct {
	mu       sync.Mutex
	disposed bool
	nextID   uint64
	entries  []unsubEntry
}

type unsubEntry struct {
	id uint64
	d  Disposable
}

// NewUnsubscriber returns an Unsubscriber that runs actions on Dispose.
func NewUnsubscriber(actions ...func()) *Unsubscriber {
	u := &Unsubscriber{}
	for _, fn := range actions {
		u.AddFunc(fn)
	}
	return u
}

// Add registers d to be disposed with u. The returned function detaches d
// again without disposing it; it is safe to call more than once.
func (u *Unsubscriber) Add(d Disposable) (remove func()) {
	if d == nil {
		panic("fiberworks: Unsubscriber.Add requires a non-nil Disposable")
	}

	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		d.Dispose()
		return func() {}
	}
	u.nextID++
	id := u.nextID
	u.entries = append(u.entries, unsubEntry{id: id, d: d})
	u.mu.Unlock()

	return func() { u.remove(id) }
}

// AddFunc registers fn to run when u is disposed. See [Unsubscriber.Add].
func (u *Unsubscriber) AddFunc(fn func()) (remove func()) {
	if fn == nil {
		panic("fiberworks: Unsubscriber.AddFunc requires a non-nil func")
	}
	return u.Add(DisposeFunc(fn))
}

func (u *Unsubscriber) remove(id uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for i, e := range u.entries {
		if e.id == id {
			u.entries = append(u.entries[:i], u.entries[i+1:]...)
			return
		}
	}
}

// Dispose disposes every registered child exactly once.
func (u *Unsubscriber) Dispose() {
	u.mu.Lock()
	if u.disposed {
		u.mu.Unlock()
		return
	}
	u.disposed = true
	entries := u.entries
	u.entries = nil
	u.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].d.Dispose()
	}
}

// Disposed reports whether Dispose has been called.
func (u *Unsubscriber) Disposed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.disposed
}

// Len returns the number of registered children.
func (u *Unsubscriber) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.entries)
}
