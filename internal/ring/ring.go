// Package ring provides the bounded lock-free queue behind ThreadFiber.
//
// MPSC is a sequence-stamped ring: producers claim a slot with a CAS on the
// tail, publish the value and bump the slot's sequence; the one consumer
// reads slots in order. Claims never leave holes, so a slot the consumer
// sees as unpublished means either an empty ring or a producer mid-write.
package ring

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// ErrWouldBlock reports a full ring on Enqueue and an empty or not yet
// published slot on Dequeue. It is a flow-control signal, not a failure.
var ErrWouldBlock = iox.ErrWouldBlock

type pad [64]byte

type padShort [64 - 8]byte

// MPSC is a bounded multi-producer single-consumer ring.
type MPSC[T any] struct {
	_     pad
	head  atomix.Uint64
	_     pad
	tail  atomix.Uint64
	_     pad
	slots []slot[T]
	mask  uint64
	size  uint64
}

type slot[T any] struct {
	seq  atomix.Uint64
	item T
	_    padShort
}

// NewMPSC returns a ring holding capacity items, rounded up to a power of
// two. Panics if capacity < 2.
func NewMPSC[T any](capacity int) *MPSC[T] {
	if capacity < 2 {
		panic("ring: capacity must be >= 2")
	}
	n := uint64(roundToPow2(capacity))
	r := &MPSC[T]{
		slots: make([]slot[T], n),
		mask:  n - 1,
		size:  n,
	}
	for i := range r.slots {
		r.slots[i].seq.StoreRelaxed(uint64(i))
	}
	return r
}

// Enqueue copies *item into the ring. Safe for concurrent producers.
// Returns ErrWouldBlock when the ring is full.
func (r *MPSC[T]) Enqueue(item *T) error {
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		if tail >= r.head.LoadAcquire()+r.size {
			return ErrWouldBlock
		}
		s := &r.slots[tail&r.mask]
		switch seq := s.seq.LoadAcquire(); {
		case seq == tail:
			if r.tail.CompareAndSwapAcqRel(tail, tail+1) {
				s.item = *item
				s.seq.StoreRelease(tail + 1)
				return nil
			}
		case seq < tail:
			// The consumer has not released this slot from the last lap.
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// Dequeue removes the oldest item. Only one goroutine may call it.
// Returns ErrWouldBlock when nothing is published at the head.
func (r *MPSC[T]) Dequeue() (T, error) {
	var zero T
	head := r.head.LoadRelaxed()
	s := &r.slots[head&r.mask]
	if s.seq.LoadAcquire() != head+1 {
		return zero, ErrWouldBlock
	}
	item := s.item
	s.item = zero
	s.seq.StoreRelease(head + r.size)
	r.head.StoreRelease(head + 1)
	return item, nil
}

// Cap returns the ring capacity.
func (r *MPSC[T]) Cap() int {
	return int(r.size)
}

// Len returns the number of claimed slots. Under concurrent use it is an
// estimate; it may count items whose producer is still writing.
func (r *MPSC[T]) Len() int {
	tail := r.tail.LoadAcquire()
	head := r.head.LoadAcquire()
	if tail <= head {
		return 0
	}
	return int(tail - head)
}

func roundToPow2(n int) int {
	p := 2
	for p < n {
		p <<= 1
	}
	return p
}
