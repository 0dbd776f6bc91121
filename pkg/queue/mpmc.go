package queue

import "sync/atomic"

type cell[T any] struct {
	seq  atomic.Uint64
	data *T
	_    [48]byte
}

// MPMC is a bounded Vyukov-style ring: each slot carries an atomic
// sequence counter initialized to its index. Producers read tail; if
// slot.seq == tail they CAS tail forward and publish seq = tail+1.
// Consumers read head; if slot.seq == head+1 they CAS head forward and
// publish seq = head+capacity. This gives wait-free-per-step progress
// under contention, strict FIFO, and fails fast on full/empty.
type MPMC[T any] struct {
	buf      []cell[T]
	mask     uint64
	capacity uint64

	_    [64]byte
	head atomic.Uint64

	_    [56]byte
	tail atomic.Uint64

	_ [56]byte
}

// NewMPMC constructs an MPMC ring. capacity must be a power of two.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("queue: MPMC capacity must be a power of two")
	}
	q := &MPMC[T]{
		buf:      make([]cell[T], capacity),
		mask:     uint64(capacity - 1),
		capacity: uint64(capacity),
	}
	for i := range q.buf {
		q.buf[i].seq.Store(uint64(i))
	}
	return q
}

func (q *MPMC[T]) Enqueue(v *T) bool {
	pos := q.tail.Load()
	for {
		c := &q.buf[pos&q.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos)
		if diff == 0 {
			if q.tail.CompareAndSwap(pos, pos+1) {
				c.data = v
				c.seq.Store(pos + 1)
				return true
			}
			continue
		}
		if diff < 0 {
			return false
		}
		pos = q.tail.Load()
	}
}

func (q *MPMC[T]) Dequeue() (*T, bool) {
	pos := q.head.Load()
	for {
		c := &q.buf[pos&q.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos+1)
		if diff == 0 {
			if q.head.CompareAndSwap(pos, pos+1) {
				v := c.data
				c.data = nil
				c.seq.Store(pos + q.capacity)
				return v, true
			}
			continue
		}
		if diff < 0 {
			return nil, false
		}
		pos = q.head.Load()
	}
}

// Len returns the number of claimed slots (tail - head). Under concurrent
// use it is a snapshot: a slot counted here may still be mid-publish.
func (q *MPMC[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}
