// Package queue implements bounded pointer queues: a locked MPMC queue
// with a blocking dequeue, a lock-free SPSC ring, and a lock-free MPMC
// ring (Vyukov-style). Queues store pointer-sized handles; payload
// ownership transfers on Enqueue and is reacquired on Dequeue.
package queue

// Queue is the shared capability contract. Enqueue fails iff the queue
// is full. On the lock-free rings Dequeue returns (nil, false) iff the
// queue is empty; Locked.Dequeue instead blocks while the queue is empty
// and returns (nil, false) only once it has been closed.
type Queue[T any] interface {
	Enqueue(v *T) bool
	Dequeue() (*T, bool)
}
