package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/lxfeed/tradefeed/pkg/wire"
)

// nilIndex is the free-list sentinel: no free slot available.
const nilIndex uint32 = 0xFFFFFFFF

func packHead(index, tag uint32) uint64 {
	return uint64(tag)<<32 | uint64(index)
}

func unpackHead(h uint64) (index, tag uint32) {
	return uint32(h), uint32(h >> 32)
}

// Tagged is the canonical ABA-safe MPMC pool. The free-list head is a
// single atomic.Uint64 packing (index, tag): the lower 32 bits are the
// index of the free-list head (nilIndex when empty), the upper 32 bits
// are a monotonically increasing tag. Two interleaved allocate/deallocate
// pairs that return the same index produce distinct head words, which is
// what defeats ABA on the CAS loop.
type Tagged[T any] struct {
	slab     []T
	nextFree []uint32
	inUse    []atomic.Bool
	head     atomic.Uint64
}

// NewTagged constructs a Tagged pool with room for capacity values.
func NewTagged[T any](capacity int) *Tagged[T] {
	p := &Tagged[T]{
		slab:     make([]T, capacity),
		nextFree: make([]uint32, capacity),
		inUse:    make([]atomic.Bool, capacity),
	}
	for i := 0; i < capacity; i++ {
		if i == capacity-1 {
			p.nextFree[i] = nilIndex
		} else {
			p.nextFree[i] = uint32(i + 1)
		}
	}
	head := uint32(0)
	if capacity == 0 {
		head = nilIndex
	}
	p.head.Store(packHead(head, 0))
	return p
}

func (p *Tagged[T]) Allocate() (*T, error) {
	for {
		old := p.head.Load()
		index, tag := unpackHead(old)
		if index == nilIndex {
			return nil, wire.ErrPoolExhausted
		}
		next := p.nextFree[index]
		newHead := packHead(next, tag+1)
		if p.head.CompareAndSwap(old, newHead) {
			p.inUse[index].Store(true)
			return &p.slab[index], nil
		}
	}
}

func (p *Tagged[T]) Deallocate(ptr *T) error {
	if ptr == nil {
		return fmt.Errorf("deallocate nil handle: %w", wire.ErrInvalidArgument)
	}
	idx, ok := indexOf(p.slab, ptr)
	if !ok {
		return fmt.Errorf("deallocate handle outside pool: %w", wire.ErrInvalidArgument)
	}
	if !p.inUse[idx].CompareAndSwap(true, false) {
		return fmt.Errorf("double free of handle: %w", wire.ErrInvalidArgument)
	}
	for {
		old := p.head.Load()
		headIndex, tag := unpackHead(old)
		p.nextFree[idx] = headIndex
		newHead := packHead(uint32(idx), tag+1)
		if p.head.CompareAndSwap(old, newHead) {
			return nil
		}
	}
}

func (p *Tagged[T]) Len() int {
	n := 0
	for i := range p.inUse {
		if p.inUse[i].Load() {
			n++
		}
	}
	return n
}

func (p *Tagged[T]) Cap() int { return len(p.slab) }
