package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/lxfeed/tradefeed/pkg/wire"
)

// Array is the simpler top-of-stack free-slot pool: a fixed-size free-slot
// array with a signed atomic top-of-stack index, CAS'd on every
// allocate/deallocate. It is vulnerable to ABA if two threads deallocate
// and reallocate the same slot between a reader's load and its CAS, so it
// is only safe under single-producer/single-consumer use (or any usage
// where allocate and deallocate never race on the same slot). Tagged is
// the preferred pool when multiple producers and consumers both allocate
// and free.
type Array[T any] struct {
	slab     []T
	freeList []int32
	inUse    []atomic.Bool
	top      atomic.Int64 // index of the top free slot, -1 when empty
}

// NewArray constructs an Array pool with room for capacity values.
func NewArray[T any](capacity int) *Array[T] {
	p := &Array[T]{
		slab:     make([]T, capacity),
		freeList: make([]int32, capacity),
	}
	p.inUse = make([]atomic.Bool, capacity)
	for i := 0; i < capacity; i++ {
		p.freeList[i] = int32(i)
	}
	p.top.Store(int64(capacity) - 1)
	return p
}

func (p *Array[T]) Allocate() (*T, error) {
	for {
		top := p.top.Load()
		if top < 0 {
			return nil, wire.ErrPoolExhausted
		}
		idx := p.freeList[top]
		if p.top.CompareAndSwap(top, top-1) {
			p.inUse[idx].Store(true)
			return &p.slab[idx], nil
		}
	}
}

func (p *Array[T]) Deallocate(ptr *T) error {
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
		top := p.top.Load()
		next := top + 1
		if next >= int64(len(p.slab)) {
			return fmt.Errorf("pool overflow on deallocate: %w", wire.ErrInvalidArgument)
		}
		p.freeList[next] = int32(idx)
		if p.top.CompareAndSwap(top, next) {
			return nil
		}
	}
}

func (p *Array[T]) Len() int {
	n := 0
	for i := range p.inUse {
		if p.inUse[i].Load() {
			n++
		}
	}
	return n
}

func (p *Array[T]) Cap() int { return len(p.slab) }
