package pool

import (
	"fmt"
	"sync"

	"github.com/lxfeed/tradefeed/pkg/wire"
)

// Locked is a mutex-guarded stack of free indices. Chosen when
// contention is low or debuggability matters over raw throughput.
type Locked[T any] struct {
	mu       sync.Mutex
	slab     []T
	free     []int32
	inUse    map[*T]bool
}

// NewLocked constructs a Locked pool with room for capacity values.
func NewLocked[T any](capacity int) *Locked[T] {
	p := &Locked[T]{
		slab:  make([]T, capacity),
		free:  make([]int32, capacity),
		inUse: make(map[*T]bool, capacity),
	}
	for i := range p.free {
		p.free[i] = int32(i)
	}
	return p
}

func (p *Locked[T]) Allocate() (*T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, wire.ErrPoolExhausted
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	ptr := &p.slab[idx]
	p.inUse[ptr] = true
	return ptr, nil
}

func (p *Locked[T]) Deallocate(ptr *T) error {
	if ptr == nil {
		return fmt.Errorf("deallocate nil handle: %w", wire.ErrInvalidArgument)
	}
	idx, ok := indexOf(p.slab, ptr)
	if !ok {
		return fmt.Errorf("deallocate handle outside pool: %w", wire.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[ptr] {
		return fmt.Errorf("double free of handle: %w", wire.ErrInvalidArgument)
	}
	delete(p.inUse, ptr)
	p.free = append(p.free, int32(idx))
	return nil
}

func (p *Locked[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slab) - len(p.free)
}

func (p *Locked[T]) Cap() int { return len(p.slab) }
