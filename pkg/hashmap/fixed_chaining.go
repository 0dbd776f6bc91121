package hashmap

import (
	"fmt"

	"github.com/lxfeed/tradefeed/pkg/wire"
)

const fixedChainingNil int32 = -1

type fixedNode[K comparable, V any] struct {
	key   K
	value V
	next  int32
}

// FixedChaining is an intrusive chaining map backed by a preallocated
// node pool sized buckets*loadFactorCap; freed nodes return to a free
// stack instead of the garbage collector. This is the order book's
// order_id -> Order map: insert/find/erase never allocate once built.
type FixedChaining[K comparable, V any] struct {
	buckets   []int32 // bucket -> head node index, fixedChainingNil if empty
	nodes     []fixedNode[K, V]
	freeStack []int32
	freeTop   int
	mask      uint64
	hash      Hasher[K]
	size      int
}

// NewFixedChaining constructs a FixedChaining map with minBuckets buckets
// (rounded to a power of two) and room for buckets*loadFactorCap live
// entries.
func NewFixedChaining[K comparable, V any](minBuckets int, loadFactorCap int, hash Hasher[K]) *FixedChaining[K, V] {
	n := nextPow2(minBuckets)
	capacity := n * loadFactorCap
	m := &FixedChaining[K, V]{
		buckets:   make([]int32, n),
		nodes:     make([]fixedNode[K, V], capacity),
		freeStack: make([]int32, capacity),
		mask:      uint64(n - 1),
		hash:      hash,
	}
	for i := range m.buckets {
		m.buckets[i] = fixedChainingNil
	}
	for i := 0; i < capacity; i++ {
		m.freeStack[i] = int32(i)
	}
	m.freeTop = capacity
	return m
}

func (m *FixedChaining[K, V]) bucketFor(key K) uint64 { return m.hash(key) & m.mask }

func (m *FixedChaining[K, V]) findNode(key K) (int32, int32) {
	b := m.bucketFor(key)
	var prev int32 = fixedChainingNil
	idx := m.buckets[b]
	for idx != fixedChainingNil {
		if m.nodes[idx].key == key {
			return idx, prev
		}
		prev = idx
		idx = m.nodes[idx].next
	}
	return fixedChainingNil, fixedChainingNil
}

func (m *FixedChaining[K, V]) Insert(key K, value V) {
	if idx, _ := m.findNode(key); idx != fixedChainingNil {
		m.nodes[idx].value = value
		return
	}
	m.insertNew(key, value)
}

// InsertErr behaves like Insert but reports node pool exhaustion as an
// error instead of panicking, for callers (the order book) that sit on a
// result-type boundary and cannot let a panic cross it.
func (m *FixedChaining[K, V]) InsertErr(key K, value V) error {
	if idx, _ := m.findNode(key); idx != fixedChainingNil {
		m.nodes[idx].value = value
		return nil
	}
	if m.freeTop == 0 {
		return fmt.Errorf("hashmap: node pool exhausted: %w", wire.ErrPoolExhausted)
	}
	m.insertNew(key, value)
	return nil
}

func (m *FixedChaining[K, V]) insertNew(key K, value V) *V {
	if m.freeTop == 0 {
		panic(wire.ErrPoolExhausted) // node pool exhaustion is a construction-time sizing bug
	}
	m.freeTop--
	idx := m.freeStack[m.freeTop]
	b := m.bucketFor(key)
	m.nodes[idx] = fixedNode[K, V]{key: key, value: value, next: m.buckets[b]}
	m.buckets[b] = idx
	m.size++
	return &m.nodes[idx].value
}

func (m *FixedChaining[K, V]) Contains(key K) bool {
	idx, _ := m.findNode(key)
	return idx != fixedChainingNil
}

func (m *FixedChaining[K, V]) Find(key K) (*V, bool) {
	idx, _ := m.findNode(key)
	if idx == fixedChainingNil {
		return nil, false
	}
	return &m.nodes[idx].value, true
}

func (m *FixedChaining[K, V]) Erase(key K) bool {
	idx, prev := m.findNode(key)
	if idx == fixedChainingNil {
		return false
	}
	b := m.bucketFor(key)
	if prev == fixedChainingNil {
		m.buckets[b] = m.nodes[idx].next
	} else {
		m.nodes[prev].next = m.nodes[idx].next
	}
	var zero fixedNode[K, V]
	m.nodes[idx] = zero
	m.freeStack[m.freeTop] = idx
	m.freeTop++
	m.size--
	return true
}

func (m *FixedChaining[K, V]) GetOrInsert(key K) *V {
	if idx, _ := m.findNode(key); idx != fixedChainingNil {
		return &m.nodes[idx].value
	}
	return m.insertNew(key, *new(V))
}

func (m *FixedChaining[K, V]) Len() int { return m.size }
