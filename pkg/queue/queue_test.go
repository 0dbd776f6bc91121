package queue

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct{ n int }

func TestSPSCFifo(t *testing.T) {
	const n = 10_000
	q := NewSPSC[item](1024)

	items := make([]*item, n)
	for i := 0; i < n; i++ {
		items[i] = &item{n: i}
	}

	done := make(chan struct{})
	var got []int
	go func() {
		for len(got) < n {
			v, ok := q.Dequeue()
			if !ok {
				continue
			}
			got = append(got, v.n)
		}
		close(done)
	}()

	for _, it := range items {
		for !q.Enqueue(it) {
		}
	}
	<-done

	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v, "consumer must observe strict producer order")
	}
}

func TestSPSCFullEmpty(t *testing.T) {
	q := NewSPSC[item](2)
	a, b, c := &item{1}, &item{2}, &item{3}
	require.True(t, q.Enqueue(a))
	require.True(t, q.Enqueue(b))
	require.False(t, q.Enqueue(c), "enqueue must fail only when full")

	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Same(t, a, v)

	v, ok = q.Dequeue()
	require.True(t, ok)
	require.Same(t, b, v)

	_, ok = q.Dequeue()
	require.False(t, ok, "dequeue must report empty when head==tail")
}

func TestMPMCPerProducerFIFO(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	q := NewMPMC[item](1024)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := &item{n: p*1_000_000 + i}
				for !q.Enqueue(v) {
				}
			}
		}(p)
	}

	total := producers * perProducer
	got := make([]int, 0, total)
	var mu sync.Mutex
	var cwg sync.WaitGroup
	for c := 0; c < 4; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				// Dequeue and record under one lock so got holds the
				// queue's actual dequeue order.
				mu.Lock()
				if len(got) >= total {
					mu.Unlock()
					return
				}
				if v, ok := q.Dequeue(); ok {
					got = append(got, v.n)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	cwg.Wait()

	require.Len(t, got, total)

	perProducerSeen := make(map[int][]int, producers)
	for _, v := range got {
		p := v / 1_000_000
		i := v % 1_000_000
		perProducerSeen[p] = append(perProducerSeen[p], i)
	}
	for p := 0; p < producers; p++ {
		seen := perProducerSeen[p]
		require.Len(t, seen, perProducer)
		sorted := append([]int{}, seen...)
		sort.Ints(sorted)
		require.Equal(t, sorted, seen, "per-producer FIFO order must be preserved")
	}
}

func TestLockedQueueBlockingDequeue(t *testing.T) {
	q := NewLocked[item](4)
	a := &item{1}
	go func() {
		require.True(t, q.Enqueue(a))
	}()
	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Same(t, a, v)
}

func TestLockedQueueFullAndClose(t *testing.T) {
	q := NewLocked[item](1)
	require.True(t, q.Enqueue(&item{1}))
	require.False(t, q.Enqueue(&item{2}))

	q.Close()
	_, ok := q.TryDequeue()
	require.True(t, ok)
	_, ok = q.Dequeue()
	require.False(t, ok)
}
