// Package orderbook maintains a single instrument's price-level aggregates
// keyed by price tick, with an order_id index backed by a fixed node-pool map so
// insert/update/cancel never allocate once the book is warmed up.
package orderbook

import (
	"fmt"

	"github.com/lxfeed/tradefeed/pkg/hashmap"
	"github.com/lxfeed/tradefeed/pkg/wire"
)

// DefaultTickSize and DefaultMaxLevels match the reference book's defaults; a book can
// be constructed with different values for instruments with coarser or
// finer price grids.
const (
	DefaultTickSize  = 0.01
	DefaultMaxLevels = 100_000
)

// Order is a resting order tracked by the book.
type Order struct {
	OrderID  uint64
	Price    float64
	Quantity int64
	IsBuy    bool
}

// Book is a single instrument's order book: two fixed price-level arrays
// (bid and ask quantity by tick index) plus an order_id -> Order map.
// Best bid/ask indices are maintained incrementally; emptying a level at
// the current best scans outward to find the new best, exactly as the
// reference design does.
type Book struct {
	tickSize  float64
	maxLevels int

	orders *hashmap.FixedChaining[uint64, Order]

	bidLevels []int64
	askLevels []int64

	bestBidIndex int
	bestAskIndex int
}

// New constructs an empty book sized for maxLevels price ticks and a
// capacity of maxOrders live resting orders.
func New(tickSize float64, maxLevels, maxOrders int) *Book {
	buckets := maxOrders / 4
	if buckets < 16 {
		buckets = 16
	}
	return &Book{
		tickSize:     tickSize,
		maxLevels:    maxLevels,
		orders:       hashmap.NewFixedChaining[uint64, Order](buckets, 4, hashmap.Uint64Hash),
		bidLevels:    make([]int64, maxLevels),
		askLevels:    make([]int64, maxLevels),
		bestBidIndex: -1,
		bestAskIndex: maxLevels,
	}
}

func (b *Book) priceToIndex(price float64) int {
	return int(price/b.tickSize + 0.5)
}

func (b *Book) indexToPrice(idx int) float64 {
	return float64(idx) * b.tickSize
}

// Insert adds a new resting order and folds its quantity into its price
// level, updating the best bid/ask index if the new order improves it.
func (b *Book) Insert(o Order) error {
	if _, exists := b.orders.Find(o.OrderID); exists {
		return fmt.Errorf("orderbook: order %d already exists", o.OrderID)
	}
	idx := b.priceToIndex(o.Price)
	if idx < 0 || idx >= b.maxLevels {
		return fmt.Errorf("orderbook: price %.8f outside tick range", o.Price)
	}
	if err := b.orders.InsertErr(o.OrderID, o); err != nil {
		return fmt.Errorf("orderbook: order pool exhausted: %w", wire.ErrPoolExhausted)
	}

	if o.IsBuy {
		b.bidLevels[idx] += o.Quantity
		if idx > b.bestBidIndex {
			b.bestBidIndex = idx
		}
	} else {
		b.askLevels[idx] += o.Quantity
		if idx < b.bestAskIndex {
			b.bestAskIndex = idx
		}
	}
	return nil
}

// Update changes a resting order's quantity, adjusting its price level by
// the delta and rescanning for a new best index if the level drained to
// zero at the current best.
func (b *Book) Update(orderID uint64, newQuantity int64) error {
	ord, ok := b.orders.Find(orderID)
	if !ok {
		return fmt.Errorf("orderbook: order %d not found: %w", orderID, wire.ErrNotFound)
	}
	delta := newQuantity - ord.Quantity
	idx := b.priceToIndex(ord.Price)
	if ord.IsBuy {
		b.applyBidDelta(idx, delta)
	} else {
		b.applyAskDelta(idx, delta)
	}
	ord.Quantity = newQuantity
	return nil
}

// Cancel removes a resting order entirely, reversing its contribution to
// its price level and returning its node to the map's free pool.
func (b *Book) Cancel(orderID uint64) error {
	ord, ok := b.orders.Find(orderID)
	if !ok {
		return fmt.Errorf("orderbook: order %d not found: %w", orderID, wire.ErrNotFound)
	}
	idx := b.priceToIndex(ord.Price)
	if ord.IsBuy {
		b.applyBidDelta(idx, -ord.Quantity)
	} else {
		b.applyAskDelta(idx, -ord.Quantity)
	}
	b.orders.Erase(orderID)
	return nil
}

func (b *Book) applyBidDelta(idx int, delta int64) {
	b.bidLevels[idx] += delta
	if idx == b.bestBidIndex && b.bidLevels[idx] == 0 {
		for i := idx - 1; i >= 0; i-- {
			if b.bidLevels[i] > 0 {
				b.bestBidIndex = i
				return
			}
		}
		b.bestBidIndex = -1
	}
}

func (b *Book) applyAskDelta(idx int, delta int64) {
	b.askLevels[idx] += delta
	if idx == b.bestAskIndex && b.askLevels[idx] == 0 {
		for i := idx + 1; i < b.maxLevels; i++ {
			if b.askLevels[i] > 0 {
				b.bestAskIndex = i
				return
			}
		}
		b.bestAskIndex = b.maxLevels
	}
}

// BestBid returns the best bid price and quantity. ok is false if the
// book has no resting bids.
func (b *Book) BestBid() (price float64, quantity int64, ok bool) {
	if b.bestBidIndex < 0 {
		return 0, 0, false
	}
	return b.indexToPrice(b.bestBidIndex), b.bidLevels[b.bestBidIndex], true
}

// BestAsk returns the best ask price and quantity. ok is false if the
// book has no resting asks.
func (b *Book) BestAsk() (price float64, quantity int64, ok bool) {
	if b.bestAskIndex >= b.maxLevels {
		return 0, 0, false
	}
	return b.indexToPrice(b.bestAskIndex), b.askLevels[b.bestAskIndex], true
}

// OrderCount returns the number of live resting orders.
func (b *Book) OrderCount() int { return b.orders.Len() }
