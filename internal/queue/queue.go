package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Item is a single entry in the time queue
type Item[T any] struct {
	Value T
	Due   time.Time
	seq   uint64
}

// timeQueueHeap implements heap.Interface
type timeQueueHeap[T any] []*Item[T]

func (h timeQueueHeap[T]) Len() int {
	return len(h)
}

// Less orders by due time; items due at the same instant keep insertion order
func (h timeQueueHeap[T]) Less(i, j int) bool {
	if h[i].Due.Equal(h[j].Due) {
		return h[i].seq < h[j].seq
	}
	return h[i].Due.Before(h[j].Due)
}

func (h timeQueueHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *timeQueueHeap[T]) Push(x interface{}) {
	*h = append(*h, x.(*Item[T]))
}

func (h *timeQueueHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// TimeQueue is a thread-safe generic queue ordered by due time
type TimeQueue[T any] struct {
	heap timeQueueHeap[T]
	seq  uint64
	mu   sync.Mutex
}

// NewTimeQueue creates an empty time queue
func NewTimeQueue[T any]() *TimeQueue[T] {
	tq := &TimeQueue[T]{
		heap: make(timeQueueHeap[T], 0),
	}
	heap.Init(&tq.heap)
	return tq
}

// Len returns the number of queued items
func (tq *TimeQueue[T]) Len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.heap.Len()
}

// Push schedules value at due
func (tq *TimeQueue[T]) Push(value T, due time.Time) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	tq.seq++
	heap.Push(&tq.heap, &Item[T]{
		Value: value,
		Due:   due,
		seq:   tq.seq,
	})
}

// Peek returns the earliest item without removing it
func (tq *TimeQueue[T]) Peek() (T, time.Time, bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	if tq.heap.Len() == 0 {
		var zero T
		return zero, time.Time{}, false
	}
	item := tq.heap[0]
	return item.Value, item.Due, true
}

// Pop removes and returns the earliest item
func (tq *TimeQueue[T]) Pop() (T, time.Time, bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	if tq.heap.Len() == 0 {
		var zero T
		return zero, time.Time{}, false
	}

	item := heap.Pop(&tq.heap).(*Item[T])
	return item.Value, item.Due, true
}
