package expiring

import (
	"container/heap"
	"iter"

	"github.com/sarchlab/agency/timing"
)

// Queue is a priority queue ordered by expiration. Pop returns the live value
// that expires first; values added with the same rounded expiration come out
// in insertion order.
type Queue[V any] struct {
	packer
	items    itemHeap[V]
	nextSeq  uint64
	onExpire func(V)
}

// NewQueue creates a Queue. A maxSize of zero or less uses DefaultMaxSize.
func NewQueue[V any](tt timing.TimeTeller, maxSize int) *Queue[V] {
	return &Queue[V]{packer: newPacker(tt, maxSize)}
}

// OnExpire registers a function called with every expired value Pop or Peek
// discards.
func (q *Queue[V]) OnExpire(fn func(V)) {
	q.onExpire = fn
}

// Add queues value until exp. Values that would already be expired are not
// queued.
func (q *Queue[V]) Add(value V, exp timing.VTimeInSec) {
	q.lazyPack()

	it := newItem(exp, value)
	if !it.alive(q.time.Now()) {
		return
	}

	it.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, it)
}

// AddRelative queues value for delay seconds.
func (q *Queue[V]) AddRelative(value V, delay timing.VTimeInSec) {
	q.Add(value, absolute(q.time, delay))
}

// Pop removes and returns the live value with the earliest expiration. The
// boolean is false when the queue holds no live value.
func (q *Queue[V]) Pop() (V, bool) {
	if !q.dropExpiredHead() {
		var zero V
		return zero, false
	}

	it := heap.Pop(&q.items).(item[V])

	return it.value, true
}

// Peek returns the value Pop would return without removing it.
func (q *Queue[V]) Peek() (V, bool) {
	if !q.dropExpiredHead() {
		var zero V
		return zero, false
	}

	return q.items[0].value, true
}

func (q *Queue[V]) dropExpiredHead() bool {
	q.lazyPack()

	now := q.time.Now()
	for len(q.items) > 0 {
		if q.items[0].alive(now) {
			return true
		}

		it := heap.Pop(&q.items).(item[V])
		if q.onExpire != nil {
			q.onExpire(it.value)
		}
	}

	return false
}

// All iterates over the live values in no particular order.
func (q *Queue[V]) All() iter.Seq[V] {
	q.lazyPack()

	now := q.time.Now()
	live := make([]V, 0, len(q.items))
	for _, it := range q.items {
		if it.alive(now) {
			live = append(live, it.value)
		}
	}

	return func(yield func(V) bool) {
		for _, v := range live {
			if !yield(v) {
				return
			}
		}
	}
}

// Len returns the number of live values.
func (q *Queue[V]) Len() int {
	now := q.time.Now()
	n := 0

	for _, it := range q.items {
		if it.alive(now) {
			n++
		}
	}

	return n
}

// Size returns the number of queued values, counting expired ones that were
// not purged yet.
func (q *Queue[V]) Size() int {
	return len(q.items)
}

// Pack purges every expired value. Purged values are not reported to the
// OnExpire function.
func (q *Queue[V]) Pack() {
	q.pack(q.time.Now())
}

// Clear removes every value.
func (q *Queue[V]) Clear() {
	q.items = nil
}

func (q *Queue[V]) lazyPack() {
	if now, ok := q.due(len(q.items)); ok {
		q.pack(now)
	}
}

func (q *Queue[V]) pack(now timing.VTimeInSec) {
	live := q.items[:0]
	for _, it := range q.items {
		if it.alive(now) {
			live = append(live, it)
		}
	}

	clear(q.items[len(live):])
	q.items = live
	heap.Init(&q.items)

	q.done(now, len(q.items))
}

type itemHeap[V any] []item[V]

func (h itemHeap[V]) Len() int {
	return len(h)
}

func (h itemHeap[V]) Less(i, j int) bool {
	if h[i].pri != h[j].pri {
		return h[i].pri < h[j].pri
	}

	return h[i].seq < h[j].seq
}

func (h itemHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *itemHeap[V]) Push(x any) {
	*h = append(*h, x.(item[V]))
}

func (h *itemHeap[V]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[0 : n-1]

	return it
}
