package expiring

import (
	"iter"

	"github.com/sarchlab/agency/timing"
)

// Dict is a map whose entries expire. Expired entries are invisible to every
// operation and are purged lazily.
type Dict[K comparable, V any] struct {
	packer
	items map[K]item[V]
}

// NewDict creates a Dict. A maxSize of zero or less uses DefaultMaxSize.
func NewDict[K comparable, V any](
	tt timing.TimeTeller,
	maxSize int,
) *Dict[K, V] {
	return &Dict[K, V]{
		packer: newPacker(tt, maxSize),
		items:  make(map[K]item[V]),
	}
}

// Set stores value under key until exp. Entries that would already be expired
// are not stored.
func (d *Dict[K, V]) Set(key K, value V, exp timing.VTimeInSec) {
	d.lazyPack()

	it := newItem(exp, value)
	if !it.alive(d.time.Now()) {
		return
	}

	d.items[key] = it
}

// SetRelative stores value under key for delay seconds.
func (d *Dict[K, V]) SetRelative(key K, value V, delay timing.VTimeInSec) {
	d.Set(key, value, absolute(d.time, delay))
}

// Get returns the live value stored under key.
func (d *Dict[K, V]) Get(key K) (V, bool) {
	it, ok := d.getItem(key)

	return it.value, ok
}

// Has tells if a live entry is stored under key.
func (d *Dict[K, V]) Has(key K) bool {
	_, ok := d.getItem(key)

	return ok
}

// Expiration returns when the entry under key expires.
func (d *Dict[K, V]) Expiration(key K) (timing.VTimeInSec, bool) {
	it, ok := d.getItem(key)

	return it.exp, ok
}

// Pop removes the entry under key and returns its value if it was live.
func (d *Dict[K, V]) Pop(key K) (V, bool) {
	d.lazyPack()

	it, found := d.items[key]
	if !found {
		var zero V
		return zero, false
	}

	delete(d.items, key)

	if !it.alive(d.time.Now()) {
		var zero V
		return zero, false
	}

	return it.value, true
}

// Remove deletes the entry under key. It returns false if there was no live
// entry.
func (d *Dict[K, V]) Remove(key K) bool {
	_, ok := d.Pop(key)

	return ok
}

// All iterates over the live entries in no particular order.
func (d *Dict[K, V]) All() iter.Seq2[K, V] {
	d.lazyPack()

	now := d.time.Now()
	keys := make([]K, 0, len(d.items))
	for k, it := range d.items {
		if it.alive(now) {
			keys = append(keys, k)
		}
	}

	return func(yield func(K, V) bool) {
		for _, k := range keys {
			it, ok := d.items[k]
			if !ok || !it.alive(d.time.Now()) {
				continue
			}

			if !yield(k, it.value) {
				return
			}
		}
	}
}

// Keys returns the keys of the live entries.
func (d *Dict[K, V]) Keys() []K {
	keys := make([]K, 0, len(d.items))
	for k := range d.All() {
		keys = append(keys, k)
	}

	return keys
}

// Len returns the number of live entries.
func (d *Dict[K, V]) Len() int {
	now := d.time.Now()
	n := 0

	for _, it := range d.items {
		if it.alive(now) {
			n++
		}
	}

	return n
}

// Size returns the number of stored entries, counting expired ones that were
// not purged yet.
func (d *Dict[K, V]) Size() int {
	return len(d.items)
}

// Pack purges every expired entry.
func (d *Dict[K, V]) Pack() {
	d.pack(d.time.Now())
}

// Clear removes every entry.
func (d *Dict[K, V]) Clear() {
	clear(d.items)
}

func (d *Dict[K, V]) getItem(key K) (item[V], bool) {
	d.lazyPack()

	it, ok := d.items[key]
	if !ok {
		return it, false
	}

	if !it.alive(d.time.Now()) {
		delete(d.items, key)
		return item[V]{}, false
	}

	return it, true
}

func (d *Dict[K, V]) lazyPack() {
	if now, ok := d.due(len(d.items)); ok {
		d.pack(now)
	}
}

func (d *Dict[K, V]) pack(now timing.VTimeInSec) {
	for k, it := range d.items {
		if !it.alive(now) {
			delete(d.items, k)
		}
	}

	d.done(now, len(d.items))
}
