// Package expiring provides a map and a priority queue whose entries vanish
// once their expiration time has passed.
package expiring

import (
	"math"

	"github.com/sarchlab/agency/timing"
)

// DefaultMaxSize seeds the running average used to decide when to pack.
const DefaultMaxSize = 100

const (
	packThreshold   = 1.25
	minPackInterval = timing.VTimeInSec(1)
)

// Never is the expiration of entries that do not expire.
var Never = timing.VTimeInSec(math.Inf(1))

type item[V any] struct {
	exp   timing.VTimeInSec
	pri   int64
	seq   uint64
	value V
}

func newItem[V any](exp timing.VTimeInSec, value V) item[V] {
	return item[V]{exp: exp, pri: priority(exp), value: value}
}

func (i item[V]) alive(now timing.VTimeInSec) bool {
	return math.IsInf(i.exp, 1) || i.exp > now
}

// priority rounds the expiration to milliseconds. Entries that never expire
// sort last.
func priority(exp timing.VTimeInSec) int64 {
	if math.IsInf(exp, 1) {
		return math.MaxInt64
	}

	return int64(math.Round(exp * 1000))
}

type runningAverage struct {
	defaultValue float64
	sum          float64
	count        int
}

func (a *runningAverage) value() float64 {
	if a.count == 0 {
		return a.defaultValue
	}

	return a.sum / float64(a.count)
}

func (a *runningAverage) add(v float64) {
	a.sum += v
	a.count++
}

// packer decides when a container has grown enough to be worth a full purge.
type packer struct {
	time     timing.TimeTeller
	maxSize  runningAverage
	lastPack timing.VTimeInSec
	packed   bool
}

func newPacker(tt timing.TimeTeller, maxSize int) packer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return packer{
		time:    tt,
		maxSize: runningAverage{defaultValue: float64(maxSize)},
	}
}

func (p *packer) due(size int) (timing.VTimeInSec, bool) {
	if float64(size) <= p.maxSize.value()*packThreshold {
		return 0, false
	}

	now := p.time.Now()
	if p.packed && now-p.lastPack < minPackInterval {
		return now, false
	}

	return now, true
}

func (p *packer) done(now timing.VTimeInSec, size int) {
	p.lastPack = now
	p.packed = true
	p.maxSize.add(float64(size))
}

func absolute(
	tt timing.TimeTeller,
	delay timing.VTimeInSec,
) timing.VTimeInSec {
	if math.IsInf(delay, 1) {
		return Never
	}

	return tt.Now() + delay
}
