package expiring

import (
	"maps"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/agency/timing"
)

var _ = Describe("Dict", func() {
	var (
		clock *fakeClock
		dict  *Dict[string, int]
	)

	BeforeEach(func() {
		clock = &fakeClock{now: 10}
		dict = NewDict[string, int](clock, 0)
	})

	It("should hide expired entries", func() {
		dict.Set("a", 1, 11)
		dict.Set("b", 2, Never)
		dict.SetRelative("c", 3, 5)

		Expect(dict.Len()).To(Equal(3))

		clock.Advance(1)

		_, ok := dict.Get("a")
		Expect(ok).To(BeFalse())
		Expect(dict.Has("b")).To(BeTrue())
		Expect(dict.Len()).To(Equal(2))

		exp, ok := dict.Expiration("c")
		Expect(ok).To(BeTrue())
		Expect(exp).To(Equal(timing.VTimeInSec(15)))
	})

	It("should ignore entries that are already expired", func() {
		dict.Set("a", 1, 10)
		dict.Set("b", 1, 9)

		Expect(dict.Size()).To(Equal(0))
	})

	It("should pop and remove", func() {
		dict.Set("a", 1, Never)
		dict.Set("b", 2, 12)

		v, ok := dict.Pop("a")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))

		clock.Advance(5)
		Expect(dict.Remove("b")).To(BeFalse())
		Expect(dict.Remove("missing")).To(BeFalse())
		Expect(dict.Size()).To(Equal(0))
	})

	It("should iterate over live entries only", func() {
		dict.Set("a", 1, 11)
		dict.Set("b", 2, 20)
		clock.Advance(2)

		Expect(maps.Collect(dict.All())).To(Equal(map[string]int{"b": 2}))
		Expect(dict.Keys()).To(ConsistOf("b"))
	})

	It("should pack lazily once it grows past its average size", func() {
		small := NewDict[int, int](clock, 4)
		for i := 0; i < 6; i++ {
			small.Set(i, i, 10.5)
		}
		Expect(small.Size()).To(Equal(6))

		clock.Advance(1)
		small.Set(100, 100, Never)
		Expect(small.Size()).To(Equal(1))

		for i := 0; i < 10; i++ {
			small.Set(i, i, 11.2)
		}
		clock.Advance(0.5)
		small.Set(200, 200, Never)
		Expect(small.Size()).To(Equal(12), "packing is rate limited")
	})

	It("should keep Len consistent with a full pack", func() {
		rng := rand.New(rand.NewSource(1))
		live := map[int]timing.VTimeInSec{}
		dict := NewDict[int, int](clock, 0)

		for step := 0; step < 500; step++ {
			key := rng.Intn(50)

			switch rng.Intn(3) {
			case 0:
				exp := clock.now + timing.VTimeInSec(rng.Float64()*5)
				if rng.Intn(5) == 0 {
					exp = Never
				}
				dict.Set(key, 0, exp)
				if exp > clock.now {
					live[key] = exp
				}
			case 1:
				dict.Pop(key)
				delete(live, key)
			case 2:
				clock.Advance(timing.VTimeInSec(rng.Float64()))
			}

			for k, exp := range live {
				if exp <= clock.now {
					delete(live, k)
				}
			}

			Expect(dict.Len()).To(Equal(len(live)))
		}

		dict.Pack()
		Expect(dict.Size()).To(Equal(len(live)))
		Expect(dict.Keys()).To(ConsistOf(keysOf(live)))
	})
})

func keysOf(m map[int]timing.VTimeInSec) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	return keys
}
