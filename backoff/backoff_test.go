package backoff

import (
	"math"
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/agency/timing"
)

var steady = Policy{Initial: 1, Factor: math.E, Max: 600}

var _ = Describe("Policy", func() {
	It("should grow by the factor up to the ceiling", func() {
		var delay timing.VTimeInSec
		var delays []timing.VTimeInSec

		for i := 0; i < 8; i++ {
			delay = steady.Next(delay, nil)
			delays = append(delays, delay)
		}

		Expect(delays[0]).To(BeNumerically("~", math.E, 1e-9))
		Expect(delays[1]).To(BeNumerically("~", math.E*math.E, 1e-9))
		Expect(delays[7]).To(Equal(timing.VTimeInSec(600)))
	})

	It("should keep jittered delays around the nominal value", func() {
		r := rand.New(rand.NewPCG(1, 2))

		for i := 0; i < 100; i++ {
			delay := DefaultPolicy.Next(100, r)
			Expect(delay).To(BeNumerically(">", 100*math.E*0.4))
			Expect(delay).To(BeNumerically("<", 100*math.E*1.6))
		}
	})

	It("should replace the ceiling only with a positive one", func() {
		Expect(DefaultPolicy.WithMax(30).Max).To(Equal(timing.VTimeInSec(30)))
		Expect(DefaultPolicy.WithMax(0).Max).To(Equal(timing.VTimeInSec(600)))
	})
})

var _ = Describe("Retrier", func() {
	var (
		engine  *timing.SerialEngine
		retrier *Retrier[string]
	)

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		retrier = NewRetrier[string](engine, steady, nil)
	})

	It("should run the retry after the delay", func() {
		var ranAt timing.VTimeInSec

		delay := retrier.Schedule("peer", func() { ranAt = engine.Now() })

		Expect(retrier.Pending("peer")).To(BeTrue())
		Expect(engine.Run()).To(Succeed())
		Expect(ranAt).To(Equal(delay))
		Expect(retrier.Pending("peer")).To(BeFalse())
		Expect(retrier.Len()).To(Equal(0))
	})

	It("should cancel the previous timer of a key", func() {
		calls := 0

		first := retrier.Schedule("peer", func() { calls += 10 })
		second := retrier.Schedule("peer", func() { calls++ })

		Expect(second).To(BeNumerically(">", first))
		Expect(engine.Run()).To(Succeed())
		Expect(calls).To(Equal(1))
	})

	It("should keep keys apart", func() {
		calls := map[string]int{}

		retrier.Schedule("a", func() { calls["a"]++ })
		retrier.Schedule("b", func() { calls["b"]++ })
		retrier.Reset("a")

		Expect(engine.Run()).To(Succeed())
		Expect(calls).To(Equal(map[string]int{"b": 1}))
		Expect(retrier.Delay("a")).To(BeZero())
	})

	It("should cancel everything", func() {
		calls := 0
		retrier.Schedule("a", func() { calls++ })
		retrier.Schedule("b", func() { calls++ })

		retrier.CancelAll()

		Expect(engine.Run()).To(Succeed())
		Expect(calls).To(BeZero())
		Expect(retrier.Len()).To(BeZero())
	})
})
