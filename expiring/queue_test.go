package expiring

import (
	"slices"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Queue", func() {
	var (
		clock *fakeClock
		queue *Queue[string]
	)

	BeforeEach(func() {
		clock = &fakeClock{now: 0}
		queue = NewQueue[string](clock, 0)
	})

	It("should pop by expiration", func() {
		queue.Add("never", Never)
		queue.Add("late", 3)
		queue.Add("early", 1)
		queue.AddRelative("middle", 2)

		var popped []string
		for {
			v, ok := queue.Pop()
			if !ok {
				break
			}
			popped = append(popped, v)
		}

		Expect(popped).To(Equal([]string{"early", "middle", "late", "never"}))
	})

	It("should order by millisecond-rounded expiration then insertion", func() {
		queue.Add("first", 1.0001)
		queue.Add("second", 1.0)

		v, _ := queue.Pop()
		Expect(v).To(Equal("first"))
	})

	It("should skip and report expired values", func() {
		var expired []string
		queue.OnExpire(func(v string) { expired = append(expired, v) })

		queue.Add("a", 1)
		queue.Add("b", 5)
		clock.Advance(2)

		v, ok := queue.Peek()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("b"))
		Expect(expired).To(Equal([]string{"a"}))
		Expect(queue.Len()).To(Equal(1))
	})

	It("should report emptiness without failing", func() {
		_, ok := queue.Pop()
		Expect(ok).To(BeFalse())

		queue.Add("a", 1)
		clock.Advance(1)

		_, ok = queue.Pop()
		Expect(ok).To(BeFalse())
	})

	It("should iterate over the same values after a pack", func() {
		queue.Add("a", 1)
		queue.Add("b", 4)
		queue.Add("c", Never)
		clock.Advance(2)

		before := slices.Collect(queue.All())
		Expect(queue.Len()).To(Equal(2))

		queue.Pack()
		Expect(queue.Size()).To(Equal(2))
		Expect(slices.Collect(queue.All())).To(ConsistOf(before))
	})
})
