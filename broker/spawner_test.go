package broker

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Spawner", func() {
	It("should start, report, and stop workers", func() {
		// sh ignores the worker arguments after the script.
		s := NewSpawner("/bin/sh", []string{"-c", "sleep 30"},
			"/tmp/agency.sock", nil)
		DeferCleanup(s.Stop)

		Expect(s.Spawn(2)).To(Succeed())

		stats := s.Stats()
		Expect(stats).To(HaveLen(2))
		Expect(stats[0].ID).NotTo(Equal(stats[1].ID))
		for _, st := range stats {
			Expect(st.Running).To(BeTrue())
			Expect(st.PID).To(BeNumerically(">", 0))
		}

		s.Stop()

		for _, st := range s.Stats() {
			Expect(st.Running).To(BeFalse())
		}
	})

	It("should kill workers that ignore termination", func() {
		s := NewSpawner("/bin/sh",
			[]string{"-c", "trap '' TERM; exec sleep 30"},
			"/tmp/agency.sock", nil)
		s.stopTimeout = 200 * time.Millisecond

		Expect(s.Spawn(1)).To(Succeed())
		// Give the shell time to install the trap.
		time.Sleep(300 * time.Millisecond)

		start := time.Now()
		s.Stop()

		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
		Expect(s.Stats()).To(HaveLen(1))
		Expect(s.Stats()[0].Running).To(BeFalse())
	})

	It("should fail to spawn a missing executable", func() {
		s := NewSpawner("/nonexistent/agencyd", nil, "/tmp/agency.sock", nil)

		Expect(s.Spawn(1)).NotTo(Succeed())
		Expect(s.Stats()).To(BeEmpty())
	})
})
