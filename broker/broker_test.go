package broker

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/agency/backoff"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/timing"
)

func ping() *comm.Request {
	msg := &comm.Request{}
	msg.ProtocolType = "request"
	msg.ProtocolID = "ping"
	msg.SenderID = "pinger"

	return msg
}

func pong(req comm.Msg) *comm.Response {
	msg := &comm.Response{}
	msg.ProtocolType = "request"
	msg.ProtocolID = "ping"
	msg.ReceiverID = req.Meta().SenderID

	return msg
}

func socketPath() string {
	dir, err := os.MkdirTemp("", "agency")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, dir)

	return filepath.Join(dir, "broker.sock")
}

var fastRetry = backoff.Policy{Initial: 0.05, Factor: 1, Max: 0.05}

var _ = Describe("Election", func() {
	var path string

	BeforeEach(func() {
		path = socketPath()
	})

	elect := func() (messaging.Backend, Role) {
		b, role, err := MakeBuilder().
			WithSocketPath(path).
			Build().
			Elect(context.Background())
		Expect(err).NotTo(HaveOccurred())

		return b, role
	}

	It("should make the first process the master", func() {
		b, role := elect()
		defer b.Disconnect()

		Expect(role).To(Equal(RoleMaster))
		Expect(b).To(BeAssignableToTypeOf(&Master{}))
		Expect(path).To(BeAnExistingFile())
	})

	It("should make the next process a slave", func() {
		master, _ := elect()
		defer master.Disconnect()

		b, role := elect()

		Expect(role).To(Equal(RoleSlave))
		slave := b.(*Slave)
		Expect(slave.probe).NotTo(BeNil())
		Expect(slave.WorkerID()).NotTo(BeEmpty())
		Expect(slave.probe.Close()).To(Succeed())
	})

	It("should take over a stale socket", func() {
		l, err := net.Listen("unix", path)
		Expect(err).NotTo(HaveOccurred())
		l.(*net.UnixListener).SetUnlinkOnClose(false)
		Expect(l.Close()).To(Succeed())
		Expect(path).To(BeAnExistingFile())

		b, role := elect()
		defer b.Disconnect()

		Expect(role).To(Equal(RoleMaster))
	})

	It("should refuse to build without a socket path", func() {
		Expect(func() { MakeBuilder().Build() }).To(Panic())
	})
})

var _ = Describe("Broker", func() {
	var (
		path    string
	)

	onLoop := func(engine timing.Engine, fn func()) {
		finished := make(chan struct{})
		engine.CallNext(func() {
			defer close(finished)
			defer GinkgoRecover()
			fn()
		})
		Eventually(finished).Should(BeClosed())
	}

	startEngine := func() *timing.RealTimeEngine {
		engine := timing.NewRealTimeEngine()
		done := make(chan struct{})

		go func() {
			defer close(done)
			_ = engine.Run()
		}()

		DeferCleanup(func() {
			engine.Stop()
			Eventually(done).Should(BeClosed())
		})

		return engine
	}

	newAgency := func(name string, wantRole Role) *messaging.Coordinator {
		engine := startEngine()

		var coord *messaging.Coordinator
		onLoop(engine, func() {
			coord = messaging.MakeCoordinatorBuilder().
				WithEngine(engine).
				Build(name)

			backend, role, err := MakeBuilder().
				WithSocketPath(path).
				WithWorkerID(name).
				WithRetryPolicy(fastRetry).
				Build().
				Elect(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(role).To(Equal(wantRole))

			Expect(coord.AddBackend(context.Background(), backend,
				role == RoleSlave)).To(Succeed())
		})

		return coord
	}

	routesTo := func(coord *messaging.Coordinator, key comm.RoutingKey) func() int {
		return func() int {
			n := 0
			onLoop(coord.Engine(), func() {
				n = len(coord.Routing().Lookup(key))
			})

			return n
		}
	}

	BeforeEach(func() {
		path = socketPath()
	})

	It("should route between the master and a worker", func() {
		master := newAgency("master", RoleMaster)
		worker := newAgency("w1", RoleSlave)

		requests := make(chan comm.Msg, 1)
		replies := make(chan comm.Msg, 1)

		onLoop(worker.Engine(), func() {
			ch, err := worker.NewChannel("a2", "shard1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ch.RegisterInterest("request", "ping",
				messaging.HandlerFunc(func(msg comm.Msg) {
					requests <- msg
					_, _ = ch.Post(
						[]comm.Recipient{msg.Meta().ReplyTo}, pong(msg))
				}), false)).To(Succeed())
		})

		a2 := comm.RoutingKey{Key: "a2", Shard: "shard1"}
		Eventually(routesTo(master, a2), 5*time.Second).Should(Equal(1))

		onLoop(master.Engine(), func() {
			ch, err := master.NewChannel("a1", "shard1")
			Expect(err).NotTo(HaveOccurred())
			ch.RegisterProtocol("pinger", messaging.HandlerFunc(
				func(msg comm.Msg) { replies <- msg }))

			_, err = ch.Post([]comm.Recipient{comm.Agent("a2", "shard1")},
				ping())
			Expect(err).NotTo(HaveOccurred())
		})

		Eventually(requests, 5*time.Second).Should(Receive())
		Eventually(replies, 5*time.Second).Should(Receive())

		onLoop(master.Engine(), func() {
			workers := master.Backends()[0].(*Master).Workers()
			Expect(workers).To(HaveLen(1))
			Expect(workers[0].ID).To(Equal("w1"))
			Expect(workers[0].Keys).To(ContainElement(a2))
		})

		onLoop(worker.Engine(), func() { worker.Disconnect() })
		Eventually(routesTo(master, a2), 5*time.Second).Should(BeZero())

		onLoop(master.Engine(), func() { master.Disconnect() })
	})

	It("should replay the bindings after the master came back", func() {
		master := newAgency("master", RoleMaster)
		worker := newAgency("w1", RoleSlave)

		onLoop(worker.Engine(), func() {
			_, err := worker.NewChannel("a2", "shard1")
			Expect(err).NotTo(HaveOccurred())
		})

		a2 := comm.RoutingKey{Key: "a2", Shard: "shard1"}
		Eventually(routesTo(master, a2), 5*time.Second).Should(Equal(1))

		onLoop(master.Engine(), func() { master.Disconnect() })
		Eventually(func() bool {
			connected := true
			onLoop(worker.Engine(), func() {
				connected = worker.IsConnected()
			})

			return connected
		}, 5*time.Second).Should(BeFalse())

		revived := newAgency("revived", RoleMaster)
		Eventually(routesTo(revived, a2), 5*time.Second).Should(Equal(1))

		onLoop(worker.Engine(), func() {
			Expect(worker.IsConnected()).To(BeTrue())
			worker.Disconnect()
		})
		onLoop(revived.Engine(), func() { revived.Disconnect() })
	})
})
