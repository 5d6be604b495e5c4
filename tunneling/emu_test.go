package tunneling

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/hooking"
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

var _ = Describe("Tunneling over a bridge", func() {
	var (
		engine *timing.SerialEngine
		bridge *Bridge
		ctx    context.Context
	)

	newAgency := func(
		name string,
		backend *EmuBackend,
	) (*messaging.Coordinator, *Tunneling) {
		coord := messaging.MakeCoordinatorBuilder().
			WithEngine(engine).
			Build(name)
		tun := New(backend, nil)
		Expect(coord.AddBackend(ctx, tun, true)).To(Succeed())

		return coord, tun
	}

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		bridge = NewBridge(nil)
		ctx = context.Background()
	})

	It("should compute the wire version", func() {
		Expect(WireVersion(3, 5)).To(Equal(3))
		Expect(WireVersion(5, 3)).To(Equal(3))
		Expect(WireVersion(4, 4)).To(Equal(4))
	})

	Context("between two agencies", func() {
		var (
			coordA, coordB *messaging.Coordinator
			tunA, tunB     *Tunneling
			chA, chB       *messaging.Channel
			crossings      []BridgeCrossing
		)

		BeforeEach(func() {
			coordA, tunA = newAgency("A", NewEmuBackend(5, bridge, nil, nil))
			coordB, tunB = newAgency("B", NewEmuBackend(3, bridge, nil, nil))

			var err error
			chA, err = coordA.NewChannel("a1", "shard1")
			Expect(err).NotTo(HaveOccurred())
			chB, err = coordB.NewChannel("b1", "shard2")
			Expect(err).NotTo(HaveOccurred())

			crossings = nil
			bridge.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				crossings = append(crossings, ctx.Detail.(BridgeCrossing))
			}))

			Expect(coordA.CreateExternalRoute(ChannelType,
				messaging.ExternalRoute{
					Recipient: comm.Agent("b1", "shard2"),
					URI:       tunB.Route(),
				})).To(Succeed())
		})

		It("should deliver and learn the reply route", func() {
			var replies, requests []comm.Msg

			Expect(chB.RegisterInterest("request", "ping",
				messaging.HandlerFunc(func(msg comm.Msg) {
					requests = append(requests, msg)
					_, err := chB.Post(
						[]comm.Recipient{msg.Meta().ReplyTo}, pong(msg))
					Expect(err).NotTo(HaveOccurred())
				}), false)).To(Succeed())
			chA.RegisterProtocol("pinger", messaging.HandlerFunc(
				func(msg comm.Msg) { replies = append(replies, msg) }))

			_, err := chA.Post([]comm.Recipient{comm.Agent("b1", "shard2")},
				ping())
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Run()).To(Succeed())

			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Meta().ReplyTo).To(Equal(comm.Agent("a1", "shard1")))
			Expect(replies).To(HaveLen(1))
			Expect(replies[0]).To(BeAssignableToTypeOf(&comm.Response{}))

			learned := coordB.Routing().Lookup(
				comm.Agent("a1", "shard1").RoutingKey())
			Expect(learned).To(HaveLen(1))
			Expect(learned[0].Sink).To(BeIdenticalTo(tunB))

			Expect(crossings).To(HaveLen(2))
			for _, c := range crossings {
				Expect(c.WireVersion).To(Equal(3))
			}

			Expect(coordA.IsIdle()).To(BeTrue())
			Expect(coordB.IsIdle()).To(BeTrue())
		})

		It("should replace a route registered twice", func() {
			recp := comm.Agent("b1", "shard2")

			Expect(coordA.CreateExternalRoute(ChannelType,
				messaging.ExternalRoute{Recipient: recp, URI: "emu://moved"}),
			).To(Succeed())

			Expect(coordA.Routing().Lookup(recp.RoutingKey())).To(HaveLen(1))
			uri, _ := tunA.Backend().(*EmuBackend).URI(recp)
			Expect(uri).To(Equal("emu://moved"))
		})

		It("should remove routes", func() {
			recp := comm.Agent("b1", "shard2")
			route := messaging.ExternalRoute{Recipient: recp}

			Expect(coordA.RemoveExternalRoute(ChannelType, route)).To(Succeed())
			Expect(coordA.Routing().Lookup(recp.RoutingKey())).To(BeEmpty())
			Expect(tunA.RemoveExternalRoute(ChannelType, route)).To(BeTrue())
			Expect(tunA.RemoveExternalRoute("bus", route)).To(BeFalse())
		})

		It("should drop messages to unknown uris", func() {
			delivered := 0
			Expect(chB.RegisterInterest("request", "ping",
				messaging.HandlerFunc(func(comm.Msg) { delivered++ }),
				false)).To(Succeed())
			Expect(coordA.CreateExternalRoute(ChannelType,
				messaging.ExternalRoute{
					Recipient: comm.Agent("b1", "shard2"),
					URI:       "emu://nowhere",
				})).To(Succeed())

			_, err := chA.Post([]comm.Recipient{comm.Agent("b1", "shard2")},
				ping())
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Run()).To(Succeed())

			Expect(delivered).To(BeZero())
			Expect(bridge.IsIdle()).To(BeTrue())
		})

		It("should not deliver to a backend that left the bridge", func() {
			delivered := 0
			Expect(chB.RegisterInterest("request", "ping",
				messaging.HandlerFunc(func(comm.Msg) { delivered++ }),
				false)).To(Succeed())

			msg := ping()
			msg.ID = "m1"
			msg.Recipient = comm.Agent("b1", "shard2")
			msg.ExpirationTime = 10
			Expect(tunA.OnMessage(msg)).To(BeTrue())

			tunB.Disconnect()
			Expect(engine.Run()).To(Succeed())

			Expect(delivered).To(BeZero())
			Expect(bridge.Routes()).To(ConsistOf(tunA.Route()))
		})
	})

	It("should refuse recipients without uri", func() {
		_, tun := newAgency("A", NewEmuBackend(1, bridge, nil, nil))

		msg := ping()
		msg.Recipient = comm.Agent("stranger", "shard1")

		Expect(tun.OnMessage(msg)).To(BeFalse())
	})

	It("should not carry broadcasts", func() {
		_, tun := newAgency("A", NewEmuBackend(1, bridge, nil, nil))

		msg := ping()
		msg.Recipient = comm.Broadcast("ping", "shard1")

		Expect(tun.OnMessage(msg)).To(BeFalse())
	})

	It("should abort a delivery the codec can not carry", func() {
		_, tun := newAgency("A",
			NewEmuBackend(1, bridge, codec.NewRegistry(), nil))
		_, other := newAgency("B", NewEmuBackend(1, bridge, nil, nil))

		recp := comm.Agent("b1", "shard2")
		Expect(tun.CreateExternalRoute(ChannelType, messaging.ExternalRoute{
			Recipient: recp, URI: other.Route(),
		})).To(BeTrue())

		msg := ping()
		msg.Recipient = recp

		Expect(tun.OnMessage(msg)).To(BeFalse())
		Expect(tun.IsConnected()).To(BeTrue())
	})
})
