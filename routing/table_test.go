package routing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/hooking"
	"go.uber.org/mock/gomock"
)

func msgTo(r comm.Recipient) comm.Msg {
	msg := &comm.Base{}
	msg.ID = "m1"
	msg.Recipient = r

	return msg
}

var _ = Describe("Table", func() {
	var (
		mockCtrl *gomock.Controller
		outgoing *MockSink
		t        Table
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		outgoing = NewMockSink(mockCtrl)
		t = NewTable(nil)
		t.SetOutgoingSink(outgoing)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should deliver unicast to the final route only", func() {
		agent := NewMockSink(mockCtrl)
		recp := comm.Agent("a1", "shard1")
		msg := msgTo(recp)

		t.AppendRoute(NewRoute(agent, recp.RoutingKey(), LocalPriority, true))
		agent.EXPECT().OnMessage(msg).Return(true).Times(1)

		Expect(t.Dispatch(msg, true)).To(Equal(1))
	})

	It("should fall through a final route that refuses", func() {
		agent := NewMockSink(mockCtrl)
		recp := comm.Agent("a1", "shard1")
		msg := msgTo(recp)

		t.AppendRoute(NewRoute(agent, recp.RoutingKey(), LocalPriority, true))
		agent.EXPECT().OnMessage(msg).Return(false)
		outgoing.EXPECT().OnMessage(msg).Return(true)

		Expect(t.Dispatch(msg, true)).To(Equal(1))
	})

	It("should deliver broadcast to every interested sink and outgoing", func() {
		recp := comm.Broadcast("proto", "shard1")
		msg := msgTo(recp)

		for i := 0; i < 3; i++ {
			sink := NewMockSink(mockCtrl)
			sink.EXPECT().OnMessage(msg).Return(true).Times(1)
			t.AppendRoute(NewRoute(sink, recp.RoutingKey(), LocalPriority, false))
		}
		outgoing.EXPECT().OnMessage(msg).Return(true).Times(1)

		Expect(t.Dispatch(msg, true)).To(Equal(4))
	})

	It("should give every sink its own copy of the message", func() {
		recp := comm.Broadcast("proto", "shard1")
		msg := &comm.Base{}
		msg.ID = "m1"
		msg.Recipient = recp
		msg.ProtocolType = "proto"
		msg.Payload = map[string]any{"bid": 1}

		meddler := NewMockSink(mockCtrl)
		meddler.EXPECT().OnMessage(gomock.Any()).
			DoAndReturn(func(m comm.Msg) bool {
				m.Meta().ProtocolType = "tampered"
				m.(*comm.Base).Payload["bid"] = 99
				return true
			})
		t.AppendRoute(NewRoute(meddler, recp.RoutingKey(), LocalPriority, false))

		var seen []comm.Msg
		keep := func(m comm.Msg) bool {
			seen = append(seen, m)
			return true
		}
		other := NewMockSink(mockCtrl)
		other.EXPECT().OnMessage(gomock.Any()).DoAndReturn(keep)
		t.AppendRoute(NewRoute(other, recp.RoutingKey(), LocalPriority, false))
		outgoing.EXPECT().OnMessage(gomock.Any()).DoAndReturn(keep)

		Expect(t.Dispatch(msg, true)).To(Equal(3))

		Expect(seen).To(HaveLen(2))
		for _, m := range append(seen, msg) {
			Expect(m.Meta().ProtocolType).To(Equal("proto"))
			Expect(m.(*comm.Base).Payload).To(HaveKeyWithValue("bid", 1))
		}
	})

	It("should not use the outgoing sink for incoming traffic", func() {
		recp := comm.Broadcast("proto", "shard1")
		msg := msgTo(recp)
		sink := NewMockSink(mockCtrl)
		sink.EXPECT().OnMessage(msg).Return(true)
		t.AppendRoute(NewRoute(sink, recp.RoutingKey(), LocalPriority, false))

		Expect(t.Dispatch(msg, false)).To(Equal(1))
	})

	It("should try routes by priority and then by registration order", func() {
		key := comm.RoutingKey{Key: "k", Shard: "s"}
		msg := msgTo(comm.Broadcast("k", "s"))
		late := NewMockSink(mockCtrl)
		first := NewMockSink(mockCtrl)
		second := NewMockSink(mockCtrl)

		t.AppendRoute(NewRoute(late, key, 5, false))
		t.AppendRoute(NewRoute(first, key, 1, false))
		t.AppendRoute(NewRoute(second, key, 1, false))

		c1 := first.EXPECT().OnMessage(msg).Return(true)
		c2 := second.EXPECT().OnMessage(msg).Return(true).After(c1)
		c3 := late.EXPECT().OnMessage(msg).Return(true).After(c2)
		outgoing.EXPECT().OnMessage(msg).Return(true).After(c3)

		Expect(t.Dispatch(msg, true)).To(Equal(4))
	})

	It("should keep delivering when a sink panics", func() {
		key := comm.RoutingKey{Key: "k", Shard: "s"}
		msg := msgTo(comm.Broadcast("k", "s"))
		broken := NewMockSink(mockCtrl)
		healthy := NewMockSink(mockCtrl)
		failures := 0

		t.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == HookPosSinkFailed {
				failures++
			}
		}))
		t.AppendRoute(NewRoute(broken, key, 0, false))
		t.AppendRoute(NewRoute(healthy, key, 0, false))

		broken.EXPECT().OnMessage(msg).DoAndReturn(func(comm.Msg) bool {
			panic("boom")
		})
		healthy.EXPECT().OnMessage(msg).Return(true)

		Expect(t.Dispatch(msg, false)).To(Equal(1))
		Expect(failures).To(Equal(1))
	})

	It("should remove routes", func() {
		sink := NewMockSink(mockCtrl)
		recp := comm.Agent("a1", "shard1")
		route := NewRoute(sink, recp.RoutingKey(), LocalPriority, true)

		t.AppendRoute(route)
		Expect(t.Routes()).To(ConsistOf(route))
		Expect(t.RemoveRoute(route)).To(BeTrue())
		Expect(t.RemoveRoute(route)).To(BeFalse())
		Expect(t.Routes()).To(BeEmpty())

		msg := msgTo(recp)
		outgoing.EXPECT().OnMessage(msg).Return(true)
		Expect(t.Dispatch(msg, true)).To(Equal(1))
	})
})

var _ = Describe("Table sink removal", func() {
	var (
		mockCtrl *gomock.Controller
		t        Table
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		t = NewTable(nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should remove every route of a sink", func() {
		backend := NewMockSink(mockCtrl)
		other := NewMockSink(mockCtrl)
		k1 := comm.RoutingKey{Key: "a", Shard: "s"}
		k2 := comm.RoutingKey{Key: "b", Shard: "s"}

		t.SetOutgoingSink(backend)
		t.AppendRoute(NewRoute(backend, k1, TunnelPriority, true))
		t.AppendRoute(NewRoute(backend, k2, TunnelPriority, true))
		kept := NewRoute(other, k2, LocalPriority, false)
		t.AppendRoute(kept)

		Expect(t.RemoveSink(backend)).To(Equal(3))
		Expect(t.OutgoingSink()).To(BeNil())
		Expect(t.Lookup(k2)).To(ConsistOf(kept))
		Expect(t.Lookup(k1)).To(BeEmpty())
	})
})
