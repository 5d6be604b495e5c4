package comm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Recipient", func() {
	It("should resolve to a structural routing key", func() {
		a := Agent("a1", "shard1")
		b := Broadcast("a1", "shard1")

		Expect(a.RoutingKey()).To(Equal(RoutingKey{Key: "a1", Shard: "shard1"}))
		Expect(a.RoutingKey()).To(Equal(b.RoutingKey()))
		Expect(a).NotTo(Equal(b))
		Expect(Recipient{}.IsZero()).To(BeTrue())
		Expect(a.String()).To(Equal("agent:a1@shard1"))
	})
})

var _ = Describe("Messages", func() {
	It("should clone without sharing the payload", func() {
		msg := &Announcement{Level: 2}
		msg.Payload = map[string]any{"x": 1}
		msg.Recipient = Agent("a1", "s")

		clone := msg.Clone().(*Announcement)
		clone.Payload["x"] = 2
		clone.Recipient = Agent("a2", "s")

		Expect(msg.Payload["x"]).To(Equal(1))
		Expect(msg.Recipient.Key).To(Equal("a1"))
		Expect(clone.Level).To(Equal(2))
	})

	It("should classify message kinds", func() {
		var announcement Msg = &Announcement{}
		var notification Msg = &Notification{}
		var response Msg = &Response{}

		_, ok := announcement.(FirstMsg)
		Expect(ok).To(BeTrue())
		_, ok = announcement.(DialogMsg)
		Expect(ok).To(BeTrue())

		_, ok = notification.(FirstMsg)
		Expect(ok).To(BeTrue())
		_, ok = notification.(Duplicable)
		Expect(ok).To(BeFalse())

		_, ok = response.(FirstMsg)
		Expect(ok).To(BeFalse())
	})

	It("should build duplication notices for the sender", func() {
		msg := &Request{}
		msg.SenderID = "sender-session"
		msg.ProtocolType = "Request"
		msg.ProtocolID = "ping"
		msg.ExpirationTime = 42
		msg.ReplyTo = Agent("a1", "s")

		recp, ok := msg.DuplicationRecipient()
		Expect(ok).To(BeTrue())
		Expect(recp).To(Equal(Agent("a1", "s")))

		dup := msg.DuplicationMsg().(*Duplicate)
		Expect(dup.ReceiverID).To(Equal("sender-session"))
		Expect(dup.ProtocolID).To(Equal("ping"))
		Expect(dup.ProtocolType).To(Equal("Request"))
		Expect(dup.ExpirationTime).To(Equal(42.0))
	})
})
