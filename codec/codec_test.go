package codec

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/agency/comm"
)

type unregistered struct {
	comm.Base
}

func sampleAnnouncement() *comm.Announcement {
	msg := &comm.Announcement{Level: 2, MaxDistance: 3}
	msg.ID = "m1"
	msg.TraversalID = "t1"
	msg.SenderID = "contractor"
	msg.ProtocolType = "contract"
	msg.ProtocolID = "cfp"
	msg.Recipient = comm.Broadcast("cfp", "shard1")
	msg.ReplyTo = comm.Agent("a1", "shard1")
	msg.ExpirationTime = 12.5
	msg.Payload = map[string]any{"task": "build"}

	return msg
}

// renameDepth covers "depth" being renamed "level" in version 2.
var renameDepth = Adapter{
	Type:    "announcement",
	Version: 2,
	Upgrade: func(body map[string]any) error {
		body["level"] = body["depth"]
		delete(body, "depth")
		return nil
	},
	Downgrade: func(body map[string]any) error {
		body["depth"] = body["level"]
		delete(body, "level")
		return nil
	},
}

var _ = Describe("Codec", func() {
	for _, format := range []Format{JSON, CBOR} {
		It("should keep a message intact in "+format.Name(), func() {
			c := New(DefaultRegistry(), format, CurrentVersion)
			msg := sampleAnnouncement()

			data, err := c.Encode(msg, CurrentVersion)
			Expect(err).NotTo(HaveOccurred())

			decoded, err := c.Decode(data)
			Expect(err).NotTo(HaveOccurred())

			got, ok := decoded.(*comm.Announcement)
			Expect(ok).To(BeTrue())
			Expect(got.MsgMeta).To(Equal(msg.MsgMeta))
			Expect(got.Level).To(Equal(2))
			Expect(got.MaxDistance).To(Equal(3))
			Expect(got.Payload).To(HaveKeyWithValue("task", "build"))
		})
	}

	It("should produce the same CBOR bytes for equal messages", func() {
		c := New(DefaultRegistry(), CBOR, CurrentVersion)

		a, err := c.Encode(sampleAnnouncement(), CurrentVersion)
		Expect(err).NotTo(HaveOccurred())
		b, err := c.Encode(sampleAnnouncement(), CurrentVersion)
		Expect(err).NotTo(HaveOccurred())

		Expect(a).To(Equal(b))
	})

	It("should refuse unregistered types", func() {
		c := New(DefaultRegistry(), JSON, CurrentVersion)

		_, err := c.Encode(&unregistered{}, CurrentVersion)

		Expect(errors.Is(err, ErrUnknownType)).To(BeTrue())
	})

	It("should refuse envelopes of unknown types", func() {
		c := New(DefaultRegistry(), JSON, CurrentVersion)

		_, err := c.Decode([]byte(`{"type":"telegram","version":1,"body":{}}`))

		Expect(errors.Is(err, ErrUnknownType)).To(BeTrue())
	})

	It("should refuse envelopes newer than itself", func() {
		c := New(DefaultRegistry(), JSON, 1)

		_, err := c.Decode([]byte(`{"type":"bid","version":2,"body":{}}`))
		Expect(errors.Is(err, ErrVersionTooNew)).To(BeTrue())

		_, err = c.Encode(&comm.Bid{}, 2)
		Expect(errors.Is(err, ErrVersionTooNew)).To(BeTrue())
	})

	It("should refuse garbage", func() {
		c := New(DefaultRegistry(), CBOR, CurrentVersion)

		_, err := c.Decode([]byte{0xff, 0x00})

		Expect(errors.Is(err, ErrInvalidEnvelope)).To(BeTrue())
	})

	Context("with adapters", func() {
		var c *Codec

		BeforeEach(func() {
			c = New(DefaultRegistry(), JSON, 2)
			c.AddAdapter(renameDepth)
		})

		It("should downgrade for older readers", func() {
			data, err := c.Encode(sampleAnnouncement(), 1)
			Expect(err).NotTo(HaveOccurred())

			typ, version, err := c.Peek(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(typ).To(Equal("announcement"))
			Expect(version).To(Equal(1))

			var env Envelope
			Expect(JSON.Unmarshal(data, &env)).To(Succeed())
			Expect(env.Body).To(HaveKey("depth"))
			Expect(env.Body).NotTo(HaveKey("level"))
		})

		It("should upgrade bodies written for older readers", func() {
			data, err := c.Encode(sampleAnnouncement(), 1)
			Expect(err).NotTo(HaveOccurred())

			decoded, err := c.Decode(data)

			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.(*comm.Announcement).Level).To(Equal(2))
		})

		It("should leave bodies of its own version alone", func() {
			older := c.WithVersion(1)
			data, err := older.Encode(sampleAnnouncement(), 1)
			Expect(err).NotTo(HaveOccurred())

			var env Envelope
			Expect(JSON.Unmarshal(data, &env)).To(Succeed())
			Expect(env.Body).To(HaveKey("level"))
		})

		It("should not touch other types", func() {
			data, err := c.Encode(&comm.Bid{}, 1)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Decode(data)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
