package comm

import "maps"

// Base is a message with no conversation semantics.
type Base struct {
	MsgMeta
	Payload map[string]any `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// Meta returns the routing metadata.
func (m *Base) Meta() *MsgMeta {
	return &m.MsgMeta
}

// Clone returns a copy of the message.
func (m *Base) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Dialog is the base of every message that belongs to a conversation.
type Dialog struct {
	Base
}

func (*Dialog) dialogMsg() {}

// Clone returns a copy of the message.
func (m *Dialog) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// DuplicationRecipient returns the ReplyTo of the message.
func (m *Dialog) DuplicationRecipient() (Recipient, bool) {
	return m.ReplyTo, !m.ReplyTo.IsZero()
}

// DuplicationMsg builds the Duplicate sent back when the message reached an
// agent that had already seen its traversal.
func (m *Dialog) DuplicationMsg() Msg {
	d := &Duplicate{}
	d.ReceiverID = m.SenderID
	d.ProtocolType = m.ProtocolType
	d.ProtocolID = m.ProtocolID
	d.ExpirationTime = m.ExpirationTime

	return d
}

// First marks a message as the opener of a multi-hop protocol.
type First struct{}

func (First) firstMsg() {}

// Duplicate tells a sender that its message had already reached the agent.
type Duplicate struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *Duplicate) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Announcement opens a contract.
type Announcement struct {
	Dialog
	First

	Level       int `json:"level" cbor:"level"`
	MaxDistance int `json:"max_distance" cbor:"max_distance"`
}

// Clone returns a copy of the message.
func (m *Announcement) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Bid answers an announcement.
type Bid struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *Bid) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Refusal declines an announcement.
type Refusal struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *Refusal) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Grant accepts a bid.
type Grant struct {
	Dialog

	UpdateReport int `json:"update_report,omitempty" cbor:"update_report,omitempty"`
}

// Clone returns a copy of the message.
func (m *Grant) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Rejection declines a bid.
type Rejection struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *Rejection) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Cancellation ends a granted contract early.
type Cancellation struct {
	Dialog

	Reason string `json:"reason,omitempty" cbor:"reason,omitempty"`
}

// Clone returns a copy of the message.
func (m *Cancellation) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Acknowledgement confirms a report or a cancellation.
type Acknowledgement struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *Acknowledgement) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// UpdateReport tells the grantor about progress.
type UpdateReport struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *UpdateReport) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// FinalReport tells the grantor that the contract is fulfilled.
type FinalReport struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *FinalReport) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Request opens a request/response exchange.
type Request struct {
	Dialog
	First
}

// Clone returns a copy of the message.
func (m *Request) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Response answers a request.
type Response struct {
	Dialog
}

// Clone returns a copy of the message.
func (m *Response) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}

// Notification is a one-way message that may be forwarded over several hops.
type Notification struct {
	Base
	First
}

// Clone returns a copy of the message.
func (m *Notification) Clone() Msg {
	c := *m
	c.Payload = maps.Clone(m.Payload)

	return &c
}
