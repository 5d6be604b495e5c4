package comm

import "github.com/sarchlab/agency/timing"

// MsgMeta holds the routing metadata of a message. Nothing else of a message
// is looked at while routing.
type MsgMeta struct {
	ID             string            `json:"message_id" cbor:"message_id"`
	TraversalID    string            `json:"traversal_id,omitempty" cbor:"traversal_id,omitempty"`
	SenderID       string            `json:"sender_id,omitempty" cbor:"sender_id,omitempty"`
	ReceiverID     string            `json:"receiver_id,omitempty" cbor:"receiver_id,omitempty"`
	ProtocolType   string            `json:"protocol_type,omitempty" cbor:"protocol_type,omitempty"`
	ProtocolID     string            `json:"protocol_id,omitempty" cbor:"protocol_id,omitempty"`
	Recipient      Recipient         `json:"recipient" cbor:"recipient"`
	ReplyTo        Recipient         `json:"reply_to" cbor:"reply_to"`
	ExpirationTime timing.VTimeInSec `json:"expiration_time" cbor:"expiration_time"`
}

// A Msg is anything that can be posted through a Channel.
type Msg interface {
	Meta() *MsgMeta

	// Clone returns a copy that can be changed without affecting the
	// original.
	Clone() Msg
}

// A DialogMsg takes part in a conversation. Answers to it are addressed to
// its ReplyTo recipient. Embed Dialog to implement it.
type DialogMsg interface {
	Msg
	dialogMsg()
}

// A FirstMsg opens a protocol that may travel over several hops. It carries a
// TraversalID so that re-entering an already visited agent can be detected.
// Embed First to implement it.
type FirstMsg interface {
	Msg
	firstMsg()
}

// Duplicable messages know how to tell their sender that they reached an
// agent twice.
type Duplicable interface {
	Msg

	// DuplicationRecipient returns where the duplication notice goes.
	DuplicationRecipient() (Recipient, bool)

	// DuplicationMsg builds the notice.
	DuplicationMsg() Msg
}

// A Sink accepts routed messages. It returns true if it accepted the
// message.
type Sink interface {
	OnMessage(msg Msg) bool
}
