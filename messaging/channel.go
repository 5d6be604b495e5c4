package messaging

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/expiring"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/timing"
)

// DefaultMessageTTL is the lifetime given to posted messages that do not
// carry an expiration time.
const DefaultMessageTTL = timing.VTimeInSec(10)

// idRetention is how long an id is remembered when its message expires at
// the very instant it is admitted.
const idRetention = timing.VTimeInSec(0.001)

// Hook positions invoked on the Coordinator for channel admissions. The item
// is the message; the detail is an Admission.
var (
	HookPosMsgAccepted = &hooking.HookPos{Name: "MsgAccepted"}
	HookPosMsgRejected = &hooking.HookPos{Name: "MsgRejected"}
)

// RejectReason tells why a Channel refused a message.
type RejectReason int

// Reasons for refusing a message.
const (
	RejectNone RejectReason = iota
	RejectReleased
	RejectExpired
	RejectDuplicate
	RejectRevisit
	RejectNoHandler
	RejectCorrupted
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectReleased:
		return "released"
	case RejectExpired:
		return "expired"
	case RejectDuplicate:
		return "duplicate"
	case RejectRevisit:
		return "revisit"
	case RejectNoHandler:
		return "no_handler"
	case RejectCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("RejectReason(%d)", int(r))
	}
}

// Admission is the detail of the admission hooks.
type Admission struct {
	Channel *Channel
	Reason  RejectReason
}

// A Handler receives the messages a Channel admitted.
type Handler interface {
	OnMessage(msg comm.Msg)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg comm.Msg)

// OnMessage calls f.
func (f HandlerFunc) OnMessage(msg comm.Msg) {
	f(msg)
}

type interestKey struct {
	protocolType string
	protocolID   string
}

type interest struct {
	handler Handler
	binding *Binding
}

// A Channel is the only way in and out of the agency for one agent.
type Channel struct {
	coordinator *Coordinator
	logger      *slog.Logger

	agentID  string
	shard    string
	personal *Binding
	bindings []*Binding

	protocols map[string]Handler
	interests map[interestKey]*interest

	messageIDs   *expiring.Dict[string, struct{}]
	traversalIDs *expiring.Dict[string, struct{}]

	released bool
}

// AgentID returns the id of the agent owning the channel.
func (c *Channel) AgentID() string {
	return c.agentID
}

// Shard returns the shard of the agent owning the channel.
func (c *Channel) Shard() string {
	return c.shard
}

// Recipient returns the personal address of the agent.
func (c *Channel) Recipient() comm.Recipient {
	return comm.Agent(c.agentID, c.shard)
}

// Bindings returns the live bindings of the channel.
func (c *Channel) Bindings() []*Binding {
	return slices.Clone(c.bindings)
}

// Released tells if Release was called.
func (c *Channel) Released() bool {
	return c.released
}

// Post sends msg to every recipient. All the copies share one fresh message
// id; each copy carries its own recipient. A message opening a multi-hop
// protocol gets a traversal id unless it already has one. The copies are
// dispatched on the next turn of the loop; the caller gets copies of them,
// so changing what Post returns does not change what is delivered.
func (c *Channel) Post(
	recipients []comm.Recipient,
	msg comm.Msg,
) ([]comm.Msg, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	if c.released {
		return nil, ErrChannelReleased
	}

	base := msg.Clone()
	meta := base.Meta()
	meta.ID = c.coordinator.ids.Generate()

	if meta.SenderID == "" {
		meta.SenderID = c.agentID
	}

	if meta.ExpirationTime == 0 {
		meta.ExpirationTime = c.coordinator.engine.Now() + DefaultMessageTTL
	}

	if _, isDialog := base.(comm.DialogMsg); isDialog && meta.ReplyTo.IsZero() {
		meta.ReplyTo = c.Recipient()
	}

	if _, isFirst := base.(comm.FirstMsg); isFirst && meta.TraversalID == "" {
		meta.TraversalID = c.coordinator.ids.Generate()
	}

	sent := make([]comm.Msg, 0, len(recipients))
	for _, r := range recipients {
		copied := base.Clone()
		copied.Meta().Recipient = r

		c.coordinator.Dispatch(copied, true)
		sent = append(sent, copied.Clone())
	}

	return sent, nil
}

// OnMessage runs the admission checks and hands the message to the matching
// protocol or interest.
func (c *Channel) OnMessage(msg comm.Msg) bool {
	meta := msg.Meta()
	log := c.logger.With("message_id", meta.ID, "protocol_id", meta.ProtocolID)

	if c.released {
		return c.reject(msg, RejectReleased)
	}

	if c.coordinator.engine.Now() > meta.ExpirationTime {
		log.Info("dropping expired message",
			"expiration", meta.ExpirationTime)
		return c.reject(msg, RejectExpired)
	}

	if c.messageIDs.Has(meta.ID) {
		log.Debug("dropping duplicated message")
		return c.reject(msg, RejectDuplicate)
	}
	c.remember(c.messageIDs, meta.ID, meta.ExpirationTime)

	if _, isFirst := msg.(comm.FirstMsg); isFirst {
		if meta.TraversalID == "" {
			log.Warn("dropping corrupted message without traversal id",
				"protocol_type", meta.ProtocolType)
			return c.reject(msg, RejectCorrupted)
		}

		if c.traversalIDs.Has(meta.TraversalID) {
			log.Debug("traversal already visited",
				"traversal_id", meta.TraversalID)
			c.postDuplication(msg)

			return c.reject(msg, RejectRevisit)
		}
		c.remember(c.traversalIDs, meta.TraversalID, meta.ExpirationTime)
	}

	if meta.ReceiverID != "" {
		if h, found := c.protocols[meta.ReceiverID]; found {
			h.OnMessage(msg)
			return c.accept(msg)
		}
	}

	key := interestKey{protocolType: meta.ProtocolType, protocolID: meta.ProtocolID}
	if i, found := c.interests[key]; found {
		i.handler.OnMessage(msg)
		return c.accept(msg)
	}

	log.Debug("no handler for message",
		"protocol_type", meta.ProtocolType,
		"receiver_id", meta.ReceiverID)

	return c.reject(msg, RejectNoHandler)
}

// remember keeps id until exp. A message expiring right now is still
// admissible in this instant, so its id outlives it slightly.
func (c *Channel) remember(
	ids *expiring.Dict[string, struct{}],
	id string,
	exp timing.VTimeInSec,
) {
	if now := c.coordinator.engine.Now(); exp <= now {
		exp = now + idRetention
	}

	ids.Set(id, struct{}{}, exp)
}

func (c *Channel) postDuplication(msg comm.Msg) {
	d, ok := msg.(comm.Duplicable)
	if !ok {
		return
	}

	recp, ok := d.DuplicationRecipient()
	if !ok {
		return
	}

	_, err := c.Post([]comm.Recipient{recp}, d.DuplicationMsg())
	if err != nil {
		c.logger.Warn("cannot post duplication notice", "error", err)
	}
}

func (c *Channel) accept(msg comm.Msg) bool {
	c.coordinator.InvokeHook(hooking.HookCtx{
		Domain: c.coordinator,
		Pos:    HookPosMsgAccepted,
		Item:   msg,
		Detail: Admission{Channel: c},
	})

	return true
}

func (c *Channel) reject(msg comm.Msg, reason RejectReason) bool {
	c.coordinator.InvokeHook(hooking.HookCtx{
		Domain: c.coordinator,
		Pos:    HookPosMsgRejected,
		Item:   msg,
		Detail: Admission{Channel: c, Reason: reason},
	})

	return false
}

// RegisterProtocol makes messages whose receiver id is id go to h.
func (c *Channel) RegisterProtocol(id string, h Handler) {
	c.protocols[id] = h
}

// UnregisterProtocol undoes RegisterProtocol.
func (c *Channel) UnregisterProtocol(id string) {
	delete(c.protocols, id)
}

// RegisterInterest makes messages of the given protocol go to h. A public
// interest also binds the broadcast address of the protocol in the agent's
// shard.
func (c *Channel) RegisterInterest(
	protocolType, protocolID string,
	h Handler,
	public bool,
) error {
	key := interestKey{protocolType: protocolType, protocolID: protocolID}
	if _, found := c.interests[key]; found {
		return fmt.Errorf("interest %s/%s: %w",
			protocolType, protocolID, ErrBindingExists)
	}

	i := &interest{handler: h}

	if public {
		b, err := c.CreateBinding(comm.Broadcast(protocolID, c.shard))
		if err != nil {
			return err
		}

		i.binding = b
	}

	c.interests[key] = i

	return nil
}

// RevokeInterest undoes RegisterInterest.
func (c *Channel) RevokeInterest(protocolType, protocolID string) error {
	key := interestKey{protocolType: protocolType, protocolID: protocolID}

	i, found := c.interests[key]
	if !found {
		return fmt.Errorf("interest %s/%s: %w",
			protocolType, protocolID, ErrBindingNotFound)
	}

	delete(c.interests, key)

	if i.binding != nil {
		return c.RevokeBinding(i.binding)
	}

	return nil
}

// CreateBinding starts routing messages addressed to recipient into the
// channel.
func (c *Channel) CreateBinding(recipient comm.Recipient) (*Binding, error) {
	if c.released {
		return nil, ErrChannelReleased
	}

	if recipient.Type == comm.AgentRecipient {
		for _, r := range c.coordinator.table.Lookup(recipient.RoutingKey()) {
			if _, isChannel := r.Sink.(*Channel); isChannel && r.Final {
				return nil, fmt.Errorf("%s: %w", recipient, ErrBindingExists)
			}
		}
	}

	b := newBinding(c, recipient)
	c.bindings = append(c.bindings, b)
	c.coordinator.appendBinding(b)

	return b, nil
}

// RevokeBinding stops routing the binding's messages into the channel.
func (c *Channel) RevokeBinding(b *Binding) error {
	i := slices.Index(c.bindings, b)
	if i < 0 {
		return fmt.Errorf("%s: %w", b.recipient, ErrBindingNotFound)
	}

	c.bindings = slices.Delete(c.bindings, i, i+1)
	c.coordinator.removeBinding(b)

	return nil
}

// Release revokes every binding of the channel and detaches it from the
// coordinator. Messages dispatched afterwards can no longer reach it.
func (c *Channel) Release() {
	if c.released {
		return
	}

	for _, b := range slices.Backward(c.bindings) {
		c.coordinator.removeBinding(b)
	}

	c.bindings = nil
	c.personal = nil
	clear(c.protocols)
	clear(c.interests)
	c.released = true

	c.coordinator.removeChannel(c)
}
