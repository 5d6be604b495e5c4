package messaging

import (
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/routing"
)

// A Binding is a route owned by a Channel. Bindings of agent recipients are
// final, bindings of broadcast recipients are not.
type Binding struct {
	recipient comm.Recipient
	route     *routing.Route
	channel   *Channel
}

func newBinding(c *Channel, recipient comm.Recipient) *Binding {
	final := recipient.Type == comm.AgentRecipient

	return &Binding{
		recipient: recipient,
		route: routing.NewRoute(
			c, recipient.RoutingKey(), routing.LocalPriority, final),
		channel: c,
	}
}

// NewRemoteBinding creates a binding toward a sink that is not a channel of
// this agency, such as a worker process behind a broker.
func NewRemoteBinding(
	sink comm.Sink,
	recipient comm.Recipient,
	priority int,
	final bool,
) *Binding {
	return &Binding{
		recipient: recipient,
		route: routing.NewRoute(
			sink, recipient.RoutingKey(), priority, final),
	}
}

// Recipient returns the address the binding listens on.
func (b *Binding) Recipient() comm.Recipient {
	return b.recipient
}

// Key returns the routing key of the binding.
func (b *Binding) Key() comm.RoutingKey {
	return b.route.Key
}

// Final tells if the binding stops the matching once it accepted a message.
func (b *Binding) Final() bool {
	return b.route.Final
}

// Route returns the route registered in the routing table.
func (b *Binding) Route() *routing.Route {
	return b.route
}

// Channel returns the owner of the binding. Remote bindings have none.
func (b *Binding) Channel() *Channel {
	return b.channel
}
