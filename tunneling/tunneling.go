// Package tunneling delivers messages point to point between agencies, for
// peers the shard-wide backends can not reach.
//
// A Tunneling is the backend plugged into the Coordinator. It owns the
// external routes and delegates the transport to a Backend, either an
// in-process EmuBackend or an HTTP tunnel.
package tunneling

import (
	"context"
	"log/slog"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/timing"
)

// ChannelType is the backend id of tunnels.
const ChannelType = "tunnel"

// A Backend carries tunneled messages.
type Backend interface {
	// Route returns the uri other agencies reach this one at.
	Route() string
	Version() int

	Connect(d Dispatcher) error
	Disconnect()
	IsConnected() bool
	IsIdle() bool
	AddDisconnectedCB(fn func())
	AddReconnectedCB(fn func())

	AddRoute(recipient comm.Recipient, uri string)
	RemoveRoute(recipient comm.Recipient)
	Post(msg comm.Msg) error
}

// A Dispatcher receives what a Backend got from its peers. All methods are
// called on the event loop.
type Dispatcher interface {
	Engine() timing.Engine

	// LearnRoute records that recipient is reachable at uri.
	LearnRoute(recipient comm.Recipient, uri string)

	// Deliver hands an inbound message to the local agency.
	Deliver(msg comm.Msg)
}

// Tunneling plugs a tunnel Backend into a Coordinator.
type Tunneling struct {
	backend Backend
	logger  *slog.Logger
	msging  messaging.Messaging

	routes map[comm.Recipient]*routing.Route
}

// New creates a Tunneling over backend.
func New(backend Backend, logger *slog.Logger) *Tunneling {
	return &Tunneling{
		backend: backend,
		logger:  logging.OrNop(logger).With("backend", ChannelType),
		routes:  make(map[comm.Recipient]*routing.Route),
	}
}

// Route returns the uri of the underlying backend.
func (t *Tunneling) Route() string {
	return t.backend.Route()
}

// Backend returns the underlying backend.
func (t *Tunneling) Backend() Backend {
	return t.backend
}

// ChannelType returns "tunnel".
func (t *Tunneling) ChannelType() string {
	return ChannelType
}

// Initiate connects the backend.
func (t *Tunneling) Initiate(_ context.Context, m messaging.Messaging) error {
	t.msging = m

	return t.backend.Connect(t)
}

// IsIdle tells if no message is in flight.
func (t *Tunneling) IsIdle() bool {
	return t.backend.IsIdle()
}

// IsConnected tells if the backend is connected.
func (t *Tunneling) IsConnected() bool {
	return t.backend.IsConnected()
}

// Disconnect disconnects the backend.
func (t *Tunneling) Disconnect() {
	t.backend.Disconnect()
}

// AddDisconnectedCB registers a callback on the backend.
func (t *Tunneling) AddDisconnectedCB(fn func()) {
	t.backend.AddDisconnectedCB(fn)
}

// AddReconnectedCB registers a callback on the backend.
func (t *Tunneling) AddReconnectedCB(fn func()) {
	t.backend.AddReconnectedCB(fn)
}

// BindingCreated does nothing. Tunnels only follow external routes.
func (t *Tunneling) BindingCreated(*messaging.Binding) {}

// BindingRemoved does nothing. Tunnels only follow external routes.
func (t *Tunneling) BindingRemoved(*messaging.Binding) {}

// CreateExternalRoute makes messages to route.Recipient go through the tunnel
// to route.URI. Registering a recipient again replaces its route.
func (t *Tunneling) CreateExternalRoute(
	backendID string,
	route messaging.ExternalRoute,
) bool {
	if backendID != ChannelType {
		return false
	}

	recp := route.Recipient
	t.backend.AddRoute(recp, route.URI)

	r := routing.NewRoute(
		t, recp.RoutingKey(), routing.TunnelPriority, true)

	if old, found := t.routes[recp]; found {
		t.logger.Warn("replacing the tunnel route of a recipient",
			"recipient", recp.String(), "uri", route.URI)
		t.msging.Routing().RemoveRoute(old)
	}

	t.msging.Routing().AppendRoute(r)
	t.routes[recp] = r

	return true
}

// RemoveExternalRoute stops tunneling messages to route.Recipient.
func (t *Tunneling) RemoveExternalRoute(
	backendID string,
	route messaging.ExternalRoute,
) bool {
	if backendID != ChannelType {
		return false
	}

	recp := route.Recipient
	t.backend.RemoveRoute(recp)

	r, found := t.routes[recp]
	if !found {
		t.logger.Error("no tunnel route stored for recipient",
			"recipient", recp.String())
		return true
	}

	t.msging.Routing().RemoveRoute(r)
	delete(t.routes, recp)

	return true
}

// OnMessage posts msg through the tunnel.
func (t *Tunneling) OnMessage(msg comm.Msg) bool {
	if err := t.backend.Post(msg); err != nil {
		t.logger.Error("cannot tunnel message",
			"message_id", msg.Meta().ID,
			"recipient", msg.Meta().Recipient.String(),
			"error", err)

		return false
	}

	return msg.Meta().Recipient.Type == comm.AgentRecipient
}

// Engine returns the event loop of the coordinator.
func (t *Tunneling) Engine() timing.Engine {
	return t.msging.Engine()
}

// LearnRoute installs the external route toward recipient.
func (t *Tunneling) LearnRoute(recipient comm.Recipient, uri string) {
	err := t.msging.CreateExternalRoute(ChannelType, messaging.ExternalRoute{
		Recipient: recipient,
		URI:       uri,
	})
	if err != nil {
		t.logger.Error("cannot learn reply route",
			"recipient", recipient.String(), "uri", uri, "error", err)
	}
}

// Deliver dispatches an inbound message without sending it out again.
func (t *Tunneling) Deliver(msg comm.Msg) {
	t.msging.Dispatch(msg, false)
}
