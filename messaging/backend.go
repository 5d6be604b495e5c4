package messaging

import (
	"context"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/timing"
)

// ExternalRoute describes a point-to-point shortcut handed to the backends.
// Each backend only looks at the fields it understands.
type ExternalRoute struct {
	Recipient comm.Recipient
	URI       string
	Addr      string
}

// A Backend is a transport that connects the agency to the outside world.
// Backends that can carry the messages no local route took also implement
// comm.Sink.
type Backend interface {
	// ChannelType names the backend, for example "tunnel" or "bus".
	ChannelType() string

	Initiate(ctx context.Context, m Messaging) error
	IsConnected() bool
	Disconnect()
	AddDisconnectedCB(fn func())
	AddReconnectedCB(fn func())

	BindingCreated(b *Binding)
	BindingRemoved(b *Binding)

	CreateExternalRoute(backendID string, route ExternalRoute) bool
	RemoveExternalRoute(backendID string, route ExternalRoute) bool
}

// IdleReporter is implemented by backends that may hold messages in flight.
type IdleReporter interface {
	IsIdle() bool
}

// Messaging is what a Backend sees of the Coordinator it is plugged into.
type Messaging interface {
	Engine() timing.Engine
	Routing() routing.Table
	Dispatch(msg comm.Msg, outgoing bool)
	Bindings() []*Binding
	AppendBinding(b *Binding)
	RemoveBinding(b *Binding) error
	CreateExternalRoute(backendID string, route ExternalRoute) error
	RemoveExternalRoute(backendID string, route ExternalRoute) error
}
