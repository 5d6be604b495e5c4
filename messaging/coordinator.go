package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/expiring"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/idgen"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/timing"
)

// HookPosConnectivityChanged is invoked when the aggregate connectivity of
// the coordinator flips. The item is the new state as a bool.
var HookPosConnectivityChanged = &hooking.HookPos{Name: "ConnectivityChanged"}

// A Coordinator owns the routing table of an agency, its backends, and the
// channels of its agents.
//
// The coordinator is connected when every backend is connected. With no
// backend at all it is connected.
type Coordinator struct {
	hooking.HookableBase
	ConnectionManager

	name         string
	engine       timing.Engine
	logger       *slog.Logger
	ids          idgen.IDGenerator
	table        routing.Table
	dedupMaxSize int

	backends     map[string]Backend
	backendOrder []string
	channels     []*Channel
	remote       []*Binding

	pending atomic.Int64
}

// Name returns the name of the coordinator.
func (c *Coordinator) Name() string {
	return c.name
}

// Engine returns the event loop the coordinator runs on.
func (c *Coordinator) Engine() timing.Engine {
	return c.engine
}

// Routing returns the routing table.
func (c *Coordinator) Routing() routing.Table {
	return c.table
}

// NewChannel opens a channel for an agent and binds the agent's personal
// address to it.
func (c *Coordinator) NewChannel(agentID, shard string) (*Channel, error) {
	ch := &Channel{
		coordinator: c,
		logger:      c.logger.With("agent_id", agentID, "shard", shard),
		agentID:     agentID,
		shard:       shard,
		protocols:   make(map[string]Handler),
		interests:   make(map[interestKey]*interest),
		messageIDs: expiring.NewDict[string, struct{}](
			c.engine, c.dedupMaxSize),
		traversalIDs: expiring.NewDict[string, struct{}](
			c.engine, c.dedupMaxSize),
	}

	personal, err := ch.CreateBinding(ch.Recipient())
	if err != nil {
		return nil, err
	}

	ch.personal = personal
	c.channels = append(c.channels, ch)

	return ch, nil
}

// Channels returns the open channels.
func (c *Coordinator) Channels() []*Channel {
	return slices.Clone(c.channels)
}

// Bindings returns the bindings of every open channel, followed by the
// remote bindings.
func (c *Coordinator) Bindings() []*Binding {
	var all []*Binding
	for _, ch := range c.channels {
		all = append(all, ch.bindings...)
	}

	return append(all, c.remote...)
}

// AppendBinding installs a binding that no channel owns and announces it to
// the backends.
func (c *Coordinator) AppendBinding(b *Binding) {
	c.remote = append(c.remote, b)
	c.appendBinding(b)
}

// RemoveBinding drops a binding installed with AppendBinding.
func (c *Coordinator) RemoveBinding(b *Binding) error {
	i := slices.Index(c.remote, b)
	if i < 0 {
		return ErrBindingNotFound
	}

	c.remote = slices.Delete(c.remote, i, i+1)
	c.removeBinding(b)

	return nil
}

func (c *Coordinator) removeChannel(ch *Channel) {
	if i := slices.Index(c.channels, ch); i >= 0 {
		c.channels = slices.Delete(c.channels, i, i+1)
	}
}

func (c *Coordinator) appendBinding(b *Binding) {
	c.table.AppendRoute(b.route)

	for _, backend := range c.orderedBackends() {
		backend.BindingCreated(b)
	}
}

func (c *Coordinator) removeBinding(b *Binding) {
	c.table.RemoveRoute(b.route)

	for _, backend := range c.orderedBackends() {
		backend.BindingRemoved(b)
	}
}

// Dispatch routes msg on the next turn of the loop. Outgoing messages may
// reach the outgoing sink; messages that came from the network must not.
//
// Dispatch may be called from any goroutine if the engine allows it.
func (c *Coordinator) Dispatch(msg comm.Msg, outgoing bool) {
	c.pending.Add(1)

	c.engine.CallNext(func() {
		c.pending.Add(-1)
		c.table.Dispatch(msg, outgoing)
	})
}

// IsIdle tells if no dispatch is pending and every backend that can tell is
// idle.
func (c *Coordinator) IsIdle() bool {
	if c.pending.Load() > 0 {
		return false
	}

	for _, b := range c.orderedBackends() {
		if r, ok := b.(IdleReporter); ok && !r.IsIdle() {
			return false
		}
	}

	return true
}

// AddBackend initiates a backend and starts using it. While there is no
// outgoing sink, the backend becomes it if canBecomeOutgoing is set and it
// is a sink. A backend that fails to initiate is dropped and the error
// returned.
func (c *Coordinator) AddBackend(
	ctx context.Context,
	backend Backend,
	canBecomeOutgoing bool,
) error {
	id := backend.ChannelType()
	if _, found := c.backends[id]; found {
		return fmt.Errorf("backend %q: %w", id, ErrBackendExists)
	}

	if err := backend.Initiate(ctx, c); err != nil {
		c.logger.Error("dropping backend that failed to initiate",
			"backend", id, "error", err)
		return fmt.Errorf("initiate backend %q: %w", id, err)
	}

	c.backends[id] = backend
	c.backendOrder = append(c.backendOrder, id)

	backend.AddDisconnectedCB(c.checkConnections)
	backend.AddReconnectedCB(c.checkConnections)

	if canBecomeOutgoing && c.table.OutgoingSink() == nil {
		if sink, ok := backend.(comm.Sink); ok {
			c.table.SetOutgoingSink(sink)
			c.logger.Info("outgoing messages go through backend",
				"backend", id)
		} else {
			c.logger.Debug("backend cannot carry outgoing messages",
				"backend", id)
		}
	}

	c.logger.Info("backend added", "backend", id,
		"connected", backend.IsConnected())
	c.checkConnections()

	return nil
}

// RemoveBackend stops using a backend and removes every route toward it.
// The backend is not disconnected.
func (c *Coordinator) RemoveBackend(id string) error {
	backend, found := c.backends[id]
	if !found {
		return fmt.Errorf("backend %q: %w", id, ErrUnknownBackend)
	}

	delete(c.backends, id)
	c.backendOrder = slices.DeleteFunc(c.backendOrder,
		func(s string) bool { return s == id })

	if sink, ok := backend.(comm.Sink); ok {
		c.table.RemoveSink(sink)
	}

	c.checkConnections()

	return nil
}

// Backend returns the backend with the given channel type.
func (c *Coordinator) Backend(id string) (Backend, bool) {
	b, found := c.backends[id]

	return b, found
}

// Backends returns the backends in the order they were added.
func (c *Coordinator) Backends() []Backend {
	return c.orderedBackends()
}

func (c *Coordinator) orderedBackends() []Backend {
	list := make([]Backend, 0, len(c.backendOrder))
	for _, id := range c.backendOrder {
		list = append(list, c.backends[id])
	}

	return list
}

// CreateExternalRoute asks every backend to install a point-to-point route.
// At least one backend has to accept.
func (c *Coordinator) CreateExternalRoute(
	backendID string,
	route ExternalRoute,
) error {
	return c.fanOutExternalRoute("create", backendID,
		func(b Backend) bool { return b.CreateExternalRoute(backendID, route) })
}

// RemoveExternalRoute asks every backend to drop a point-to-point route. At
// least one backend has to accept.
func (c *Coordinator) RemoveExternalRoute(
	backendID string,
	route ExternalRoute,
) error {
	return c.fanOutExternalRoute("remove", backendID,
		func(b Backend) bool { return b.RemoveExternalRoute(backendID, route) })
}

func (c *Coordinator) fanOutExternalRoute(
	action, backendID string,
	call func(b Backend) bool,
) error {
	var accepted, rejected []string

	for _, id := range c.backendOrder {
		if call(c.backends[id]) {
			accepted = append(accepted, id)
		} else {
			rejected = append(rejected, id)
		}
	}

	if len(accepted) == 0 {
		return &ExternalRouteError{
			Action:    action,
			BackendID: backendID,
			Rejected:  rejected,
		}
	}

	c.logger.Debug("external route handled",
		"action", action, "backend_id", backendID, "accepted", accepted)

	return nil
}

// Disconnect releases every channel and disconnects every backend.
func (c *Coordinator) Disconnect() {
	for _, ch := range slices.Clone(c.channels) {
		ch.Release()
	}

	for _, b := range c.orderedBackends() {
		b.Disconnect()
	}
}

func (c *Coordinator) checkConnections() {
	connected := true
	for _, b := range c.orderedBackends() {
		if !b.IsConnected() {
			connected = false
			break
		}
	}

	if connected == c.IsConnected() {
		return
	}

	if connected {
		c.logger.Info("all backends connected")
		c.OnConnected()
	} else {
		c.logger.Warn("messaging disconnected")
		c.OnDisconnected()
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    HookPosConnectivityChanged,
		Item:   connected,
	})
}
