package tunneling

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/logging"
)

// HTTPBackend tunnels messages over HTTP.
type HTTPBackend struct {
	base

	builder TunnelBuilder
	tunnel  *Tunnel
}

// NewHTTPBackend creates an HTTPBackend. The tunnel is built from builder
// once the backend connects, on the engine of the coordinator.
func NewHTTPBackend(builder TunnelBuilder, logger *slog.Logger) *HTTPBackend {
	logger = logging.OrNop(logger).With("tunnel", "http")

	b := &HTTPBackend{
		builder: builder.WithLogger(logger),
	}

	version := 0
	if builder.codec != nil {
		version = builder.codec.Version()
	}

	b.base = newBase(logger, version)
	b.postMessage = b.post

	return b
}

// Tunnel returns the HTTP tunnel, or nil before Connect.
func (b *HTTPBackend) Tunnel() *Tunnel {
	return b.tunnel
}

// Connect starts listening.
func (b *HTTPBackend) Connect(d Dispatcher) error {
	b.dispatcher = d

	engine := d.Engine()
	b.tunnel = b.builder.WithEngine(engine).Build(
		func(uri string, msg comm.Msg) {
			engine.CallNext(func() { b.dispatch(uri, msg) })
		})
	b.version = b.tunnel.Version()

	if err := b.tunnel.StartListening(); err != nil {
		return fmt.Errorf("start tunnel: %w", err)
	}

	b.route = b.tunnel.URI()
	b.OnConnected()

	return nil
}

// Disconnect stops listening and drops every peer.
func (b *HTTPBackend) Disconnect() {
	if b.tunnel != nil {
		b.tunnel.StopListening()
		b.tunnel.Disconnect()
	}

	b.disconnect()
	b.OnDisconnected()
}

// IsIdle tells if nothing is waiting to be sent or dispatched.
func (b *HTTPBackend) IsIdle() bool {
	if b.pendingDispatches.Load() != 0 {
		return false
	}

	return b.tunnel == nil || b.tunnel.IsIdle()
}

func (b *HTTPBackend) post(uri string, msg comm.Msg) error {
	if b.tunnel == nil {
		return ErrNotConnected
	}

	return b.tunnel.Post(uri, msg)
}
