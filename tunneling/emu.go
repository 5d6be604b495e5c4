package tunneling

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/timing"
)

// HookPosMsgBridged is invoked by a Bridge for every message it serialized.
// The item is the message and the detail a BridgeCrossing.
var HookPosMsgBridged = &hooking.HookPos{Name: "MsgBridged"}

// BridgeCrossing describes how a message crossed a Bridge.
type BridgeCrossing struct {
	From, To    string
	WireVersion int
}

// An EmuBackend tunnels messages to other EmuBackends of the same process
// through a Bridge. Messages are still serialized, at the version both ends
// understand.
type EmuBackend struct {
	base

	bridge *Bridge
	codec  *codec.Codec
}

// NewEmuBackend creates an EmuBackend speaking version. A nil bridge creates
// a private one.
func NewEmuBackend(
	version int,
	bridge *Bridge,
	registry *codec.Registry,
	logger *slog.Logger,
) *EmuBackend {
	if bridge == nil {
		bridge = NewBridge(nil)
	}

	if registry == nil {
		registry = codec.DefaultRegistry()
	}

	logger = logging.OrNop(logger).With("tunnel", "emu")

	b := &EmuBackend{
		base:   newBase(logger, version),
		bridge: bridge,
		codec:  codec.New(registry, codec.CBOR, version),
	}
	b.route = "emu://" + newRouteID()
	b.postMessage = b.post

	return b
}

func newRouteID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Codec returns the codec of the backend, to register version adapters.
func (b *EmuBackend) Codec() *codec.Codec {
	return b.codec
}

// Connect joins the bridge.
func (b *EmuBackend) Connect(d Dispatcher) error {
	b.dispatcher = d

	if err := b.bridge.add(b); err != nil {
		return err
	}

	b.OnConnected()

	return nil
}

// Disconnect leaves the bridge.
func (b *EmuBackend) Disconnect() {
	if b.IsConnected() {
		b.bridge.remove(b)
	}

	b.disconnect()
	b.OnDisconnected()
}

// IsIdle tells if neither the backend nor the bridge has work left.
func (b *EmuBackend) IsIdle() bool {
	return b.pendingDispatches.Load() == 0 && b.bridge.IsIdle()
}

func (b *EmuBackend) post(uri string, msg comm.Msg) error {
	return b.bridge.dispatch(b, uri, msg)
}

// A Bridge connects EmuBackends by route.
type Bridge struct {
	hooking.HookableBase

	logger       *slog.Logger
	backends     map[string]*EmuBackend
	pendingCalls atomic.Int64
}

// NewBridge creates an empty Bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger:   logging.OrNop(logger).With("component", "bridge"),
		backends: make(map[string]*EmuBackend),
	}
}

// Name returns the name of the bridge.
func (b *Bridge) Name() string {
	return "Bridge"
}

// IsIdle tells if no message is waiting to be delivered.
func (b *Bridge) IsIdle() bool {
	return b.pendingCalls.Load() == 0
}

// Routes returns the routes of the connected backends.
func (b *Bridge) Routes() []string {
	routes := make([]string, 0, len(b.backends))
	for r := range b.backends {
		routes = append(routes, r)
	}

	return routes
}

func (b *Bridge) add(backend *EmuBackend) error {
	if _, found := b.backends[backend.route]; found {
		return fmt.Errorf("backend %s already on the bridge", backend.route)
	}

	b.backends[backend.route] = backend

	return nil
}

func (b *Bridge) remove(backend *EmuBackend) {
	if b.backends[backend.route] == backend {
		delete(b.backends, backend.route)
	}
}

// WireVersion returns the version a message is serialized at when going
// from a peer speaking vin to a peer speaking vout.
func WireVersion(vin, vout int) int {
	isMaster := vin >= vout
	if isMaster {
		return vout
	}

	return vin
}

func (b *Bridge) dispatch(source *EmuBackend, uri string, msg comm.Msg) error {
	target, found := b.backends[uri]
	if !found {
		source.logger.Warn("dropping message to unknown uri", "uri", uri)
		return nil
	}

	wire := WireVersion(source.version, target.version)

	data, err := source.codec.Encode(msg, wire)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIncompatibleVersion, err)
	}

	out, err := target.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIncompatibleVersion, err)
	}

	b.InvokeHook(hooking.HookCtx{
		Domain: b,
		Pos:    HookPosMsgBridged,
		Item:   out,
		Detail: BridgeCrossing{
			From:        source.route,
			To:          target.route,
			WireVersion: wire,
		},
	})

	from := source.route
	b.pendingCalls.Add(1)
	target.engine().CallNext(func() {
		b.pendingCalls.Add(-1)

		if b.backends[target.route] != target {
			return
		}

		target.dispatch(from, out)
	})

	return nil
}

func (b *EmuBackend) engine() timing.Engine {
	return b.dispatcher.Engine()
}
