package broker

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync/atomic"

	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/expiring"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/timing"
)

// ChannelType is the backend id of both broker roles.
const ChannelType = "broker"

// A Master owns the broker socket. Workers connect to it, and the keys they
// bind are routed to them from the master's coordinator.
type Master struct {
	messaging.ConnectionManager

	logger   *slog.Logger
	codec    *codec.Codec
	listener net.Listener
	path     string
	closed   atomic.Bool

	msging  messaging.Messaging
	engine  timing.Engine
	workers map[string]*workerLink
	origins *expiring.Dict[string, string]
}

func newMaster(
	listener net.Listener,
	path string,
	enc *codec.Codec,
	logger *slog.Logger,
) *Master {
	return &Master{
		logger:   logger.With("role", "master"),
		codec:    enc,
		listener: listener,
		path:     path,
		workers:  make(map[string]*workerLink),
	}
}

// ChannelType returns "broker".
func (m *Master) ChannelType() string {
	return ChannelType
}

// SocketPath returns the path the master listens on.
func (m *Master) SocketPath() string {
	return m.path
}

// Initiate starts accepting workers.
func (m *Master) Initiate(_ context.Context, msging messaging.Messaging) error {
	m.msging = msging
	m.engine = msging.Engine()
	m.origins = expiring.NewDict[string, string](m.engine, 0)

	go m.acceptWorkers()

	m.logger.Info("broker master listening", "socket", m.path)
	m.OnConnected()

	return nil
}

// Disconnect stops accepting workers and drops the connected ones.
func (m *Master) Disconnect() {
	if m.closed.Swap(true) {
		return
	}

	if err := m.listener.Close(); err != nil {
		m.logger.Warn("closing broker socket failed", "error", err)
	}

	for _, w := range m.workers {
		_ = w.conn.close()
	}

	m.OnDisconnected()
}

// BindingCreated does nothing. The master only routes what workers bind.
func (m *Master) BindingCreated(*messaging.Binding) {}

// BindingRemoved does nothing.
func (m *Master) BindingRemoved(*messaging.Binding) {}

// CreateExternalRoute is not supported by the broker.
func (m *Master) CreateExternalRoute(string, messaging.ExternalRoute) bool {
	return false
}

// RemoveExternalRoute is not supported by the broker.
func (m *Master) RemoveExternalRoute(string, messaging.ExternalRoute) bool {
	return false
}

// WorkerInfo describes a connected worker.
type WorkerInfo struct {
	ID   string
	Keys []comm.RoutingKey
}

// Workers lists the connected workers ordered by id. It must be called on
// the loop.
func (m *Master) Workers() []WorkerInfo {
	list := make([]WorkerInfo, 0, len(m.workers))
	for id, w := range m.workers {
		info := WorkerInfo{ID: id}
		for k := range w.bindings {
			info.Keys = append(info.Keys, k)
		}

		slices.SortFunc(info.Keys, func(a, b comm.RoutingKey) int {
			return cmp.Compare(a.String(), b.String())
		})

		list = append(list, info)
	}

	slices.SortFunc(list, func(a, b WorkerInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return list
}

func (m *Master) acceptWorkers() {
	for {
		raw, err := m.listener.Accept()
		if err != nil {
			if !m.closed.Load() {
				m.logger.Error("accepting workers failed", "error", err)
			}

			return
		}

		go m.serve(newConn(raw))
	}
}

func (m *Master) serve(c *conn) {
	hello, err := c.receive()
	if err != nil || hello.Op != OpHello || hello.Worker == "" {
		m.logger.Debug("dropping connection without hello",
			"frame", hello.String(), "error", err)
		_ = c.close()

		return
	}

	w := &workerLink{
		master:   m,
		id:       hello.Worker,
		conn:     c,
		bindings: make(map[comm.RoutingKey]*workerBinding),
	}
	m.engine.CallNext(func() { m.attach(w) })

	for {
		f, err := c.receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !m.closed.Load() {
				m.logger.Warn("worker connection failed",
					"worker", w.id, "error", err)
			}

			break
		}

		m.engine.CallNext(func() { m.handle(w, f) })
	}

	_ = c.close()
	m.engine.CallNext(func() { m.detach(w) })
}

func (m *Master) attach(w *workerLink) {
	if old, found := m.workers[w.id]; found {
		m.logger.Warn("worker connected twice, dropping the old connection",
			"worker", w.id)
		_ = old.conn.close()
		m.detach(old)
	}

	m.workers[w.id] = w
	m.logger.Info("worker attached", "worker", w.id)
}

func (m *Master) detach(w *workerLink) {
	if m.workers[w.id] == w {
		delete(m.workers, w.id)
		m.logger.Info("worker detached", "worker", w.id)
	}

	for key := range w.bindings {
		w.drop(key)
	}
}

func (m *Master) handle(w *workerLink, f Frame) {
	switch f.Op {
	case OpBind:
		w.bind(f.RoutingKey(), f.Final)
	case OpUnbind:
		w.unbind(f.RoutingKey())
	case OpDispatch:
		msg, err := m.codec.Decode(f.Payload)
		if err != nil {
			m.logger.Error("dropping undecodable message from worker",
				"worker", w.id, "error", err)
			return
		}

		meta := msg.Meta()
		m.origins.Set(meta.ID, w.id, meta.ExpirationTime)
		m.msging.Dispatch(msg, true)
	default:
		m.logger.Warn("unexpected frame from worker",
			"worker", w.id, "frame", f.String())
	}
}

type workerBinding struct {
	binding *messaging.Binding
	count   int
}

// workerLink is the sink the master routes a worker's keys to.
type workerLink struct {
	master   *Master
	id       string
	conn     *conn
	bindings map[comm.RoutingKey]*workerBinding
}

func (w *workerLink) bind(key comm.RoutingKey, final bool) {
	if b, found := w.bindings[key]; found {
		b.count++
		return
	}

	recp := comm.Broadcast(key.Key, key.Shard)
	if final {
		recp = comm.Agent(key.Key, key.Shard)
	}

	b := messaging.NewRemoteBinding(w, recp, routing.BrokerPriority, final)
	w.bindings[key] = &workerBinding{binding: b, count: 1}
	w.master.msging.AppendBinding(b)
}

func (w *workerLink) unbind(key comm.RoutingKey) {
	b, found := w.bindings[key]
	if !found {
		w.master.logger.Warn("worker unbound a key it never bound",
			"worker", w.id, "key", key.String())
		return
	}

	b.count--
	if b.count == 0 {
		w.drop(key)
	}
}

func (w *workerLink) drop(key comm.RoutingKey) {
	b := w.bindings[key]
	delete(w.bindings, key)

	if err := w.master.msging.RemoveBinding(b.binding); err != nil {
		w.master.logger.Warn("removing worker binding failed",
			"worker", w.id, "key", key.String(), "error", err)
	}
}

// OnMessage forwards msg to the worker, unless the worker sent it.
func (w *workerLink) OnMessage(msg comm.Msg) bool {
	if origin, found := w.master.origins.Get(msg.Meta().ID); found &&
		origin == w.id {
		return false
	}

	f, err := dispatchFrame(w.master.codec, msg)
	if err == nil {
		err = w.conn.send(f)
	}

	if err != nil {
		w.master.logger.Error("forwarding message to worker failed",
			"worker", w.id, "message_id", msg.Meta().ID, "error", err)
		return false
	}

	return true
}
