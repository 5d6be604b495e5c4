package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/sarchlab/agency/backoff"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/timing"
)

const retryKey = "master"

// A Slave is the backend of a worker process. It forwards the worker's
// bindings and outgoing messages to the master and dispatches what the
// master sends back.
type Slave struct {
	messaging.ConnectionManager

	logger   *slog.Logger
	codec    *codec.Codec
	path     string
	workerID string
	policy   backoff.Policy
	closed   atomic.Bool

	// probe is a connection opened during the election, used by the first
	// Initiate.
	probe net.Conn

	msging  messaging.Messaging
	engine  timing.Engine
	conn    *conn
	retrier *backoff.Retrier[string]
}

// NewSlave creates a Slave that connects to the master listening on path.
func NewSlave(
	path, workerID string,
	enc *codec.Codec,
	policy backoff.Policy,
	logger *slog.Logger,
) *Slave {
	return &Slave{
		logger:   logging.OrNop(logger).With("role", "slave", "worker", workerID),
		codec:    enc,
		path:     path,
		workerID: workerID,
		policy:   policy,
	}
}

// ChannelType returns "broker".
func (s *Slave) ChannelType() string {
	return ChannelType
}

// WorkerID returns the id the slave introduces itself with.
func (s *Slave) WorkerID() string {
	return s.workerID
}

// Initiate connects to the master and mirrors the existing bindings.
func (s *Slave) Initiate(ctx context.Context, msging messaging.Messaging) error {
	s.msging = msging
	s.engine = msging.Engine()
	s.retrier = backoff.NewRetrier[string](s.engine, s.policy, nil)

	raw := s.probe
	s.probe = nil

	c, err := s.connect(ctx, raw)
	if err != nil {
		return err
	}

	s.attach(c)

	return nil
}

// Disconnect closes the connection to the master and stops reconnecting.
func (s *Slave) Disconnect() {
	if s.closed.Swap(true) {
		return
	}

	if s.retrier != nil {
		s.retrier.CancelAll()
	}

	if s.conn != nil {
		_ = s.conn.close()
		s.conn = nil
	}

	s.OnDisconnected()
}

// BindingCreated asks the master to route the binding's key here.
func (s *Slave) BindingCreated(b *messaging.Binding) {
	s.send(bindFrame(OpBind, b))
}

// BindingRemoved withdraws the binding's key from the master.
func (s *Slave) BindingRemoved(b *messaging.Binding) {
	s.send(bindFrame(OpUnbind, b))
}

// CreateExternalRoute is not supported by the broker.
func (s *Slave) CreateExternalRoute(string, messaging.ExternalRoute) bool {
	return false
}

// RemoveExternalRoute is not supported by the broker.
func (s *Slave) RemoveExternalRoute(string, messaging.ExternalRoute) bool {
	return false
}

// OnMessage hands a message no local route took to the master.
func (s *Slave) OnMessage(msg comm.Msg) bool {
	if s.conn == nil {
		s.logger.Warn("not connected to the master, dropping message",
			"message_id", msg.Meta().ID)
		return false
	}

	f, err := dispatchFrame(s.codec, msg)
	if err != nil {
		s.logger.Error("encoding message for the master failed",
			"message_id", msg.Meta().ID, "error", err)
		return false
	}

	return s.send(f)
}

func (s *Slave) send(f Frame) bool {
	if s.conn == nil {
		return false
	}

	if err := s.conn.send(f); err != nil {
		s.logger.Warn("sending to the master failed", "error", err)
		return false
	}

	return true
}

func (s *Slave) connect(ctx context.Context, raw net.Conn) (*conn, error) {
	if raw == nil {
		var d net.Dialer

		var err error
		raw, err = d.DialContext(ctx, "unix", s.path)
		if err != nil {
			return nil, fmt.Errorf("connect to broker master: %w", err)
		}
	}

	c := newConn(raw)
	if err := c.send(Frame{Op: OpHello, Worker: s.workerID}); err != nil {
		_ = c.close()
		return nil, err
	}

	return c, nil
}

// attach starts using c. It must run on the loop.
func (s *Slave) attach(c *conn) {
	s.conn = c
	s.retrier.Reset(retryKey)

	for _, b := range s.msging.Bindings() {
		s.send(bindFrame(OpBind, b))
	}

	go s.read(c)

	s.logger.Info("connected to broker master", "socket", s.path)
	s.OnConnected()
}

func (s *Slave) read(c *conn) {
	for {
		f, err := c.receive()
		if err != nil {
			s.engine.CallNext(func() { s.lost(c, err) })
			return
		}

		if f.Op != OpDispatch {
			s.logger.Warn("unexpected frame from master", "frame", f.String())
			continue
		}

		msg, err := s.codec.Decode(f.Payload)
		if err != nil {
			s.logger.Error("dropping undecodable message from master",
				"error", err)
			continue
		}

		s.msging.Dispatch(msg, false)
	}
}

func (s *Slave) lost(c *conn, err error) {
	if s.conn != c {
		return
	}

	_ = c.close()
	s.conn = nil

	if s.closed.Load() {
		return
	}

	s.logger.Warn("lost the broker master", "error", err)
	s.OnDisconnected()
	s.scheduleReconnect()
}

func (s *Slave) scheduleReconnect() {
	delay := s.retrier.Schedule(retryKey, s.reconnect)
	s.logger.Info("reconnecting to broker master", "delay", delay)
}

func (s *Slave) reconnect() {
	go func() {
		c, err := s.connect(context.Background(), nil)

		s.engine.CallNext(func() {
			switch {
			case s.closed.Load():
				if c != nil {
					_ = c.close()
				}
			case err != nil:
				s.logger.Debug("broker master still unreachable", "error", err)
				s.scheduleReconnect()
			default:
				s.attach(c)
			}
		})
	}()
}

func bindFrame(op Op, b *messaging.Binding) Frame {
	key := b.Key()

	return Frame{
		Op:    op,
		Key:   key.Key,
		Shard: key.Shard,
		Final: b.Final(),
	}
}
