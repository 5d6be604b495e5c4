// Package broker shares one agency between several processes of a host.
//
// The first process to listen on the broker socket becomes the master. Every
// other process connects to it as a slave: the master routes the keys bound
// in a slave's process to it, and the slave hands the master every message
// its own routing table could not deliver.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"syscall"

	"github.com/sarchlab/agency/backoff"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/idgen"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/messaging"
)

// Role tells which side of the broker a process ended up on.
type Role int

// Roles.
const (
	RoleMaster Role = iota
	RoleSlave
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}

	return "slave"
}

// A Broker elects the role of the process on a socket path.
type Broker struct {
	path     string
	workerID string
	codec    *codec.Codec
	policy   backoff.Policy
	logger   *slog.Logger
}

// Builder builds Brokers.
type Builder struct {
	path     string
	workerID string
	codec    *codec.Codec
	policy   backoff.Policy
	logger   *slog.Logger
}

// MakeBuilder returns a Builder with the default retry policy.
func MakeBuilder() Builder {
	return Builder{
		policy: backoff.DefaultPolicy,
	}
}

// WithSocketPath sets the path of the unix socket.
func (b Builder) WithSocketPath(path string) Builder {
	b.path = path
	return b
}

// WithWorkerID sets the id a slave introduces itself with.
func (b Builder) WithWorkerID(id string) Builder {
	b.workerID = id
	return b
}

// WithCodec sets the codec of the messages on the socket.
func (b Builder) WithCodec(c *codec.Codec) Builder {
	b.codec = c
	return b
}

// WithRetryPolicy sets how a slave waits between reconnection attempts.
func (b Builder) WithRetryPolicy(p backoff.Policy) Builder {
	b.policy = p
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the Broker.
func (b Builder) Build() *Broker {
	if b.path == "" {
		panic("broker: socket path is not set")
	}

	if b.codec == nil {
		b.codec = codec.New(
			codec.DefaultRegistry(), codec.CBOR, codec.CurrentVersion)
	}

	if b.workerID == "" {
		b.workerID = idgen.NewXIDGenerator().Generate()
	}

	return &Broker{
		path:     b.path,
		workerID: b.workerID,
		codec:    b.codec,
		policy:   b.policy,
		logger:   logging.OrNop(b.logger).With("backend", ChannelType),
	}
}

// SocketPath returns the path of the unix socket.
func (b *Broker) SocketPath() string {
	return b.path
}

// Elect takes the master role if the socket is free and the slave role if a
// master answers on it. A socket file nobody answers on is removed and the
// master role taken.
func (b *Broker) Elect(ctx context.Context) (messaging.Backend, Role, error) {
	l, err := net.Listen("unix", b.path)
	if err == nil {
		return newMaster(l, b.path, b.codec, b.logger), RoleMaster, nil
	}

	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, 0, fmt.Errorf("listen on broker socket: %w", err)
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "unix", b.path)
	if err == nil {
		s := NewSlave(b.path, b.workerID, b.codec, b.policy, b.logger)
		s.probe = raw

		return s, RoleSlave, nil
	}

	b.logger.Info("removing stale broker socket", "socket", b.path,
		"error", err)

	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("remove stale broker socket: %w", err)
	}

	l, err = net.Listen("unix", b.path)
	if err != nil {
		return nil, 0, fmt.Errorf("listen on broker socket: %w", err)
	}

	return newMaster(l, b.path, b.codec, b.logger), RoleMaster, nil
}
