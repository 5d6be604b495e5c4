package bus

import (
	"log/slog"

	"github.com/sarchlab/agency/backoff"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/timing"
)

// Builder builds bus Backends.
type Builder struct {
	addr         string
	password     string
	db           int
	prefix       string
	pingInterval timing.VTimeInSec
	policy       backoff.Policy
	codec        *codec.Codec
	logger       *slog.Logger
}

// MakeBuilder returns a Builder targeting a local Redis server.
func MakeBuilder() Builder {
	return Builder{
		addr:         "localhost:6379",
		prefix:       "agency",
		pingInterval: 5,
		policy:       backoff.DefaultPolicy,
	}
}

// WithAddr sets the address of the Redis server.
func (b Builder) WithAddr(addr string) Builder {
	b.addr = addr
	return b
}

// WithPassword sets the password of the Redis server.
func (b Builder) WithPassword(password string) Builder {
	b.password = password
	return b
}

// WithDB selects the Redis database.
func (b Builder) WithDB(db int) Builder {
	b.db = db
	return b
}

// WithPrefix sets the prefix of every pub/sub channel.
func (b Builder) WithPrefix(prefix string) Builder {
	b.prefix = prefix
	return b
}

// WithPingInterval sets how often the server is checked.
func (b Builder) WithPingInterval(interval timing.VTimeInSec) Builder {
	b.pingInterval = interval
	return b
}

// WithRetryPolicy sets how reconnection attempts are spaced.
func (b Builder) WithRetryPolicy(p backoff.Policy) Builder {
	b.policy = p
	return b
}

// WithCodec sets the codec of the published messages.
func (b Builder) WithCodec(c *codec.Codec) Builder {
	b.codec = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the Backend. It connects on Initiate.
func (b Builder) Build() *Backend {
	if b.codec == nil {
		b.codec = codec.New(
			codec.DefaultRegistry(), codec.CBOR, codec.CurrentVersion)
	}

	return &Backend{
		logger:       logging.OrNop(b.logger).With("backend", ChannelType),
		codec:        b.codec,
		addr:         b.addr,
		password:     b.password,
		db:           b.db,
		prefix:       b.prefix,
		pingInterval: b.pingInterval,
		policy:       b.policy,
		subs:         make(map[comm.RoutingKey]int),
	}
}
