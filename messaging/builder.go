package messaging

import (
	"log/slog"

	"github.com/sarchlab/agency/expiring"
	"github.com/sarchlab/agency/idgen"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/timing"
)

// CoordinatorBuilder can build coordinators.
type CoordinatorBuilder struct {
	engine       timing.Engine
	logger       *slog.Logger
	ids          idgen.IDGenerator
	dedupMaxSize int
}

// MakeCoordinatorBuilder creates a builder with default parameters.
func MakeCoordinatorBuilder() CoordinatorBuilder {
	return CoordinatorBuilder{
		dedupMaxSize: expiring.DefaultMaxSize,
	}
}

// WithEngine sets the event loop of the coordinator.
func (b CoordinatorBuilder) WithEngine(e timing.Engine) CoordinatorBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger of the coordinator.
func (b CoordinatorBuilder) WithLogger(l *slog.Logger) CoordinatorBuilder {
	b.logger = l
	return b
}

// WithIDGenerator sets how message ids are generated. Time based UUIDs are
// used by default.
func (b CoordinatorBuilder) WithIDGenerator(
	g idgen.IDGenerator,
) CoordinatorBuilder {
	b.ids = g
	return b
}

// WithDedupMaxSize sets the expected size of the per-channel duplicate
// detection caches.
func (b CoordinatorBuilder) WithDedupMaxSize(n int) CoordinatorBuilder {
	b.dedupMaxSize = n
	return b
}

// Build creates a coordinator.
func (b CoordinatorBuilder) Build(name string) *Coordinator {
	if b.engine == nil {
		panic("coordinator needs an engine")
	}

	logger := logging.OrNop(b.logger).With("component", name)

	ids := b.ids
	if ids == nil {
		ids = idgen.NewUUIDGenerator()
	}

	c := &Coordinator{
		name:         name,
		engine:       b.engine,
		logger:       logger,
		ids:          ids,
		table:        routing.NewTable(logger),
		dedupMaxSize: b.dedupMaxSize,
		backends:     make(map[string]Backend),
	}
	c.OnConnected()

	return c
}
