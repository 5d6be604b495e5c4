package agency

import (
	"log/slog"

	"github.com/sarchlab/agency/config"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/timing"
)

// Builder can be used to build an agency.
type Builder struct {
	cfg        config.Config
	logger     *slog.Logger
	workerID   string
	workerArgs []string
	executable string
}

// MakeBuilder creates a builder from a configuration.
func MakeBuilder(cfg config.Config) Builder {
	return Builder{cfg: cfg}
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// AsWorker makes the agency a worker of the broker master on the configured
// socket. A worker reaches the rest of the world only through its master,
// so the tunnel, bus, monitor and recorder are turned off.
func (b Builder) AsWorker(workerID string) Builder {
	b.workerID = workerID
	b.cfg.Broker.Enabled = true
	b.cfg.Broker.Workers = 0
	b.cfg.Tunnel.Enabled = false
	b.cfg.Bus.Enabled = false
	b.cfg.Monitor.Enabled = false
	b.cfg.Recording.Enabled = false

	return b
}

// WithWorkerCommand sets the program a broker master spawns its workers
// with, and the arguments placed before the worker subcommand.
func (b Builder) WithWorkerCommand(executable string, args ...string) Builder {
	b.executable = executable
	b.workerArgs = args

	return b
}

// Build builds the agency. Nothing is started before Start.
func (b Builder) Build() (*Agency, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.New(logging.ParseLevel(b.cfg.Log.Level))
	}

	a := &Agency{
		cfg:        b.cfg,
		logger:     logger.With("agency", b.cfg.Agency.Name),
		engine:     timing.NewRealTimeEngine(),
		workerID:   b.workerID,
		workerArgs: b.workerArgs,
		executable: b.executable,
	}
	a.build()

	return a, nil
}
