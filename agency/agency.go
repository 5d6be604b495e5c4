// Package agency assembles a running agency out of its configuration: the
// event loop, the coordinator, the backends and the monitoring around them.
package agency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sarchlab/agency/broker"
	"github.com/sarchlab/agency/bus"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/config"
	"github.com/sarchlab/agency/datarecording"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/monitoring"
	"github.com/sarchlab/agency/timing"
	"github.com/sarchlab/agency/tunneling"
)

// ErrNoMaster is returned when a worker finds no broker master to join.
var ErrNoMaster = errors.New("no broker master on the socket")

// ErrLoopBusy is returned when the event loop does not run a call in time.
var ErrLoopBusy = errors.New("event loop did not answer")

const loopTimeout = 10 * time.Second

// An Agency is one process of the routing network.
type Agency struct {
	cfg        config.Config
	logger     *slog.Logger
	engine     *timing.RealTimeEngine
	workerID   string
	workerArgs []string
	executable string

	coordinator *messaging.Coordinator
	monitor     *monitoring.Monitor
	recorder    datarecording.DataRecorder
	spawner     *broker.Spawner
	role        broker.Role
	hasBroker   bool

	done     chan error
	stopOnce sync.Once
}

func (a *Agency) build() {
	a.coordinator = messaging.MakeCoordinatorBuilder().
		WithEngine(a.engine).
		WithLogger(a.logger).
		Build(a.cfg.Agency.Name)

	logHook := hooking.NewLogHook(a.logger, slog.LevelDebug)
	a.coordinator.AcceptHook(logHook)
	a.coordinator.Routing().AcceptHook(logHook)

	if a.cfg.Monitor.Enabled {
		a.monitor = monitoring.NewMonitor().
			WithLogger(a.logger).
			WithPortNumber(a.cfg.Monitor.Port)
		a.monitor.RegisterEngine(a.engine)
		a.monitor.RegisterCoordinator(a.coordinator)
	}
}

// Name returns the name of the agency.
func (a *Agency) Name() string {
	return a.cfg.Agency.Name
}

// Engine returns the event loop.
func (a *Agency) Engine() *timing.RealTimeEngine {
	return a.engine
}

// Coordinator returns the coordinator. It must only be used on the loop.
func (a *Agency) Coordinator() *messaging.Coordinator {
	return a.coordinator
}

// Monitor returns the monitor, or nil when monitoring is off.
func (a *Agency) Monitor() *monitoring.Monitor {
	return a.monitor
}

// Role tells if the agency is the broker master or a worker. The second
// value is false when the broker is off.
func (a *Agency) Role() (broker.Role, bool) {
	return a.role, a.hasBroker
}

// Start runs the event loop in the background and connects the backends.
// A bus or tunnel that cannot be set up is logged and left out. Start fails,
// leaving nothing running, if the broker election fails or a worker finds
// no master.
func (a *Agency) Start(ctx context.Context) error {
	a.done = make(chan error, 1)

	go func() {
		a.done <- a.engine.Run()
	}()

	if err := a.start(ctx); err != nil {
		a.Stop(context.Background())
		return err
	}

	a.logger.Info("agency started")

	return nil
}

func (a *Agency) start(ctx context.Context) error {
	if a.cfg.Recording.Enabled {
		if err := a.startRecording(); err != nil {
			return err
		}
	}

	if a.cfg.Broker.Enabled {
		if err := a.startBroker(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Bus.Enabled {
		if err := a.addOptionalBackend(ctx, a.busBackend(), true); err != nil {
			return err
		}
	}

	if a.cfg.Tunnel.Enabled {
		err := a.addOptionalBackend(ctx, a.tunnelBackend(), false)
		if err != nil {
			return err
		}
	}

	if a.monitor != nil {
		if err := a.startMonitor(); err != nil {
			return err
		}
	}

	return nil
}

func (a *Agency) startRecording() error {
	path := a.cfg.Recording.Path
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("recording directory: %w", err)
		}
	}

	recorder, err := datarecording.New(path)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	a.recorder = recorder
	topology := datarecording.NewTopologyRecorder(recorder, a.engine)

	return a.OnLoop(func() {
		a.coordinator.AcceptHook(topology)
		a.coordinator.Routing().AcceptHook(topology)
	})
}

func (a *Agency) startBroker(ctx context.Context) error {
	b := broker.MakeBuilder().
		WithSocketPath(a.cfg.Broker.SocketPath).
		WithWorkerID(a.workerID).
		WithLogger(a.logger).
		Build()

	backend, role, err := b.Elect(ctx)
	if err != nil {
		return err
	}

	if a.workerID != "" && role != broker.RoleSlave {
		backend.Disconnect()
		return fmt.Errorf("%s: %w", b.SocketPath(), ErrNoMaster)
	}

	a.role = role
	a.hasBroker = true
	a.logger.Info("broker role elected", "role", role,
		"socket", b.SocketPath())

	if err := a.addBackend(ctx, backend, true); err != nil {
		return err
	}

	if role == broker.RoleMaster && a.cfg.Broker.Workers > 0 {
		return a.spawnWorkers(b.SocketPath())
	}

	return nil
}

func (a *Agency) spawnWorkers(socket string) error {
	executable := a.executable
	if executable == "" {
		var err error

		executable, err = os.Executable()
		if err != nil {
			return fmt.Errorf("find worker executable: %w", err)
		}
	}

	a.spawner = broker.NewSpawner(executable, a.workerArgs, socket, a.logger)
	if a.monitor != nil {
		a.monitor.RegisterSpawner(a.spawner)
	}

	return a.spawner.Spawn(a.cfg.Broker.Workers)
}

func (a *Agency) busBackend() *bus.Backend {
	return bus.MakeBuilder().
		WithAddr(a.cfg.Bus.Addr).
		WithPassword(a.cfg.Bus.Password).
		WithDB(a.cfg.Bus.DB).
		WithPrefix(a.cfg.Bus.Prefix).
		WithPingInterval(timing.VTimeInSec(a.cfg.Bus.PingInterval)).
		WithLogger(a.logger).
		Build()
}

func (a *Agency) tunnelBackend() *tunneling.Tunneling {
	c := codec.New(codec.DefaultRegistry(), codec.JSON, a.cfg.Tunnel.Version)

	builder := tunneling.MakeTunnelBuilder().
		WithCodec(c).
		WithHost(a.cfg.Tunnel.Host).
		WithPortRange(tunneling.PortRange{
			Min: a.cfg.Tunnel.PortLow,
			Max: a.cfg.Tunnel.PortHigh,
		}).
		WithMaxDelay(timing.VTimeInSec(a.cfg.Tunnel.MaxDelay))

	return tunneling.New(tunneling.NewHTTPBackend(builder, a.logger), a.logger)
}

func (a *Agency) addBackend(
	ctx context.Context,
	b messaging.Backend,
	outgoing bool,
) error {
	var err error

	if loopErr := a.OnLoop(func() {
		err = a.coordinator.AddBackend(ctx, b, outgoing)
	}); loopErr != nil {
		return loopErr
	}

	if err != nil {
		return fmt.Errorf("add %s backend: %w", b.ChannelType(), err)
	}

	return nil
}

// addOptionalBackend adds a backend the agency can run without. Only a
// stalled loop is reported; a backend that fails to initiate is left out.
func (a *Agency) addOptionalBackend(
	ctx context.Context,
	b messaging.Backend,
	outgoing bool,
) error {
	err := a.addBackend(ctx, b, outgoing)
	if errors.Is(err, ErrLoopBusy) {
		return err
	}

	if err != nil {
		a.logger.Error("running without backend",
			"backend", b.ChannelType(), "error", err)
	}

	return nil
}

func (a *Agency) startMonitor() error {
	if err := a.monitor.StartServer(); err != nil {
		return err
	}

	if a.cfg.Monitor.Open {
		if err := a.monitor.OpenInBrowser(); err != nil {
			a.logger.Warn("cannot open the monitor", "error", err)
		}
	}

	return nil
}

// NewChannel opens a channel for an agent from any goroutine.
func (a *Agency) NewChannel(agentID, shard string) (*messaging.Channel, error) {
	var (
		ch  *messaging.Channel
		err error
	)

	if loopErr := a.OnLoop(func() {
		ch, err = a.coordinator.NewChannel(agentID, shard)
	}); loopErr != nil {
		return nil, loopErr
	}

	return ch, err
}

// OnLoop runs fn on the event loop and waits for it to return.
func (a *Agency) OnLoop(fn func()) error {
	finished := make(chan struct{})
	a.engine.CallNext(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-time.After(loopTimeout):
		return ErrLoopBusy
	}
}

// Wait blocks until the event loop returns or ctx is done.
func (a *Agency) Wait(ctx context.Context) error {
	select {
	case err := <-a.done:
		a.done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop disconnects everything, stops the event loop and closes the
// recorder. Workers spawned by the agency are terminated. Only the first
// call does anything.
func (a *Agency) Stop(ctx context.Context) {
	a.stopOnce.Do(func() { a.stop(ctx) })
}

func (a *Agency) stop(ctx context.Context) {
	if err := a.OnLoop(a.coordinator.Disconnect); err != nil {
		a.logger.Error("cannot disconnect the coordinator", "error", err)
	}

	a.engine.Stop()

	if a.monitor != nil {
		if err := a.monitor.StopServer(ctx); err != nil {
			a.logger.Warn("monitor shutdown", "error", err)
		}
	}

	if a.spawner != nil {
		a.spawner.Stop()
	}

	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Error("cannot close the recorder", "error", err)
		}

		a.recorder = nil
	}

	a.logger.Info("agency stopped")
}
