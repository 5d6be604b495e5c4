package broker

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/sarchlab/agency/logging"
)

// WorkerStats reports the resource use of a spawned worker.
type WorkerStats struct {
	ID         string  `json:"id"`
	PID        int     `json:"pid"`
	Running    bool    `json:"running"`
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

// DefaultStopTimeout is how long Stop lets workers exit before killing them.
const DefaultStopTimeout = 10 * time.Second

type worker struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// A Spawner starts worker processes that join the broker as slaves.
type Spawner struct {
	executable string
	args       []string
	socket      string
	logger      *slog.Logger
	stopTimeout time.Duration

	lock    sync.Mutex
	workers []*worker
}

// NewSpawner creates a Spawner running executable with args, followed by
// `worker --socket <socket> --worker-id <id>`.
func NewSpawner(
	executable string,
	args []string,
	socket string,
	logger *slog.Logger,
) *Spawner {
	return &Spawner{
		executable:  executable,
		args:        args,
		socket:      socket,
		logger:      logging.OrNop(logger),
		stopTimeout: DefaultStopTimeout,
	}
}

// Spawn starts n workers.
func (s *Spawner) Spawn(n int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for range n {
		id := xid.New().String()

		args := append(append([]string{}, s.args...),
			"worker", "--socket", s.socket, "--worker-id", id)
		cmd := exec.Command(s.executable, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawn worker: %w", err)
		}

		w := &worker{id: id, cmd: cmd, done: make(chan struct{})}
		go func() {
			w.err = cmd.Wait()
			close(w.done)
		}()

		s.workers = append(s.workers, w)
		s.logger.Info("worker spawned", "worker", id, "pid", cmd.Process.Pid)
	}

	return nil
}

// Stats reports every spawned worker.
func (s *Spawner) Stats() []WorkerStats {
	s.lock.Lock()
	defer s.lock.Unlock()

	stats := make([]WorkerStats, 0, len(s.workers))
	for _, w := range s.workers {
		st := WorkerStats{ID: w.id, PID: w.cmd.Process.Pid}

		select {
		case <-w.done:
		default:
			st.Running = true
			s.measure(&st)
		}

		stats = append(stats, st)
	}

	return stats
}

func (s *Spawner) measure(st *WorkerStats) {
	p, err := process.NewProcess(int32(st.PID))
	if err != nil {
		return
	}

	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}

	if mem, err := p.MemoryInfo(); err == nil {
		st.MemorySize = mem.RSS
	}
}

// Stop terminates every worker and waits for them to exit. Workers still
// running after the stop timeout are killed.
func (s *Spawner) Stop() {
	s.lock.Lock()
	workers := s.workers
	s.lock.Unlock()

	for _, w := range workers {
		select {
		case <-w.done:
			continue
		default:
		}

		if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn("stopping worker failed", "worker", w.id,
				"error", err)
		}
	}

	deadline := time.NewTimer(s.stopTimeout)
	defer deadline.Stop()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline.C:
			s.kill(workers)
			<-w.done
		}

		s.logger.Info("worker stopped", "worker", w.id, "status", w.err)
	}
}

func (s *Spawner) kill(workers []*worker) {
	for _, w := range workers {
		select {
		case <-w.done:
			continue
		default:
		}

		s.logger.Warn("worker ignored termination, killing it",
			"worker", w.id, "pid", w.cmd.Process.Pid)

		if err := w.cmd.Process.Kill(); err != nil {
			s.logger.Warn("killing worker failed", "worker", w.id,
				"error", err)
		}
	}
}
