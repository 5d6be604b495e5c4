// Package monitoring serves the state of a running agency over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sarchlab/agency/broker"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/timing"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Component is anything the monitor can dump.
type Component interface {
	Name() string
}

// errLoopBusy is returned when the event loop did not answer in time, for
// example because the engine is paused.
var errLoopBusy = errors.New("event loop did not answer")

// Monitor turns an agency into a server that can be inspected and
// controlled from outside.
type Monitor struct {
	engine      timing.Engine
	coordinator *messaging.Coordinator
	spawner     *broker.Spawner
	components  []Component
	portNumber  int
	logger      *slog.Logger
	loopTimeout time.Duration

	registry *prometheus.Registry
	metrics  *MetricsHook

	serverLock sync.Mutex
	server     *http.Server
	url        string
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	reg := prometheus.NewRegistry()

	return &Monitor{
		logger:      logging.NewNop(),
		loopTimeout: 5 * time.Second,
		registry:    reg,
		metrics:     NewMetricsHook(reg),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// refused and a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 && portNumber != 0 {
		m.logger.Warn("port not allowed for the monitor, using a random one",
			"port", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(logger *slog.Logger) *Monitor {
	m.logger = logging.OrNop(logger)
	return m
}

// Metrics returns the hook feeding the /metrics endpoint.
func (m *Monitor) Metrics() *MetricsHook {
	return m.metrics
}

// RegisterEngine registers the event loop of the agency.
func (m *Monitor) RegisterEngine(e timing.Engine) {
	m.engine = e
}

// RegisterCoordinator registers the coordinator of the agency and hooks the
// metrics to it and to its routing table.
func (m *Monitor) RegisterCoordinator(c *messaging.Coordinator) {
	m.coordinator = c
	c.AcceptHook(m.metrics)
	c.Routing().AcceptHook(m.metrics)
	m.metrics.SetConnected(c.IsConnected())
	m.metrics.routes.Set(float64(len(c.Routing().Routes())))

	m.RegisterComponent(c)
}

// RegisterSpawner registers the spawner whose workers /api/workers reports.
func (m *Monitor) RegisterSpawner(s *broker.Spawner) {
	m.spawner = s
}

// RegisterComponent registers a component that can be dumped.
func (m *Monitor) RegisterComponent(c Component) {
	m.components = append(m.components, c)
}

// Handler returns the router of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueEngine).Methods(http.MethodPost)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/routes", m.listRoutes)
	r.HandleFunc("/api/backends", m.listBackends)
	r.HandleFunc("/api/channels", m.listChannels)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/workers", m.listWorkers)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.Handle("/metrics",
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return r
}

// StartServer starts serving in the background.
func (m *Monitor) StartServer() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.portNumber))
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	m.serverLock.Lock()
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	m.url = fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	server := m.server
	m.serverLock.Unlock()

	fmt.Fprintf(os.Stderr, "Monitoring agency with %s\n", m.url)

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor server failed", "error", err)
		}
	}()

	return nil
}

// URL returns the address of the server, or an empty string before
// StartServer.
func (m *Monitor) URL() string {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	return m.url
}

// OpenInBrowser opens the monitor in the default browser.
func (m *Monitor) OpenInBrowser() error {
	url := m.URL()
	if url == "" {
		return errors.New("monitor: server not started")
	}

	return browser.OpenURL(url + "/api/list_components")
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	m.serverLock.Lock()
	server := m.server
	m.server = nil
	m.serverLock.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

// onLoop runs fn inside the event loop and waits for it.
func (m *Monitor) onLoop(fn func()) error {
	done := make(chan struct{})
	m.engine.CallNext(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-time.After(m.loopTimeout):
		return errLoopBusy
	}
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("monitor failed to write response", "error", err)
	}
}

func (m *Monitor) writeError(w http.ResponseWriter, code int, err error) {
	w.WriteHeader(code)

	if _, werr := fmt.Fprintf(w, "Error: %s", err); werr != nil {
		m.logger.Error("monitor failed to write response", "error", werr)
	}
}

// inspect reads the agency from inside the loop and writes the result.
func (m *Monitor) inspect(w http.ResponseWriter, read func() any) {
	if m.engine == nil {
		m.writeError(w, http.StatusServiceUnavailable,
			errors.New("no engine registered"))
		return
	}

	var v any
	if err := m.onLoop(func() { v = read() }); err != nil {
		m.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	m.writeJSON(w, v)
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.engine.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "{\"now\":%.10f}", m.engine.Now())
}

type routeRsp struct {
	Key      string `json:"key"`
	Shard    string `json:"shard"`
	Priority int    `json:"priority"`
	Final    bool   `json:"final"`
	Sink     string `json:"sink"`
}

func (m *Monitor) listRoutes(w http.ResponseWriter, _ *http.Request) {
	m.inspect(w, func() any {
		routes := m.coordinator.Routing().Routes()

		rsp := make([]routeRsp, 0, len(routes))
		for _, r := range routes {
			rsp = append(rsp, routeRsp{
				Key:      r.Key.Key,
				Shard:    r.Key.Shard,
				Priority: r.Priority,
				Final:    r.Final,
				Sink:     fmt.Sprintf("%T", r.Sink),
			})
		}

		return rsp
	})
}

type backendRsp struct {
	ChannelType string `json:"channel_type"`
	Connected   bool   `json:"connected"`
	Idle        bool   `json:"idle"`
	Outgoing    bool   `json:"outgoing"`
}

func (m *Monitor) listBackends(w http.ResponseWriter, _ *http.Request) {
	m.inspect(w, func() any {
		outgoing := m.coordinator.Routing().OutgoingSink()

		var rsp []backendRsp
		for _, b := range m.coordinator.Backends() {
			item := backendRsp{
				ChannelType: b.ChannelType(),
				Connected:   b.IsConnected(),
				Idle:        true,
			}

			if r, ok := b.(messaging.IdleReporter); ok {
				item.Idle = r.IsIdle()
			}

			if sink, ok := b.(comm.Sink); ok && outgoing != nil {
				item.Outgoing = sink == outgoing
			}

			rsp = append(rsp, item)
		}

		return rsp
	})
}

type channelRsp struct {
	AgentID  string   `json:"agent_id"`
	Shard    string   `json:"shard"`
	Bindings []string `json:"bindings"`
}

func (m *Monitor) listChannels(w http.ResponseWriter, _ *http.Request) {
	m.inspect(w, func() any {
		var rsp []channelRsp
		for _, ch := range m.coordinator.Channels() {
			item := channelRsp{AgentID: ch.AgentID(), Shard: ch.Shard()}
			for _, b := range ch.Bindings() {
				item.Bindings = append(item.Bindings, b.Recipient().String())
			}

			rsp = append(rsp, item)
		}

		return rsp
	})
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}

	m.writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	component := m.findComponentOr404(w, mux.Vars(r)["name"])
	if component == nil {
		return
	}

	m.serialize(w, component, nil)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}
	if err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req); err != nil {
		m.writeError(w, http.StatusBadRequest, err)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	m.serialize(w, component, strings.Split(req.FieldName, "."))
}

func (m *Monitor) serialize(
	w http.ResponseWriter,
	component Component,
	entry []string,
) {
	buf := bytes.NewBuffer(nil)

	err := m.onLoop(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(component)
		serializer.SetMaxDepth(1)

		if entry != nil {
			if err := serializer.SetEntryPoint(entry); err != nil {
				fmt.Fprintf(buf, "Error: %s", err)
				return
			}
		}

		if err := serializer.Serialize(buf); err != nil {
			buf.Reset()
			fmt.Fprintf(buf, "Error: %s", err)
		}
	})
	if err != nil {
		m.writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	if bytes.HasPrefix(buf.Bytes(), []byte("Error: ")) {
		w.WriteHeader(http.StatusBadRequest)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		m.logger.Error("monitor failed to write response", "error", err)
	}
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) Component {
	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	m.writeError(w, http.StatusNotFound, errors.New("component not found"))

	return nil
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	})
}

type workersRsp struct {
	Spawned  []broker.WorkerStats `json:"spawned"`
	Attached []broker.WorkerInfo  `json:"attached"`
}

func (m *Monitor) listWorkers(w http.ResponseWriter, _ *http.Request) {
	rsp := workersRsp{Spawned: []broker.WorkerStats{}}
	if m.spawner != nil {
		rsp.Spawned = m.spawner.Stats()
	}

	if m.coordinator != nil {
		err := m.onLoop(func() {
			backend, found := m.coordinator.Backend(broker.ChannelType)
			if master, ok := backend.(*broker.Master); found && ok {
				rsp.Attached = master.Workers()
			}
		})
		if err != nil {
			m.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		m.writeError(w, http.StatusConflict, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}

	m.writeJSON(w, prof)
}
