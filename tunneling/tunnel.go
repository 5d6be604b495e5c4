package tunneling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sarchlab/agency/backoff"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/logging"
	"github.com/sarchlab/agency/timing"
)

// Identity is the product name tunnels put in the Server and User-Agent
// headers.
const Identity = "AgencyTunnel"

// ReplyHostHeader carries the host:port the sender listens on.
const ReplyHostHeader = "X-Reply-Host"

// DefaultRequestTimeout bounds every request a tunnel makes.
const DefaultRequestTimeout = 5 * time.Minute

// PortRange is an inclusive range of ports.
type PortRange struct {
	Min, Max int
}

// A Tunnel is an HTTP server receiving messages and a client posting them
// to other tunnels.
//
// Everything but the HTTP handlers runs on the event loop. Requests are
// made on their own goroutines and their outcome is handed back to the loop.
type Tunnel struct {
	logger    *slog.Logger
	engine    timing.Engine
	codec     *codec.Codec
	host      string
	portRange PortRange
	client    *http.Client

	onMessage func(uri string, msg comm.Msg)

	serverLock sync.Mutex
	server     *http.Server
	listener   net.Listener
	uri        string

	peers       map[peerKey]*peer
	pendings    map[peerKey][]pendingPost
	quarantined map[peerKey]bool
	retrier     *backoff.Retrier[peerKey]
	inflight    atomic.Int64
}

type peerKey struct {
	scheme, host string
}

func (k peerKey) String() string {
	return k.scheme + "://" + k.host
}

type peer struct {
	key           peerKey
	peerVersion   int
	targetVersion int
}

type pendingPost struct {
	path       string
	msg        comm.Msg
	expiration timing.VTimeInSec
}

// TunnelBuilder builds Tunnels.
type TunnelBuilder struct {
	logger    *slog.Logger
	engine    timing.Engine
	codec     *codec.Codec
	host      string
	portRange PortRange
	policy    backoff.Policy
	client    *http.Client
}

// MakeTunnelBuilder returns a builder with default parameters.
func MakeTunnelBuilder() TunnelBuilder {
	return TunnelBuilder{
		host:      "localhost",
		portRange: PortRange{Min: 5400, Max: 5500},
		policy:    backoff.DefaultPolicy,
	}
}

// WithEngine sets the event loop.
func (b TunnelBuilder) WithEngine(e timing.Engine) TunnelBuilder {
	b.engine = e
	return b
}

// WithLogger sets the logger.
func (b TunnelBuilder) WithLogger(l *slog.Logger) TunnelBuilder {
	b.logger = l
	return b
}

// WithCodec sets the codec. Its version is the version of the tunnel.
func (b TunnelBuilder) WithCodec(c *codec.Codec) TunnelBuilder {
	b.codec = c
	return b
}

// WithHost sets the host the tunnel listens on and advertises.
func (b TunnelBuilder) WithHost(host string) TunnelBuilder {
	b.host = host
	return b
}

// WithPortRange sets the ports the tunnel tries to listen on.
func (b TunnelBuilder) WithPortRange(r PortRange) TunnelBuilder {
	b.portRange = r
	return b
}

// WithMaxDelay sets the ceiling of the retry delays.
func (b TunnelBuilder) WithMaxDelay(d timing.VTimeInSec) TunnelBuilder {
	b.policy = b.policy.WithMax(d)
	return b
}

// WithRetryPolicy replaces the retry policy.
func (b TunnelBuilder) WithRetryPolicy(p backoff.Policy) TunnelBuilder {
	b.policy = p
	return b
}

// WithHTTPClient sets the client used to reach peers.
func (b TunnelBuilder) WithHTTPClient(c *http.Client) TunnelBuilder {
	b.client = c
	return b
}

// Build creates the Tunnel. onMessage is called from the HTTP handlers with
// every decoded message and the uri replies should go to.
func (b TunnelBuilder) Build(onMessage func(uri string, msg comm.Msg)) *Tunnel {
	if b.engine == nil {
		panic("tunnel needs an engine")
	}

	c := b.codec
	if c == nil {
		c = codec.New(codec.DefaultRegistry(), codec.JSON, codec.CurrentVersion)
	}

	client := b.client
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}

	return &Tunnel{
		logger:      logging.OrNop(b.logger).With("tunnel", "http"),
		engine:      b.engine,
		codec:       c,
		host:        b.host,
		portRange:   b.portRange,
		client:      client,
		onMessage:   onMessage,
		peers:       make(map[peerKey]*peer),
		pendings:    make(map[peerKey][]pendingPost),
		quarantined: make(map[peerKey]bool),
		retrier:     backoff.NewRetrier[peerKey](b.engine, b.policy, nil),
	}
}

// Version returns the version the tunnel speaks.
func (t *Tunnel) Version() int {
	return t.codec.Version()
}

// URI returns the uri the tunnel listens at, or "" when not listening.
func (t *Tunnel) URI() string {
	t.serverLock.Lock()
	defer t.serverLock.Unlock()

	return t.uri
}

// Handler returns the HTTP handler of the tunnel.
func (t *Tunnel) Handler() http.Handler {
	router := mux.NewRouter()
	router.PathPrefix("/").Methods(http.MethodHead).HandlerFunc(t.handleHead)
	router.PathPrefix("/").Methods(http.MethodPost).HandlerFunc(t.handlePost)
	router.MethodNotAllowedHandler = http.HandlerFunc(t.handleNotAllowed)

	return router
}

// StartListening binds the first free port of the range and serves. A range
// of port 0 lets the system pick the port.
func (t *Tunnel) StartListening() error {
	t.serverLock.Lock()
	defer t.serverLock.Unlock()

	if t.listener != nil {
		return nil
	}

	for port := t.portRange.Min; port <= t.portRange.Max; port++ {
		addr := net.JoinHostPort(t.host, strconv.Itoa(port))

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}

		bound := listener.Addr().(*net.TCPAddr).Port
		t.listener = listener
		t.uri = fmt.Sprintf("http://%s/",
			net.JoinHostPort(t.host, strconv.Itoa(bound)))
		t.server = &http.Server{
			Handler:           t.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func(s *http.Server, l net.Listener) {
			err := s.Serve(l)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.logger.Error("tunnel server stopped", "error", err)
			}
		}(t.server, listener)

		t.logger.Info("listening for tunnel connections", "uri", t.uri)

		return nil
	}

	return fmt.Errorf("%s:%d-%d: %w",
		t.host, t.portRange.Min, t.portRange.Max, ErrNoFreePort)
}

// StopListening stops the server.
func (t *Tunnel) StopListening() {
	t.serverLock.Lock()
	defer t.serverLock.Unlock()

	if t.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Warn("tunnel server did not stop cleanly", "error", err)
	}

	t.server = nil
	t.listener = nil
	t.uri = ""
}

// Disconnect cancels every retry and forgets every peer.
func (t *Tunnel) Disconnect() {
	t.retrier.CancelAll()
	clear(t.peers)
	clear(t.pendings)
	clear(t.quarantined)
}

// IsIdle tells if nothing is waiting to be sent.
func (t *Tunnel) IsIdle() bool {
	return t.retrier.Len() == 0 &&
		len(t.pendings) == 0 &&
		t.inflight.Load() == 0
}

// Peers returns the uris of the known peers.
func (t *Tunnel) Peers() []string {
	uris := make([]string, 0, len(t.peers))
	for k := range t.peers {
		uris = append(uris, k.String()+"/")
	}

	return uris
}

// Post sends msg to rawURI. Messages to peers being connected or in
// quarantine wait until the peer is reachable or the message expired.
func (t *Tunnel) Post(rawURI string, msg comm.Msg) error {
	u, err := url.Parse(rawURI)
	if err != nil {
		return fmt.Errorf("parse tunnel uri %q: %w", rawURI, err)
	}

	key := peerKey{scheme: u.Scheme, host: u.Host}
	post := pendingPost{
		path:       u.RequestURI(),
		msg:        msg,
		expiration: msg.Meta().ExpirationTime,
	}

	switch {
	case t.quarantined[key]:
		t.addPending(key, post)
	case t.peers[key] == nil:
		t.addPending(key, post)
		t.connect(key)
	default:
		t.send(key, post)
	}

	return nil
}

func (t *Tunnel) addPending(key peerKey, post pendingPost) {
	t.pendings[key] = append(t.pendings[key], post)
}

func (t *Tunnel) connect(key peerKey) {
	t.logger.Debug("connecting to tunnel peer", "peer", key.String())

	t.quarantined[key] = true
	p := &peer{key: key}
	t.peers[key] = p

	req, err := http.NewRequest(http.MethodHead, key.String()+"/", nil)
	if err != nil {
		t.fatalError(key, err)
		return
	}

	t.setHeaders(req, t.Version())
	t.inflight.Add(1)

	go func() {
		resp, err := t.client.Do(req)
		if resp != nil {
			resp.Body.Close()
		}

		t.engine.CallNext(func() {
			t.inflight.Add(-1)
			t.handshakeDone(p, resp, err)
		})
	}()
}

func (t *Tunnel) handshakeDone(p *peer, resp *http.Response, err error) {
	key := p.key
	if t.peers[key] != p {
		return
	}

	if err != nil {
		t.logger.Warn("cannot reach tunnel peer",
			"peer", key.String(), "error", err)
		delete(t.peers, key)
		t.scheduleRetry(key)

		return
	}

	version, err := parseIdentity(resp.Header.Get("Server"))
	if err != nil {
		t.fatalError(key, err)
		return
	}

	p.peerVersion = version
	p.targetVersion = min(version, t.Version())

	t.retrier.Reset(key)
	delete(t.quarantined, key)
	t.postPendings(key)
}

func (t *Tunnel) send(key peerKey, post pendingPost) {
	now := t.engine.Now()
	if post.expiration > 0 && post.expiration <= now {
		t.logger.Debug("dropping expired tunnel message",
			"peer", key.String(), "message_id", post.msg.Meta().ID)
		return
	}

	p := t.peers[key]

	body, err := t.codec.Encode(post.msg, p.targetVersion)
	if err != nil {
		t.logger.Error("cannot encode tunnel message",
			"peer", key.String(), "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost,
		key.String()+post.path, bytes.NewReader(body))
	if err != nil {
		t.logger.Error("cannot build tunnel request",
			"peer", key.String(), "error", err)
		return
	}

	t.setHeaders(req, p.targetVersion)
	t.inflight.Add(1)

	go func() {
		resp, err := t.client.Do(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		t.engine.CallNext(func() {
			t.inflight.Add(-1)
			t.postDone(key, post, status, err)
		})
	}()
}

func (t *Tunnel) postDone(key peerKey, post pendingPost, status int, err error) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		t.logger.Debug("tunnel post failed, quarantining peer",
			"peer", key.String(), "status", status, "error", err)
		t.addPending(key, post)
		t.quarantined[key] = true
		t.scheduleRetry(key)
	case status != http.StatusOK:
		t.logger.Error("tunnel peer refused message",
			"peer", key.String(),
			"status", status,
			"message_id", post.msg.Meta().ID)
	}
}

func (t *Tunnel) setHeaders(req *http.Request, version int) {
	req.Header.Set("Content-Type", t.codec.Format().ContentType())
	req.Header.Set("User-Agent", identity(version))

	if uri := t.URI(); uri != "" {
		if u, err := url.Parse(uri); err == nil {
			req.Header.Set(ReplyHostHeader, u.Host)
		}
	}
}

func (t *Tunnel) postPendings(key peerKey) {
	posts := t.pendings[key]
	delete(t.pendings, key)

	for _, post := range posts {
		t.send(key, post)
	}
}

func (t *Tunnel) cleanupExpired(key peerKey) {
	now := t.engine.Now()

	var alive []pendingPost
	for _, post := range t.pendings[key] {
		if post.expiration <= 0 || post.expiration > now {
			alive = append(alive, post)
		}
	}

	if len(alive) == 0 {
		delete(t.pendings, key)
		return
	}

	t.pendings[key] = alive
}

func (t *Tunnel) scheduleRetry(key peerKey) {
	if t.retrier.Pending(key) {
		return
	}

	delay := t.retrier.Schedule(key, func() { t.retry(key) })
	t.logger.Debug("tunnel retry scheduled",
		"peer", key.String(), "delay", delay)
}

func (t *Tunnel) retry(key peerKey) {
	t.cleanupExpired(key)

	if len(t.pendings[key]) == 0 {
		delete(t.quarantined, key)
		t.retrier.Reset(key)

		return
	}

	t.connect(key)
}

func (t *Tunnel) fatalError(key peerKey, err error) {
	pendings := t.pendings[key]
	delete(t.pendings, key)
	delete(t.quarantined, key)
	delete(t.peers, key)
	t.retrier.Reset(key)

	t.logger.Error("fatal tunnel error, dropping messages",
		"peer", key.String(), "dropped", len(pendings), "error", err)
}

func (t *Tunnel) handleHead(w http.ResponseWriter, r *http.Request) {
	vcli, err := parseIdentity(r.Header.Get("User-Agent"))
	if err != nil {
		t.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Server", identity(min(vcli, t.Version())))
	w.WriteHeader(http.StatusOK)
}

func (t *Tunnel) handlePost(w http.ResponseWriter, r *http.Request) {
	vsrv := t.Version()

	contentType := t.codec.Format().ContentType()
	if mediaType(r.Header.Get("Content-Type")) != contentType {
		t.writeError(w, http.StatusUnsupportedMediaType,
			"only "+contentType+" is supported")
		return
	}

	vcli, err := parseIdentity(r.Header.Get("User-Agent"))
	if err != nil {
		t.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if vcli > vsrv {
		t.writeError(w, http.StatusUnsupportedMediaType,
			"message version not supported")
		return
	}

	replyHost := r.Header.Get(ReplyHostHeader)
	if replyHost == "" {
		t.writeError(w, http.StatusBadRequest, "message without reply host")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.writeError(w, http.StatusBadRequest, "cannot read message")
		return
	}

	msg, err := t.codec.Decode(body)
	if err != nil {
		t.logger.Warn("cannot decode tunnel message", "error", err)
		t.writeError(w, http.StatusBadRequest,
			"invalid message, decoding failed")
		return
	}

	t.onMessage("http://"+replyHost+"/", msg)

	w.Header().Set("Server", identity(vcli))
	w.WriteHeader(http.StatusOK)
}

func (t *Tunnel) handleNotAllowed(w http.ResponseWriter, _ *http.Request) {
	t.writeError(w, http.StatusMethodNotAllowed,
		"method not allowed, only POST and HEAD")
}

func (t *Tunnel) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Server", identity(t.Version()))
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}

	return mt
}

func identity(version int) string {
	return Identity + "/" + strconv.Itoa(version)
}

func parseIdentity(header string) (int, error) {
	if header == "" {
		return 0, fmt.Errorf("missing identity: %w", ErrForeignPeer)
	}

	name, version, found := strings.Cut(header, "/")
	if !found || name != Identity {
		return 0, fmt.Errorf("%q: %w", header, ErrForeignPeer)
	}

	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", header, ErrForeignPeer)
	}

	return v, nil
}
