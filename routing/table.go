package routing

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/logging"
)

// Hook positions of a Table. Route hooks carry the *Route as the item;
// message hooks carry the message as the item and the route as the detail.
var (
	HookPosRouteAppended = &hooking.HookPos{Name: "RouteAppended"}
	HookPosRouteRemoved  = &hooking.HookPos{Name: "RouteRemoved"}
	HookPosMsgDelivered  = &hooking.HookPos{Name: "MsgDelivered"}
	HookPosSinkFailed    = &hooking.HookPos{Name: "SinkFailed"}
)

// Table matches messages against routes.
//
// Routes are tried by ascending priority. Routes with the same priority are
// tried in the order they were appended. Matching stops after a final route
// accepted the message. The outgoing sink is tried last, and only for
// outgoing traffic.
type Table interface {
	hooking.Hookable

	AppendRoute(r *Route)
	RemoveRoute(r *Route) bool
	RemoveSink(sink comm.Sink) int
	Lookup(key comm.RoutingKey) []*Route
	SetOutgoingSink(sink comm.Sink)
	OutgoingSink() comm.Sink
	Routes() []*Route
	Dispatch(msg comm.Msg, outgoing bool) int
}

// NewTable creates a new Table.
func NewTable(logger *slog.Logger) Table {
	return &table{
		logger: logging.OrNop(logger),
		routes: make(map[comm.RoutingKey][]*Route),
	}
}

type table struct {
	hooking.HookableBase

	logger   *slog.Logger
	routes   map[comm.RoutingKey][]*Route
	outgoing *Route
}

func (t *table) Name() string {
	return "RoutingTable"
}

func (t *table) AppendRoute(r *Route) {
	list := t.routes[r.Key]
	if slices.Contains(list, r) {
		t.logger.Warn("route already registered", "route", r.String())
		return
	}

	pos := len(list)
	for i, other := range list {
		if other.Priority > r.Priority {
			pos = i
			break
		}
	}

	t.routes[r.Key] = slices.Insert(list, pos, r)

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosRouteAppended,
		Item:   r,
	})
}

func (t *table) RemoveRoute(r *Route) bool {
	list := t.routes[r.Key]

	i := slices.Index(list, r)
	if i < 0 {
		t.logger.Warn("removing a route that is not registered",
			"route", r.String())
		return false
	}

	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(t.routes, r.Key)
	} else {
		t.routes[r.Key] = list
	}

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosRouteRemoved,
		Item:   r,
	})

	return true
}

// RemoveSink removes every route toward sink, including the outgoing route.
func (t *table) RemoveSink(sink comm.Sink) int {
	removed := 0

	for _, r := range t.Routes() {
		if r.Sink == sink && t.RemoveRoute(r) {
			removed++
		}
	}

	if t.outgoing != nil && t.outgoing.Sink == sink {
		t.outgoing = nil
		removed++
	}

	return removed
}

// Lookup returns the routes registered for key in matching order.
func (t *table) Lookup(key comm.RoutingKey) []*Route {
	return slices.Clone(t.routes[key])
}

func (t *table) SetOutgoingSink(sink comm.Sink) {
	if sink == nil {
		t.outgoing = nil
		return
	}

	t.outgoing = NewRoute(sink, comm.RoutingKey{}, OutgoingPriority, true)
}

func (t *table) OutgoingSink() comm.Sink {
	if t.outgoing == nil {
		return nil
	}

	return t.outgoing.Sink
}

// Routes returns every registered route, grouped by key and in matching
// order within a key. The outgoing sink is not included.
func (t *table) Routes() []*Route {
	keys := make([]comm.RoutingKey, 0, len(t.routes))
	for k := range t.routes {
		keys = append(keys, k)
	}

	slices.SortFunc(keys, func(a, b comm.RoutingKey) int {
		if a.Shard != b.Shard {
			return cmp.Compare(a.Shard, b.Shard)
		}

		return cmp.Compare(a.Key, b.Key)
	})

	var all []*Route
	for _, k := range keys {
		all = append(all, t.routes[k]...)
	}

	return all
}

func (t *table) Dispatch(msg comm.Msg, outgoing bool) int {
	key := msg.Meta().Recipient.RoutingKey()

	candidates := slices.Clone(t.routes[key])
	if outgoing && t.outgoing != nil {
		candidates = append(candidates, t.outgoing)
	}

	delivered := 0

	for _, r := range candidates {
		if !t.deliver(r, msg) {
			continue
		}

		delivered++

		t.InvokeHook(hooking.HookCtx{
			Domain: t,
			Pos:    HookPosMsgDelivered,
			Item:   msg,
			Detail: r,
		})

		if r.Final {
			break
		}
	}

	if delivered == 0 {
		t.logger.Debug("message not delivered",
			"key", key.String(),
			"message_id", msg.Meta().ID,
			"outgoing", outgoing)
	}

	return delivered
}

func (t *table) deliver(r *Route, msg comm.Msg) (accepted bool) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}

		accepted = false
		t.logger.Error("sink failed",
			"route", r.String(),
			"message_id", msg.Meta().ID,
			"error", fmt.Errorf("%v", p))

		t.InvokeHook(hooking.HookCtx{
			Domain: t,
			Pos:    HookPosSinkFailed,
			Item:   msg,
			Detail: r,
		})
	}()

	return r.Sink.OnMessage(msg.Clone())
}
