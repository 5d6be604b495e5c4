package datarecording

import (
	"fmt"

	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/timing"
	"github.com/sarchlab/agency/tunneling"
)

// Tables written by the TopologyRecorder.
const (
	RouteTable        = "route_event"
	ConnectivityTable = "connectivity_event"
	BridgeTable       = "bridge_event"
)

// RouteEvent is a route appended to or removed from a routing table.
type RouteEvent struct {
	Time     float64
	Event    string
	Key      string
	Shard    string
	Priority int
	Final    bool
	Sink     string
}

// ConnectivityEvent is a flip of the connectivity of a coordinator.
type ConnectivityEvent struct {
	Time        float64
	Coordinator string
	Connected   bool
}

// BridgeEvent is a message crossing an emulated tunnel bridge.
type BridgeEvent struct {
	Time        float64
	From        string
	To          string
	WireVersion int
	MessageID   string
}

// TopologyRecorder is a hook that records how the routing topology of an
// agency changes over time. Message contents are not recorded.
type TopologyRecorder struct {
	recorder DataRecorder
	clock    timing.TimeTeller
}

// NewTopologyRecorder creates the tables it writes to and returns the hook.
func NewTopologyRecorder(
	recorder DataRecorder,
	clock timing.TimeTeller,
) *TopologyRecorder {
	recorder.CreateTable(RouteTable, RouteEvent{})
	recorder.CreateTable(ConnectivityTable, ConnectivityEvent{})
	recorder.CreateTable(BridgeTable, BridgeEvent{})

	return &TopologyRecorder{
		recorder: recorder,
		clock:    clock,
	}
}

type named interface {
	Name() string
}

// Func records the hook invocation if it is about the topology.
func (r *TopologyRecorder) Func(ctx hooking.HookCtx) {
	now := float64(r.clock.Now())

	switch ctx.Pos {
	case routing.HookPosRouteAppended, routing.HookPosRouteRemoved:
		route, ok := ctx.Item.(*routing.Route)
		if !ok {
			return
		}

		event := "appended"
		if ctx.Pos == routing.HookPosRouteRemoved {
			event = "removed"
		}

		r.recorder.InsertData(RouteTable, RouteEvent{
			Time:     now,
			Event:    event,
			Key:      route.Key.Key,
			Shard:    route.Key.Shard,
			Priority: route.Priority,
			Final:    route.Final,
			Sink:     fmt.Sprintf("%T", route.Sink),
		})
	case messaging.HookPosConnectivityChanged:
		connected, _ := ctx.Item.(bool)

		name := ""
		if d, ok := ctx.Domain.(named); ok {
			name = d.Name()
		}

		r.recorder.InsertData(ConnectivityTable, ConnectivityEvent{
			Time:        now,
			Coordinator: name,
			Connected:   connected,
		})
	case tunneling.HookPosMsgBridged:
		crossing, ok := ctx.Detail.(tunneling.BridgeCrossing)
		if !ok {
			return
		}

		event := BridgeEvent{
			Time:        now,
			From:        crossing.From,
			To:          crossing.To,
			WireVersion: crossing.WireVersion,
		}

		if msg, ok := ctx.Item.(comm.Msg); ok {
			event.MessageID = msg.Meta().ID
		}

		r.recorder.InsertData(BridgeTable, event)
	}
}
