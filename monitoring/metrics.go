package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sarchlab/agency/hooking"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/routing"
	"github.com/sarchlab/agency/tunneling"
)

// MetricsHook counts the routing activity it is hooked to.
type MetricsHook struct {
	delivered    *prometheus.CounterVec
	accepted     prometheus.Counter
	rejected     *prometheus.CounterVec
	sinkFailures prometheus.Counter
	bridged      prometheus.Counter
	routes       prometheus.Gauge
	connected    prometheus.Gauge
}

// NewMetricsHook creates a MetricsHook and registers its collectors.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	h := &MetricsHook{
		delivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agency_messages_delivered_total",
				Help: "Messages handed to a sink, by kind of route.",
			},
			[]string{"route"},
		),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agency_messages_accepted_total",
			Help: "Messages admitted by a channel.",
		}),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agency_messages_rejected_total",
				Help: "Messages refused by a channel, by reason.",
			},
			[]string{"reason"},
		),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agency_sink_failures_total",
			Help: "Sinks that failed while taking a message.",
		}),
		bridged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agency_messages_bridged_total",
			Help: "Messages carried by an emulated tunnel bridge.",
		}),
		routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agency_routes",
			Help: "Routes in the routing table.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agency_connected",
			Help: "1 when every backend is connected.",
		}),
	}

	reg.MustRegister(h.delivered, h.accepted, h.rejected, h.sinkFailures,
		h.bridged, h.routes, h.connected)

	return h
}

// Func updates the collectors.
func (h *MetricsHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case routing.HookPosMsgDelivered:
		if r, ok := ctx.Detail.(*routing.Route); ok {
			h.delivered.WithLabelValues(routeKind(r)).Inc()
		}
	case routing.HookPosSinkFailed:
		h.sinkFailures.Inc()
	case routing.HookPosRouteAppended:
		h.routes.Inc()
	case routing.HookPosRouteRemoved:
		h.routes.Dec()
	case messaging.HookPosMsgAccepted:
		h.accepted.Inc()
	case messaging.HookPosMsgRejected:
		if a, ok := ctx.Detail.(messaging.Admission); ok {
			h.rejected.WithLabelValues(a.Reason.String()).Inc()
		}
	case messaging.HookPosConnectivityChanged:
		connected, _ := ctx.Item.(bool)
		h.SetConnected(connected)
	case tunneling.HookPosMsgBridged:
		h.bridged.Inc()
	}
}

// SetConnected sets the connectivity gauge.
func (h *MetricsHook) SetConnected(connected bool) {
	if connected {
		h.connected.Set(1)
	} else {
		h.connected.Set(0)
	}
}

func routeKind(r *routing.Route) string {
	switch r.Priority {
	case routing.LocalPriority:
		return "local"
	case routing.OutgoingPriority:
		return "outgoing"
	default:
		return "remote"
	}
}
