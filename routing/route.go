// Package routing decides which sinks receive a message.
package routing

import (
	"fmt"
	"math"

	"github.com/sarchlab/agency/comm"
)

// Priorities used by the agency. Lower priorities are tried first.
const (
	LocalPriority    = 0
	BrokerPriority   = 10
	TunnelPriority   = 10
	OutgoingPriority = math.MaxInt
)

// A Route ties a routing key to a sink.
type Route struct {
	Sink     comm.Sink
	Key      comm.RoutingKey
	Priority int

	// Final routes stop the matching once their sink accepted a message.
	Final bool
}

// NewRoute creates a Route.
func NewRoute(
	sink comm.Sink,
	key comm.RoutingKey,
	priority int,
	final bool,
) *Route {
	return &Route{
		Sink:     sink,
		Key:      key,
		Priority: priority,
		Final:    final,
	}
}

func (r *Route) String() string {
	return fmt.Sprintf("%s prio=%d final=%t", r.Key, r.Priority, r.Final)
}
