// Package comm defines what travels through an agency: routing keys,
// recipients, messages, and the sinks that accept them.
package comm

import "fmt"

// RoutingKey is what routes are matched on. Key is an agent id for unicast
// traffic or a protocol id for broadcast traffic; Shard is the namespace the
// message travels within.
type RoutingKey struct {
	Key   string `json:"key" cbor:"key"`
	Shard string `json:"shard" cbor:"shard"`
}

func (k RoutingKey) String() string {
	return k.Key + "@" + k.Shard
}

// RecipientType tells unicast and broadcast recipients apart.
type RecipientType int

// Recipient types.
const (
	AgentRecipient RecipientType = iota
	BroadcastRecipient
)

func (t RecipientType) String() string {
	switch t {
	case AgentRecipient:
		return "agent"
	case BroadcastRecipient:
		return "broadcast"
	default:
		return fmt.Sprintf("RecipientType(%d)", int(t))
	}
}

// A Recipient is an address. It resolves to exactly one RoutingKey.
type Recipient struct {
	Type  RecipientType `json:"type" cbor:"type"`
	Key   string        `json:"key" cbor:"key"`
	Shard string        `json:"shard" cbor:"shard"`
}

// Agent addresses the agent with the given id in the given shard.
func Agent(key, shard string) Recipient {
	return Recipient{Type: AgentRecipient, Key: key, Shard: shard}
}

// Broadcast addresses every agent interested in the protocol within the
// shard.
func Broadcast(protocolID, shard string) Recipient {
	return Recipient{Type: BroadcastRecipient, Key: protocolID, Shard: shard}
}

// RoutingKey resolves the recipient.
func (r Recipient) RoutingKey() RoutingKey {
	return RoutingKey{Key: r.Key, Shard: r.Shard}
}

// IsZero tells if the recipient was never set.
func (r Recipient) IsZero() bool {
	return r == Recipient{}
}

func (r Recipient) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.RoutingKey())
}
