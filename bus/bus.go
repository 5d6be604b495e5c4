// Package bus connects agencies through Redis pub/sub.
//
// Every binding of the agency subscribes to one pub/sub channel named after
// its routing key, and every message no local route took is published to
// the channel of its recipient.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sarchlab/agency/backoff"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
	"github.com/sarchlab/agency/messaging"
	"github.com/sarchlab/agency/timing"
)

// ChannelType is the backend id of the bus.
const ChannelType = "bus"

const (
	retryKey       = "server"
	requestTimeout = 5 * time.Second
)

// Backend is the Redis pub/sub backend.
type Backend struct {
	messaging.ConnectionManager

	logger       *slog.Logger
	codec        *codec.Codec
	addr         string
	password     string
	db           int
	prefix       string
	pingInterval timing.VTimeInSec
	policy       backoff.Policy

	msging  messaging.Messaging
	engine  timing.Engine
	client  *redis.Client
	sub     *subscriber
	subs    map[comm.RoutingKey]int
	retrier *backoff.Retrier[string]
	pinger  *timing.DelayedCall

	closed     atomic.Bool
	publishing atomic.Int64
}

// ChannelType returns "bus".
func (b *Backend) ChannelType() string {
	return ChannelType
}

// Addr returns the address of the Redis server in use.
func (b *Backend) Addr() string {
	return b.addr
}

// ChannelName returns the pub/sub channel of a routing key.
func (b *Backend) ChannelName(key comm.RoutingKey) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, key.Shard, key.Key)
}

// Subscriptions returns how many bindings use each subscribed key.
func (b *Backend) Subscriptions() map[comm.RoutingKey]int {
	subs := make(map[comm.RoutingKey]int, len(b.subs))
	for k, n := range b.subs {
		subs[k] = n
	}

	return subs
}

// Initiate connects to the server and subscribes to every existing binding.
// An unreachable server does not fail the backend: it keeps reconnecting.
func (b *Backend) Initiate(_ context.Context, m messaging.Messaging) error {
	b.msging = m
	b.engine = m.Engine()
	b.retrier = backoff.NewRetrier[string](b.engine, b.policy, nil)

	for _, binding := range m.Bindings() {
		b.subs[binding.Key()]++
	}

	b.open()

	return nil
}

// IsIdle tells if no publish is in flight.
func (b *Backend) IsIdle() bool {
	return b.publishing.Load() == 0
}

// Disconnect closes the connection to the server.
func (b *Backend) Disconnect() {
	if b.closed.Swap(true) {
		return
	}

	if b.pinger != nil {
		b.pinger.Cancel()
	}

	if b.retrier != nil {
		b.retrier.CancelAll()
	}

	b.close()
	b.OnDisconnected()
}

// BindingCreated subscribes to the binding's channel, unless another binding
// of the same key already did. While disconnected, the subscription waits
// for the reconnection.
func (b *Backend) BindingCreated(binding *messaging.Binding) {
	key := binding.Key()

	b.subs[key]++
	if b.subs[key] > 1 {
		return
	}

	b.subscribe(b.ChannelName(key))
}

// BindingRemoved unsubscribes from the binding's channel once no binding of
// its key is left.
func (b *Backend) BindingRemoved(binding *messaging.Binding) {
	key := binding.Key()

	n, found := b.subs[key]
	if !found {
		b.logger.Error("removing a binding that was never created",
			"key", key.String())
		return
	}

	if n > 1 {
		b.subs[key] = n - 1
		return
	}

	delete(b.subs, key)

	if b.sub != nil {
		b.sub.unsubscribe(b.ChannelName(key))
	}
}

// CreateExternalRoute re-targets the backend at route.Addr.
func (b *Backend) CreateExternalRoute(
	backendID string,
	route messaging.ExternalRoute,
) bool {
	if backendID != ChannelType {
		return false
	}

	b.logger.Info("re-targeting bus", "from", b.addr, "to", route.Addr)

	b.retrier.Reset(retryKey)
	b.close()
	b.addr = route.Addr
	b.OnDisconnected()
	b.open()

	return true
}

// RemoveExternalRoute is not supported by the bus.
func (b *Backend) RemoveExternalRoute(string, messaging.ExternalRoute) bool {
	return false
}

// OnMessage publishes msg on the channel of its recipient.
func (b *Backend) OnMessage(msg comm.Msg) bool {
	if b.client == nil || !b.IsConnected() {
		b.logger.Warn("bus is disconnected, dropping message",
			"message_id", msg.Meta().ID)
		return false
	}

	payload, err := b.codec.Encode(msg, b.codec.Version())
	if err != nil {
		b.logger.Error("encoding message failed",
			"message_id", msg.Meta().ID, "error", err)
		return false
	}

	channel := b.ChannelName(msg.Meta().Recipient.RoutingKey())
	client := b.client

	b.publishing.Add(1)
	go func() {
		defer b.publishing.Add(-1)

		ctx, cancel := context.WithTimeout(
			context.Background(), requestTimeout)
		defer cancel()

		if err := client.Publish(ctx, channel, payload).Err(); err != nil {
			b.logger.Warn("publish failed", "channel", channel,
				"message_id", msg.Meta().ID, "error", err)
		}
	}()

	return true
}

func (b *Backend) open() {
	b.client = redis.NewClient(&redis.Options{
		Addr:     b.addr,
		Password: b.password,
		DB:       b.db,
	})

	b.ping()
}

// resubscribe replaces the subscription with one covering every bound key.
// Talking to the server is left to the subscriber.
func (b *Backend) resubscribe() {
	b.closeSubscription()

	channels := make([]string, 0, len(b.subs))
	for key := range b.subs {
		channels = append(channels, b.ChannelName(key))
	}

	ps := b.client.Subscribe(context.Background())

	var sub *subscriber
	sub = newSubscriber(ps, func(err error) {
		b.engine.CallNext(func() { b.subscriptionFailed(sub, err) })
	})
	sub.subscribe(channels...)

	b.sub = sub
	go b.receive(ps)
}

// subscriptionFailed drops a subscription the server did not take and
// reconnects.
func (b *Backend) subscriptionFailed(sub *subscriber, err error) {
	if b.closed.Load() || sub != b.sub {
		return
	}

	b.logger.Warn("subscription failed, reconnecting",
		"addr", b.addr, "error", err)

	if b.pinger != nil {
		b.pinger.Cancel()
		b.pinger = nil
	}

	b.closeSubscription()

	if b.IsConnected() {
		b.OnDisconnected()
	}

	b.retrier.Schedule(retryKey, b.ping)
}

func (b *Backend) closeSubscription() {
	if b.sub != nil {
		b.sub.stop()
		b.sub = nil
	}
}

func (b *Backend) close() {
	if b.pinger != nil {
		b.pinger.Cancel()
		b.pinger = nil
	}

	b.closeSubscription()

	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
}

func (b *Backend) subscribe(channel string) {
	if b.sub == nil {
		return
	}

	b.sub.subscribe(channel)
}

func (b *Backend) receive(ps *redis.PubSub) {
	for m := range ps.Channel() {
		msg, err := b.codec.Decode([]byte(m.Payload))
		if err != nil {
			b.logger.Error("dropping undecodable message",
				"channel", m.Channel, "error", err)
			continue
		}

		b.msging.Dispatch(msg, false)
	}
}

// ping checks the server off the loop and reports back on it.
func (b *Backend) ping() {
	client := b.client

	go func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), requestTimeout)
		defer cancel()

		err := client.Ping(ctx).Err()
		b.engine.CallNext(func() { b.pingDone(client, err) })
	}()
}

func (b *Backend) pingDone(client *redis.Client, err error) {
	if b.closed.Load() || client != b.client {
		return
	}

	if err != nil {
		if b.IsConnected() {
			b.logger.Warn("lost the bus server", "addr", b.addr, "error", err)
			b.closeSubscription()
			b.OnDisconnected()
		}

		delay := b.retrier.Schedule(retryKey, b.ping)
		b.logger.Debug("bus server unreachable", "addr", b.addr,
			"retry_in", delay)

		return
	}

	if !b.IsConnected() {
		b.retrier.Reset(retryKey)
		b.resubscribe()

		b.logger.Info("connected to the bus server", "addr", b.addr)
		b.OnConnected()
	}

	b.pinger = b.engine.CallLater(b.pingInterval, b.ping)
}
