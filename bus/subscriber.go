package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

type subChange struct {
	subscribe bool
	channels  []string
}

// subscriber applies subscription changes to one pub/sub connection off the
// event loop, in the order they were requested.
type subscriber struct {
	ps     *redis.PubSub
	failed func(err error)

	lock    sync.Mutex
	pending []subChange
	wake    chan struct{}
	done    chan struct{}
}

func newSubscriber(ps *redis.PubSub, failed func(err error)) *subscriber {
	s := &subscriber{
		ps:     ps,
		failed: failed,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go s.run()

	return s
}

func (s *subscriber) subscribe(channels ...string) {
	s.push(subChange{subscribe: true, channels: channels})
}

func (s *subscriber) unsubscribe(channels ...string) {
	s.push(subChange{channels: channels})
}

func (s *subscriber) push(c subChange) {
	if len(c.channels) == 0 {
		return
	}

	s.lock.Lock()
	s.pending = append(s.pending, c)
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (subChange, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.pending) == 0 {
		return subChange{}, false
	}

	c := s.pending[0]
	s.pending = s.pending[1:]

	return c, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			c, ok := s.pop()
			if !ok {
				break
			}

			if err := s.apply(c); err != nil {
				select {
				case <-s.done:
				default:
					s.failed(err)
				}

				return
			}
		}
	}
}

func (s *subscriber) apply(c subChange) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if c.subscribe {
		return s.ps.Subscribe(ctx, c.channels...)
	}

	return s.ps.Unsubscribe(ctx, c.channels...)
}

// stop discards the pending changes and closes the connection. Closing
// waits for a change in flight, so it happens off the loop too.
func (s *subscriber) stop() {
	close(s.done)

	go func() {
		_ = s.ps.Close()
	}()
}
