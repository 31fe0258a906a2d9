package broker

import (
	"context"
	"sync"
)

const subscriptionBuffer = 256

// LocalBroker delivers envelopes between goroutines of one process. Publish
// blocks while a subscriber's buffer is full.
type LocalBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*localSub]struct{}
	closed bool
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{topics: make(map[string]map[*localSub]struct{})}
}

type localSub struct {
	broker *LocalBroker
	topic  string
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
}

func (s *localSub) C() <-chan Envelope { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
	return nil
}

func (b *LocalBroker) Subscribe(_ context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &localSub{
		broker: b,
		topic:  topic,
		ch:     make(chan Envelope, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*localSub]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return s, nil
}

// remove unregisters s and closes its channel. Publishers hold the read lock
// while sending, so the channel is never closed under them.
func (b *LocalBroker) remove(s *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[s.topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.topics, s.topic)
	}
	close(s.ch)
}

func (b *LocalBroker) Publish(ctx context.Context, topic string, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for s := range b.topics[topic] {
		select {
		case s.ch <- env:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close ends every subscription. Blocked publishers are released before the
// write lock is taken.
func (b *LocalBroker) Close() error {
	b.mu.RLock()
	var all []*localSub
	for _, subs := range b.topics {
		for s := range subs {
			all = append(all, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range all {
		s.once.Do(func() { close(s.done) })
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for s := range subs {
			s.once.Do(func() { close(s.done) })
			close(s.ch)
		}
		delete(b.topics, topic)
	}
	return nil
}
