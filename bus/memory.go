package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed atomic.Bool
}

type memorySub struct {
	subject string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config: cfg,
		subs:   make(map[string][]*memorySub),
	}
}

// Publish sends a message to all subscribers of subject.
// Subscribers whose buffer is full miss the message.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[subject] {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	return sub, nil
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.ch)
			}
		}
	}
	b.subs = nil

	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	close(s.ch)
	return nil
}
