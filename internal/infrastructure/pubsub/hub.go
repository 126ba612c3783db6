// Package pubsub fans values out to in-process subscribers.
package pubsub

import (
	"log/slog"
	"sync"
)

// Global is the topic whose subscribers receive every published value.
const Global = ""

// Hub delivers published values per topic. Publish never blocks: each
// subscriber drains its own FIFO mailbox on a dedicated goroutine.
type Hub[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string]map[uint64]*subscriber[T]
	logger *slog.Logger
}

type subscriber[T any] struct {
	topic  string
	fn     func(T)
	logger *slog.Logger

	mu      sync.Mutex
	mailbox []T
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewHub[T any](logger *slog.Logger) *Hub[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{
		topics: make(map[string]map[uint64]*subscriber[T]),
		logger: logger,
	}
}

// Subscribe registers fn for topic. Use Global to receive every value.
func (h *Hub[T]) Subscribe(topic string, fn func(T)) func() {
	sub := &subscriber[T]{
		topic:  topic,
		fn:     fn,
		logger: h.logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]*subscriber[T])
	}
	h.topics[topic][id] = sub
	h.mu.Unlock()

	go sub.run()

	return func() {
		h.mu.Lock()
		if subs := h.topics[topic]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
		h.mu.Unlock()
		sub.stop()
	}
}

// Publish delivers value to subscribers of topic and to Global subscribers.
func (h *Hub[T]) Publish(topic string, value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.topics[topic] {
		sub.enqueue(value)
	}
	if topic == Global {
		return
	}
	for _, sub := range h.topics[Global] {
		sub.enqueue(value)
	}
}

// Subscribers reports the number of live subscriptions on topic.
func (h *Hub[T]) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub[T]) Close() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]map[uint64]*subscriber[T])
	h.mu.Unlock()
	for _, subs := range topics {
		for _, sub := range subs {
			sub.stop()
		}
	}
}

func (s *subscriber[T]) enqueue(value T) {
	s.mu.Lock()
	s.mailbox = append(s.mailbox, value)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}
		for {
			s.mu.Lock()
			if len(s.mailbox) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.mailbox
			s.mailbox = nil
			s.mu.Unlock()

			for _, value := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.deliver(value)
			}
		}
	}
}

func (s *subscriber[T]) deliver(value T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber_panic", "topic", s.topic, "panic", r)
		}
	}()
	s.fn(value)
}
