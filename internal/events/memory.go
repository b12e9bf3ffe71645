package events

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

var errMemoryClosed = errors.New("events: memory backend closed")

// Memory is an in-process Backend. Every subscriber of a channel receives
// every message published after it subscribed. It also records all published
// messages, which tests read back with Messages.
type Memory struct {
	mu        sync.Mutex
	subs      map[string][]chan Message
	published []Message
	seq       int
	closed    bool
	done      chan struct{}
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		subs: make(map[string][]chan Message),
		done: make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errMemoryClosed
	}
	m.seq++
	msg := Message{
		ID:         strconv.Itoa(m.seq),
		Data:       append([]byte(nil), data...),
		Attributes: copyAttrs(attrs),
	}
	m.published = append(m.published, msg)
	subs := append([]chan Message(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-m.done:
			return msg.ID, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return msg.ID, nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch := make(chan Message, 64)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMemoryClosed
	}
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	defer m.unsubscribe(channel, ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case msg := <-ch:
			// There is no broker to redeliver to, so handler errors are
			// dropped.
			_ = handler(ctx, msg)
		}
	}
}

func (m *Memory) unsubscribe(channel string, ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[channel]
	for i, c := range subs {
		if c == ch {
			m.subs[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (m *Memory) subscriberCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}

// Messages returns everything published so far, oldest first.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// Close stops all subscribers. It is safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func copyAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
