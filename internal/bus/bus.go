// Package bus carries the monitor's message contract between components:
// request/reply for fetch and scrape commands, broadcast for data updates.
// It is in-process, but every message is validated at the boundary so the
// contract stays honest.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IshaanNene/FeedStalk/internal/types"
)

// Handler services one request message and returns the reply.
type Handler func(ctx context.Context, msg types.Message) (types.Message, error)

// Bus routes messages. At most one handler per message type; any number of
// broadcast subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[types.MessageType]Handler
	subs     map[int]func(types.Message)
	nextSub  int
	logger   *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[types.MessageType]Handler),
		subs:     make(map[int]func(types.Message)),
		logger:   logger.With("component", "bus"),
	}
}

// Handle registers the handler for a message type, replacing any previous
// one.
func (b *Bus) Handle(t types.MessageType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = h
}

// Request delivers a message to its handler and returns the reply. The
// request is validated before delivery; a missing handler is a delivery
// failure, not a panic.
func (b *Bus) Request(ctx context.Context, msg types.Message) (types.Message, error) {
	if err := msg.Validate(); err != nil {
		return types.Message{}, err
	}

	b.mu.RLock()
	h, ok := b.handlers[msg.Type]
	b.mu.RUnlock()
	if !ok {
		return types.Message{}, fmt.Errorf("%w: %s", types.ErrNoHandler, msg.Type)
	}

	reply, err := h(ctx, msg)
	if err != nil {
		return types.Message{}, err
	}
	return reply, nil
}

// Publish broadcasts a message to all subscribers. Fire-and-forget: having
// no subscribers is not an error, and subscriber panics are not recovered.
// Invalid messages are dropped with a warning rather than delivered.
func (b *Bus) Publish(msg types.Message) {
	if err := msg.Validate(); err != nil {
		b.logger.Warn("invalid broadcast dropped", "type", string(msg.Type), "error", err)
		return
	}

	b.mu.RLock()
	subs := make([]func(types.Message), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// Subscribe registers a broadcast listener and returns its unsubscribe
// function.
func (b *Bus) Subscribe(fn func(types.Message)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
