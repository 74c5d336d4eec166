package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc consumes one event. Returning an error marks the handler's
// outcome as failed; it does not stop other handlers.
type HandlerFunc func(ctx context.Context, event Event) error

type subscriber struct {
	name    string
	handler HandlerFunc
}

// HandlerResult is the outcome of one handler invocation during Publish.
type HandlerResult struct {
	Handler string
	Err     error
}

// Bus is a minimal in-process publish/subscribe mechanism. Publish invokes
// all handlers for the event's type synchronously in registration order;
// each invocation is isolated so a failing or panicking handler never
// prevents the remaining handlers from running and never propagates to the
// publisher. Failures surface both in the zap log and in the returned
// per-handler results.
//
// Registration is expected at startup; the subscriber map is still guarded
// so concurrent request goroutines can publish safely.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]subscriber
	logger      *zap.Logger
}

// NewBus builds an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[Type][]subscriber),
		logger:      logger,
	}
}

// Subscribe registers a named handler for the event type. The name
// identifies the handler in publish results and logs.
func (b *Bus) Subscribe(eventType Type, name string, handler HandlerFunc) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{name: name, handler: handler})
}

// Publish fans the event out to every handler registered for its type and
// returns one result per handler in invocation order.
func (b *Bus) Publish(ctx context.Context, event Event) []HandlerResult {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers[event.Type()]...)
	b.mu.RUnlock()

	results := make([]HandlerResult, 0, len(subs))
	for _, sub := range subs {
		err := b.invoke(ctx, sub, event)
		if err != nil {
			b.logger.Error("event handler failed",
				zap.String("event_type", string(event.Type())),
				zap.String("handler", sub.name),
				zap.Error(err),
			)
		}
		results = append(results, HandlerResult{Handler: sub.name, Err: err})
	}
	return results
}

func (b *Bus) invoke(ctx context.Context, sub subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}
