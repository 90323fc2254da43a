package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Handler reacts to lifecycle events.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Bus delivers events to its subscribers.
//
// By default Publish runs every handler before returning and reports their
// errors. With WithAsyncPropagation, Publish hands events to a worker pool
// and returns immediately; handler errors are logged. Deletions are always
// delivered synchronously so no records outlive their document.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	pool     *ants.Pool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus) error

// WithAsyncPropagation delivers events through a worker pool of the given size.
func WithAsyncPropagation(poolSize int) BusOption {
	return func(b *Bus) error {
		if poolSize < 1 {
			poolSize = 1
		}
		if b.pool != nil {
			b.pool.Release()
		}
		pool, err := ants.NewPool(poolSize)
		if err != nil {
			return err
		}
		b.pool = pool
		return nil
	}
}

// WithBusLogger sets a custom logger.
// Default is slog.Default().
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) error {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
		return nil
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) (*Bus, error) {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			b.Release()
			return nil, err
		}
	}
	b.logger = b.logger.With("component", "lifecycle-bus")
	return b, nil
}

// Subscribe adds a handler. Handlers run in subscription order.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Async reports whether events are delivered through a worker pool.
func (b *Bus) Async() bool {
	return b.pool != nil
}

// Publish delivers ev to every handler.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if b.pool == nil || ev.Kind == EventDeleted {
		return b.deliver(ctx, ev)
	}

	b.wg.Add(1)
	err := b.pool.Submit(func() {
		defer b.wg.Done()
		if err := b.deliver(context.WithoutCancel(ctx), ev); err != nil {
			b.logger.Error("error propagating event", "event", ev.Kind, "documentID", ev.DocumentID, "err", err)
		}
	})
	if err != nil {
		b.wg.Done()
		return fmt.Errorf("submitting %s event: %w", ev.Kind, err)
	}
	return nil
}

// Wait blocks until every asynchronously published event has been delivered.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Release waits for pending deliveries and stops the worker pool.
func (b *Bus) Release() {
	b.wg.Wait()
	if b.pool != nil {
		b.pool.Release()
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
