package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops buffered log output.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// queued pairs a record with the handler that must format it, so records
// from WithAttrs/WithGroup derivatives keep their attributes.
type queued struct {
	h   slog.Handler
	rec slog.Record
}

// asyncCore is shared by an AsyncHandler and every handler derived from it.
type asyncCore struct {
	ch      chan queued
	wg      sync.WaitGroup
	dropped atomic.Int64
	root    slog.Handler

	mu     sync.RWMutex // held for reading while sending on ch
	closed bool
}

// AsyncHandler moves formatting and writing off the caller's goroutine.
// Records below slog.LevelError are dropped when the buffer is full so
// agent processing never stalls on log output; errors wait for space.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity
// and worker count.
func NewAsyncHandler(inner slog.Handler, bufferSize, workers int) *AsyncHandler {
	core := &asyncCore{ch: make(chan queued, bufferSize), root: inner}
	for range max(workers, 1) {
		core.wg.Add(1)
		go core.drain()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) drain() {
	defer c.wg.Done()
	for q := range c.ch {
		_ = q.h.Handle(context.Background(), q.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle queues rec. After Close, records are written synchronously.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.core.mu.RLock()
	defer h.core.mu.RUnlock()
	if h.core.closed {
		return h.inner.Handle(ctx, rec)
	}
	q := queued{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		select {
		case h.core.ch <- q:
		case <-ctx.Done():
			h.core.dropped.Add(1)
		}
		return nil
	}
	select {
	case h.core.ch <- q:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns the number of records dropped so far.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close drains the buffer and waits for the workers. The drop count, if
// any, is reported through the root handler. Close is idempotent.
func (h *AsyncHandler) Close() {
	c := h.core
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()

	c.wg.Wait()
	if n := c.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log records dropped", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = c.root.Handle(context.Background(), rec)
	}
}
