package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
)

// Completion describes how a download ended.
type Completion struct {
	Object   ObjectID
	JobID    string
	WorkerID string
	Bytes    int64
	Err      error
	Duration time.Duration
}

func (c Completion) Succeeded() bool {
	return c.Err == nil
}

// Callback reacts to a finished download. It must be safe to call for the same
// object more than once.
type Callback func(ctx context.Context, c Completion)

// CallbackChain runs callbacks in registration order. A panicking callback is
// logged and does not stop the ones after it.
type CallbackChain struct {
	callbacks []Callback
}

func NewCallbackChain(callbacks ...Callback) *CallbackChain {
	out := make([]Callback, 0, len(callbacks))
	for _, cb := range callbacks {
		if cb != nil {
			out = append(out, cb)
		}
	}
	return &CallbackChain{callbacks: out}
}

func (c *CallbackChain) Run(ctx context.Context, comp Completion) {
	if c == nil {
		return
	}
	for i, cb := range c.callbacks {
		runCallback(ctx, i, cb, comp)
	}
}

func (c *CallbackChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.callbacks)
}

func runCallback(ctx context.Context, idx int, cb Callback, comp Completion) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("callbacks", "callback panicked", "index", idx, "object", comp.Object, "panic", fmt.Sprint(r))
		}
	}()
	cb(ctx, comp)
}

// CleanupCallback releases the bookkeeping for a finished download: the
// registry entry (only if it still belongs to this worker), then the waiting
// entry, then the worker's cancellation handle.
func CleanupCallback(waiting *WaitingSet, registry *Registry, m Metrics) Callback {
	if m == nil {
		m = noopMetrics{}
	}
	return func(_ context.Context, c Completion) {
		entry, owned := registry.Release(c.Object, c.WorkerID)
		if owned {
			waiting.Remove(c.Object)
			entry.Cancel()
		}
		m.SetInFlight(registry.Len())
		m.SetWaiting(waiting.Len())
	}
}

// NotifyCallback tells interested parties that an object is now cached.
// Failed downloads are skipped. Either dependency may be nil.
func NotifyCallback(requesters Requesters, publisher Publisher) Callback {
	return func(ctx context.Context, c Completion) {
		if !c.Succeeded() {
			return
		}
		var who []string
		if requesters != nil {
			drained, err := requesters.Drain(ctx, c.Object)
			if err != nil {
				logging.Error("notify", "drain requesters failed", "object", c.Object, "error", err)
			}
			who = drained
		}
		if publisher == nil {
			return
		}
		evt := Availability{
			Object:     c.Object,
			JobID:      c.JobID,
			Bytes:      c.Bytes,
			Requesters: who,
			At:         time.Now().UTC(),
		}
		if err := publisher.PublishAvailable(ctx, evt); err != nil {
			logging.Error("notify", "publish availability failed", "object", c.Object, "error", err)
			return
		}
		logging.Info("notify", "object available", "object", c.Object, "requesters", len(who))
	}
}
