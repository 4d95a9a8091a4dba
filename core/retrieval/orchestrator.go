package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
	"golang.org/x/sync/singleflight"
)

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Capacity      int
	SubmitTimeout time.Duration
	Poller        PollerConfig
	Metrics       Metrics
	// Requesters and Publisher feed the availability callback; both optional.
	Requesters Requesters
	Publisher  Publisher
	// Callbacks run after cleanup and the availability callback.
	Callbacks []Callback
}

// Status is a point-in-time view of pending and running retrievals.
type Status struct {
	Waiting  []Waiting  `json:"waiting"`
	InFlight []InFlight `json:"in_flight"`
	Capacity int        `json:"capacity"`
}

// Orchestrator serves lookups from the cache and drives retrievals for misses.
type Orchestrator struct {
	archive    Archive
	cache      Cache
	waiting    *WaitingSet
	registry   *Registry
	submitter  *Submitter
	poller     *Poller
	chain      *CallbackChain
	requesters Requesters
	metrics    Metrics
	flights    singleflight.Group

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	workers sync.WaitGroup
}

func New(archive Archive, cache Cache, source NotificationSource, opts Options) *Orchestrator {
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 10
	}
	o := &Orchestrator{
		archive:    archive,
		cache:      cache,
		waiting:    NewWaitingSet(),
		registry:   NewRegistry(opts.Capacity),
		submitter:  NewSubmitter(archive, opts.SubmitTimeout, opts.Metrics),
		requesters: opts.Requesters,
		metrics:    opts.Metrics,
	}
	callbacks := []Callback{
		CleanupCallback(o.waiting, o.registry, opts.Metrics),
		NotifyCallback(opts.Requesters, opts.Publisher),
	}
	o.chain = NewCallbackChain(append(callbacks, opts.Callbacks...)...)
	o.poller = NewPoller(source, o.waiting, o.registry, o.launch, opts.Poller, opts.Metrics)
	return o
}

func (o *Orchestrator) launch(ctx context.Context, entry InFlight) {
	w := &downloadWorker{
		entry:    entry,
		archive:  o.archive,
		cache:    o.cache,
		chain:    o.chain,
		metrics:  o.metrics,
		registry: o.registry,
	}
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		w.run(ctx)
	}()
}

// Start launches the notification poller. Downloads started by the poller
// inherit a context derived from ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyStarted
	}
	rootCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	go o.poller.Run(rootCtx)
	logging.Info("orchestrator", "started", "capacity", o.registry.Cap())
	return nil
}

// Run starts the orchestrator and blocks until ctx is done, then shuts down.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	o.Shutdown()
	return nil
}

// Shutdown stops the poller, cancels every in-flight download and forgets all
// pending retrievals. It does not wait for downloads to drain.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.running = false
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	inFlight := o.registry.Snapshot()
	for _, entry := range inFlight {
		entry.Cancel()
	}
	o.registry.Clear()
	o.waiting.Clear()
	o.metrics.SetInFlight(0)
	o.metrics.SetWaiting(0)
	logging.Info("orchestrator", "shutdown", "cancelled_downloads", len(inFlight))
}

// LookupOption customizes a single Lookup call.
type LookupOption func(*lookupOptions)

type lookupOptions struct {
	requester string
}

// WithRequester records who should be told once the object is available.
func WithRequester(id string) LookupOption {
	return func(o *lookupOptions) {
		o.requester = id
	}
}

// Lookup returns a reader over the cached object. On a miss it ensures a
// retrieval is pending and returns ErrDeferred; a failed submission returns an
// error wrapping ErrServiceUnavailable.
func (o *Orchestrator) Lookup(ctx context.Context, obj ObjectID, opts ...LookupOption) (io.ReadCloser, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	var lo lookupOptions
	for _, opt := range opts {
		opt(&lo)
	}

	rc, err := o.cache.Open(ctx, obj)
	if err == nil {
		o.metrics.IncLookups("hit")
		return rc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		o.metrics.IncLookups("error")
		return nil, fmt.Errorf("open cache %s: %w", obj, err)
	}

	if lo.requester != "" && o.requesters != nil {
		if err := o.requesters.Add(ctx, obj, lo.requester); err != nil {
			logging.Error("orchestrator", "record requester failed", "object", obj, "requester", lo.requester, "error", err)
		}
	}

	if o.waiting.Contains(obj) || o.registry.Contains(obj) {
		o.metrics.IncLookups("deferred")
		return nil, ErrDeferred
	}

	// Joined callers share this submission, so it must outlive the first caller.
	flightCtx := context.WithoutCancel(ctx)
	cached, err, _ := o.flights.Do(obj.String(), func() (any, error) {
		if o.waiting.Contains(obj) {
			return false, nil
		}
		// A download may have finished between the miss and now.
		if ok, err := o.cache.Exists(flightCtx, obj); err == nil && ok {
			return true, nil
		}
		job, err := o.submitter.Submit(flightCtx, obj)
		if err != nil {
			return false, err
		}
		o.waiting.TryAdd(obj, job.ID)
		o.metrics.SetWaiting(o.waiting.Len())
		return false, nil
	})
	if err != nil {
		o.metrics.IncLookups("unavailable")
		return nil, err
	}
	if hit, _ := cached.(bool); hit {
		rc, err := o.cache.Open(ctx, obj)
		if err == nil {
			o.metrics.IncLookups("hit")
			return rc, nil
		}
		if !errors.Is(err, ErrNotFound) {
			o.metrics.IncLookups("error")
			return nil, fmt.Errorf("open cache %s: %w", obj, err)
		}
	}
	o.metrics.IncLookups("deferred")
	return nil, ErrDeferred
}

// Delete removes an object from the archive. The waiting entry is dropped
// first, then any download in flight is cancelled and forgotten, then the
// cached copy is removed and the archive delete is issued.
func (o *Orchestrator) Delete(ctx context.Context, obj ObjectID) error {
	if err := obj.Validate(); err != nil {
		return err
	}
	o.waiting.Remove(obj)
	if entry, ok := o.registry.Remove(obj); ok {
		entry.Cancel()
		logging.Info("orchestrator", "cancelled download for deleted object", "object", obj, "worker_id", entry.WorkerID)
	}
	o.metrics.SetInFlight(o.registry.Len())
	o.metrics.SetWaiting(o.waiting.Len())

	if err := o.cache.Delete(ctx, obj); err != nil {
		return fmt.Errorf("delete cached %s: %w", obj, err)
	}
	if err := o.archive.DeleteArchive(ctx, obj); err != nil {
		return fmt.Errorf("%w: delete archive %s: %w", ErrServiceUnavailable, obj, err)
	}
	logging.Info("orchestrator", "archive deleted", "object", obj)
	return nil
}

func (o *Orchestrator) Status() Status {
	return Status{
		Waiting:  o.waiting.Snapshot(),
		InFlight: o.registry.Snapshot(),
		Capacity: o.registry.Cap(),
	}
}
